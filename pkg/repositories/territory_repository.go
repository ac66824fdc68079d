package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

const territoriesTable = "territories"

var territoryStruct = database.NewStruct(new(models.Territory))

// TerritoryFilters narrows List results. Zero values impose no filter.
type TerritoryFilters struct {
	County string
	State  string
	City   string
	Type   models.TerritoryType
	Status models.TerritoryStatus
}

// TerritoryRepository handles database operations for territories
type TerritoryRepository struct {
	*Repository
}

// NewTerritoryRepository creates a new territory repository
func NewTerritoryRepository(db database.DB, logger ectologger.Logger) *TerritoryRepository {
	return &TerritoryRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new territory in open status at version 1
func (r *TerritoryRepository) Create(ctx context.Context, territory *models.Territory) error {
	ctx, span := tracing.StartSpan(ctx, "TerritoryRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	territory.TenantID = tenantID

	if territory.ID == uuid.Nil {
		territory.ID = uuid.New()
	}
	territory.Status = models.TerritoryStatusOpen
	territory.Version = 1

	ib := database.NewInsertBuilder()
	ib.InsertInto(territoriesTable).
		Cols("id", "tenant_id", "name", "county", "state", "city", "zip_codes", "type", "status",
			"assigned_professional_id", "exclusivity_fee", "protected_at", "protection_expires_at",
			"version", "created_at", "updated_at").
		Values(territory.ID, territory.TenantID, territory.Name, territory.County, territory.State,
			territory.City, territory.ZipCodes, territory.Type, territory.Status,
			territory.AssignedProfessionalID, territory.ExclusivityFee, territory.ProtectedAt, territory.ProtectionExpiresAt,
			territory.Version, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&territory.CreatedAt, &territory.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": territory.ID,
		}).Error("failed to create territory")
		return StorageErr(err, "failed to create territory")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"territory_id": territory.ID,
	}).Debugf("Created %s", territoriesTable)
	return nil
}

// GetByID retrieves a territory by ID (tenant-scoped)
func (r *TerritoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := territoryStruct.SelectFrom(territoriesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var territory models.Territory
	err = r.DB().GetContext(ctx, &territory, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("territory %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": id,
		}).Error("failed to get territory")
		return nil, StorageErr(err, "failed to get territory")
	}

	return &territory, nil
}

// List retrieves territories matching the filters
func (r *TerritoryRepository) List(ctx context.Context, filters TerritoryFilters) ([]models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := territoryStruct.SelectFrom(territoriesTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if filters.County != "" {
		sb.Where(sb.Equal("county", filters.County))
	}
	if filters.State != "" {
		sb.Where(sb.Equal("state", filters.State))
	}
	if filters.City != "" {
		sb.Where(sb.Equal("city", filters.City))
	}
	if filters.Type != "" {
		sb.Where(sb.Equal("type", filters.Type))
	}
	if filters.Status != "" {
		sb.Where(sb.Equal("status", filters.Status))
	}
	sb.OrderBy("name")

	query, args := sb.Build()
	var territories []models.Territory
	err = r.DB().SelectContext(ctx, &territories, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list territories")
		return nil, StorageErr(err, "failed to list territories")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"territory_count": len(territories),
	}).Debugf("Listed %s", territoriesTable)
	return territories, nil
}

// UpdateClaim applies a claim mutation (assignment, protection, release)
// conditionally on the version the caller read. The update matches only when
// the stored version equals territory.Version; on success the version is
// bumped and written back to the struct. Returns ErrStaleUpdate when the row
// was concurrently modified or does not exist; the caller re-reads to tell
// the two apart. This conditional write is the storage primitive that
// serializes competing claims on a single territory.
func (r *TerritoryRepository) UpdateClaim(ctx context.Context, territory *models.Territory) error {
	ctx, span := tracing.StartSpan(ctx, "TerritoryRepository.UpdateClaim")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(territoriesTable).
		Set(
			ub.Assign("status", territory.Status),
			ub.Assign("assigned_professional_id", territory.AssignedProfessionalID),
			ub.Assign("exclusivity_fee", territory.ExclusivityFee),
			ub.Assign("protected_at", territory.ProtectedAt),
			ub.Assign("protection_expires_at", territory.ProtectionExpiresAt),
			ub.Assign("version", territory.Version+1),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("tenant_id", tenantID),
			ub.Equal("id", territory.ID),
			ub.Equal("version", territory.Version),
		)

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": territory.ID,
		}).Error("failed to update territory claim")
		return StorageErr(err, "failed to update territory claim")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": territory.ID,
		}).Error("failed to update territory claim")
		return StorageErr(err, "failed to update territory claim")
	}
	if rows == 0 {
		return ErrStaleUpdate
	}

	territory.Version++
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"territory_id": territory.ID,
		"status":       territory.Status,
	}).Debugf("Updated claim on %s", territoriesTable)
	return nil
}

// DeleteByTenantID deletes all territories for a tenant (for testing cleanup)
func (r *TerritoryRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(territoriesTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
		}).Error("failed to delete territories by tenant")
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
