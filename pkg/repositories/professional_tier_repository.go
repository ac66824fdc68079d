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

const professionalTiersTable = "professional_tiers"

var professionalTierStruct = database.NewStruct(new(models.ProfessionalTier))

// TierCount is an analytics aggregate row.
type TierCount struct {
	Tier           models.Tier `db:"tier"`
	Count          int         `db:"count"`
	AverageRevenue float64     `db:"average_revenue"`
}

// ProfessionalTierRepository handles database operations for tier records
type ProfessionalTierRepository struct {
	*Repository
}

// NewProfessionalTierRepository creates a new professional tier repository
func NewProfessionalTierRepository(db database.DB, logger ectologger.Logger) *ProfessionalTierRepository {
	return &ProfessionalTierRepository{
		Repository: NewRepository(db, logger),
	}
}

// Init creates the tier record for a professional if absent. Idempotent:
// concurrent calls race on ON CONFLICT DO NOTHING and both re-read the one
// surviving row.
func (r *ProfessionalTierRepository) Init(ctx context.Context, professionalID uuid.UUID) (*models.ProfessionalTier, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.Init")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(professionalTiersTable).
		Cols("professional_id", "tenant_id", "tier", "qualifying_revenue",
			"tier_entered_at", "created_at", "updated_at").
		Values(professionalID, tenantID, models.TierBronze, 0.0,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ib.OnConflictDoNothing("professional_id", "tenant_id")

	query, args := ib.Build()
	_, err = database.QuerierFrom(ctx, r.DB()).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"professional_id": professionalID,
		}).Error("failed to initialize professional tier")
		return nil, StorageErr(err, "failed to initialize professional tier")
	}

	return r.GetByProfessionalID(ctx, professionalID)
}

// GetByProfessionalID retrieves a tier record (tenant-scoped). Joins any
// transaction open on the context.
func (r *ProfessionalTierRepository) GetByProfessionalID(ctx context.Context, professionalID uuid.UUID) (*models.ProfessionalTier, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.GetByProfessionalID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := professionalTierStruct.SelectFrom(professionalTiersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("professional_id", professionalID))

	query, args := sb.Build()
	var tier models.ProfessionalTier
	err = database.QuerierFrom(ctx, r.DB()).GetContext(ctx, &tier, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("professional %s has no tier record", professionalID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"professional_id": professionalID,
		}).Error("failed to get professional tier")
		return nil, StorageErr(err, "failed to get professional tier")
	}

	return &tier, nil
}

// UpdateRevenueAndTier persists a recomputed revenue total and tier.
// tier_entered_at resets only when the tier itself changed. Joins the
// transaction open on the context so the write commits atomically with the
// event-processed marker.
func (r *ProfessionalTierRepository) UpdateRevenueAndTier(ctx context.Context, professionalID uuid.UUID, revenue float64, tier models.Tier, tierChanged bool) error {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.UpdateRevenueAndTier")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("qualifying_revenue", revenue),
		ub.Assign("tier", tier),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if tierChanged {
		assignments = append(assignments, ub.Assign("tier_entered_at", sqlbuilder.Raw("NOW()")))
	}
	ub.Update(professionalTiersTable).
		Set(assignments...).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("professional_id", professionalID))

	query, args := ub.Build()
	result, err := database.QuerierFrom(ctx, r.DB()).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"professional_id": professionalID,
		}).Error("failed to update professional tier")
		return StorageErr(err, "failed to update professional tier")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return StorageErr(err, "failed to update professional tier")
	}
	if rows == 0 {
		return NotFound("professional %s has no tier record", professionalID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"professional_id":    professionalID,
		"tier":               tier,
		"qualifying_revenue": revenue,
	}).Debugf("Updated %s", professionalTiersTable)
	return nil
}

// MarkRevenueEventProcessed records a revenue event id, returning false when
// the event was already processed. Joins the transaction open on the context
// so the marker and the revenue update commit as one unit; redelivered events
// then become no-ops.
func (r *ProfessionalTierRepository) MarkRevenueEventProcessed(ctx context.Context, eventID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.MarkRevenueEventProcessed")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return false, err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("revenue_events").
		Cols("event_id", "tenant_id", "processed_at").
		Values(eventID, tenantID, sqlbuilder.Raw("NOW()"))
	ib.OnConflictDoNothing("event_id")

	query, args := ib.Build()
	result, err := database.QuerierFrom(ctx, r.DB()).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id": eventID,
		}).Error("failed to mark revenue event processed")
		return false, StorageErr(err, "failed to mark revenue event processed")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, StorageErr(err, "failed to mark revenue event processed")
	}
	return rows > 0, nil
}

// CountByTier aggregates tier membership and average qualifying revenue for
// the tenant.
func (r *ProfessionalTierRepository) CountByTier(ctx context.Context) ([]TierCount, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.CountByTier")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("tier", "COUNT(*) AS count", "COALESCE(AVG(qualifying_revenue), 0) AS average_revenue").
		From(professionalTiersTable).
		Where(sb.Equal("tenant_id", tenantID)).
		GroupBy("tier")

	query, args := sb.Build()
	var counts []TierCount
	err = r.DB().SelectContext(ctx, &counts, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count professionals by tier")
		return nil, StorageErr(err, "failed to count professionals by tier")
	}

	return counts, nil
}

// DeleteByTenantID deletes all tier records for a tenant (for testing cleanup)
func (r *ProfessionalTierRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ProfessionalTierRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(professionalTiersTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
