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

const competitorsTable = "competitors"

var competitorStruct = database.NewStruct(new(models.Competitor))

// CompetitorFilters narrows List results. Zero values impose no filter.
type CompetitorFilters struct {
	TerritoryID *uuid.UUID
	City        string
	State       string
	Type        string
	ThreatLevel models.ThreatLevel
}

// ThreatLevelCount is a dashboard aggregate row.
type ThreatLevelCount struct {
	ThreatLevel models.ThreatLevel `db:"threat_level"`
	Count       int                `db:"count"`
}

// CompetitorRepository handles database operations for competitors
type CompetitorRepository struct {
	*Repository
}

// NewCompetitorRepository creates a new competitor repository
func NewCompetitorRepository(db database.DB, logger ectologger.Logger) *CompetitorRepository {
	return &CompetitorRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new competitor at threat level low
func (r *CompetitorRepository) Create(ctx context.Context, competitor *models.Competitor) error {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	competitor.TenantID = tenantID

	if competitor.ID == uuid.Nil {
		competitor.ID = uuid.New()
	}
	if competitor.ThreatLevel == "" {
		competitor.ThreatLevel = models.ThreatLevelLow
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(competitorsTable).
		Cols("id", "tenant_id", "name", "type", "city", "state", "territory_id",
			"threat_level", "jobs_won", "jobs_lost", "value_won", "value_lost",
			"created_at", "updated_at").
		Values(competitor.ID, competitor.TenantID, competitor.Name, competitor.Type,
			competitor.City, competitor.State, competitor.TerritoryID,
			competitor.ThreatLevel, competitor.JobsWon, competitor.JobsLost,
			competitor.ValueWon, competitor.ValueLost,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&competitor.CreatedAt, &competitor.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": competitor.ID,
		}).Error("failed to create competitor")
		return StorageErr(err, "failed to create competitor")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"competitor_id": competitor.ID,
	}).Debugf("Created %s", competitorsTable)
	return nil
}

// GetByID retrieves a competitor by ID (tenant-scoped). Joins any transaction
// open on the context so the outcome flow reads its own writes.
func (r *CompetitorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := competitorStruct.SelectFrom(competitorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var competitor models.Competitor
	err = database.QuerierFrom(ctx, r.DB()).GetContext(ctx, &competitor, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("competitor %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": id,
		}).Error("failed to get competitor")
		return nil, StorageErr(err, "failed to get competitor")
	}

	return &competitor, nil
}

// List retrieves competitors matching the filters
func (r *CompetitorRepository) List(ctx context.Context, filters CompetitorFilters) ([]models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := competitorStruct.SelectFrom(competitorsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if filters.TerritoryID != nil {
		sb.Where(sb.Equal("territory_id", *filters.TerritoryID))
	}
	if filters.City != "" {
		sb.Where(sb.Equal("city", filters.City))
	}
	if filters.State != "" {
		sb.Where(sb.Equal("state", filters.State))
	}
	if filters.Type != "" {
		sb.Where(sb.Equal("type", filters.Type))
	}
	if filters.ThreatLevel != "" {
		sb.Where(sb.Equal("threat_level", filters.ThreatLevel))
	}
	sb.OrderBy("name")

	query, args := sb.Build()
	var competitors []models.Competitor
	err = r.DB().SelectContext(ctx, &competitors, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list competitors")
		return nil, StorageErr(err, "failed to list competitors")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"competitor_count": len(competitors),
	}).Debugf("Listed %s", competitorsTable)
	return competitors, nil
}

// CountByTerritory returns the number of competitors referencing a territory
func (r *CompetitorRepository) CountByTerritory(ctx context.Context, territoryID uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.CountByTerritory")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM competitors WHERE tenant_id = $1 AND territory_id = $2`

	var count int
	err = r.DB().GetContext(ctx, &count, query, tenantID, territoryID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": territoryID,
		}).Error("failed to count competitors by territory")
		return 0, StorageErr(err, "failed to count competitors by territory")
	}

	return count, nil
}

// CountByThreatLevel aggregates competitor counts per threat level, optionally
// scoped to a territory
func (r *CompetitorRepository) CountByThreatLevel(ctx context.Context, territoryID *uuid.UUID) ([]ThreatLevelCount, error) {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.CountByThreatLevel")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("threat_level", "COUNT(*) AS count").
		From(competitorsTable).
		Where(sb.Equal("tenant_id", tenantID)).
		GroupBy("threat_level")
	if territoryID != nil {
		sb.Where(sb.Equal("territory_id", *territoryID))
	}

	query, args := sb.Build()
	var counts []ThreatLevelCount
	err = r.DB().SelectContext(ctx, &counts, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count competitors by threat level")
		return nil, StorageErr(err, "failed to count competitors by threat level")
	}

	return counts, nil
}

// ApplyOutcomeCounters bumps the cumulative win/loss counters for an outcome.
// Joins the transaction open on the context; the caller owns the commit.
func (r *CompetitorRepository) ApplyOutcomeCounters(ctx context.Context, competitorID uuid.UUID, outcome models.Outcome, jobValue float64) error {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.ApplyOutcomeCounters")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	// raw SQL; sqlbuilder has no clean column-increment form
	query := `
		UPDATE competitors
		SET jobs_won = jobs_won + $1,
		    jobs_lost = jobs_lost + $2,
		    value_won = value_won + $3,
		    value_lost = value_lost + $4,
		    updated_at = NOW()
		WHERE tenant_id = $5 AND id = $6`

	wonInc, lostInc := 0, 0
	wonVal, lostVal := 0.0, 0.0
	if outcome == models.OutcomeWon {
		wonInc = 1
		wonVal = jobValue
	} else {
		lostInc = 1
		lostVal = jobValue
	}

	result, err := database.QuerierFrom(ctx, r.DB()).ExecContext(ctx, query, wonInc, lostInc, wonVal, lostVal, tenantID, competitorID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": competitorID,
		}).Error("failed to apply outcome counters")
		return StorageErr(err, "failed to apply outcome counters")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return StorageErr(err, "failed to apply outcome counters")
	}
	if rows == 0 {
		return NotFound("competitor %s does not exist", competitorID)
	}

	return nil
}

// UpdateThreatLevel writes a recomputed threat level. Joins the transaction
// open on the context; the caller owns the commit.
func (r *CompetitorRepository) UpdateThreatLevel(ctx context.Context, competitorID uuid.UUID, level models.ThreatLevel) error {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.UpdateThreatLevel")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(competitorsTable).
		Set(
			ub.Assign("threat_level", level),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", competitorID))

	query, args := ub.Build()
	result, err := database.QuerierFrom(ctx, r.DB()).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": competitorID,
		}).Error("failed to update threat level")
		return StorageErr(err, "failed to update threat level")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return StorageErr(err, "failed to update threat level")
	}
	if rows == 0 {
		return NotFound("competitor %s does not exist", competitorID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"competitor_id": competitorID,
		"threat_level":  level,
	}).Debugf("Updated threat level on %s", competitorsTable)
	return nil
}

// DeleteByTenantID deletes all competitors for a tenant (for testing cleanup)
func (r *CompetitorRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "CompetitorRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(competitorsTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
