package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

const jobOutcomesTable = "job_outcomes"

var jobOutcomeStruct = database.NewStruct(new(models.JobOutcome))

// JobOutcomeRepository handles database operations for the append-only job
// outcome history. Rows are never updated or deleted outside test cleanup.
type JobOutcomeRepository struct {
	*Repository
}

// NewJobOutcomeRepository creates a new job outcome repository
func NewJobOutcomeRepository(db database.DB, logger ectologger.Logger) *JobOutcomeRepository {
	return &JobOutcomeRepository{
		Repository: NewRepository(db, logger),
	}
}

// Insert appends an outcome record. Joins the transaction open on the
// context; the caller owns the commit.
func (r *JobOutcomeRepository) Insert(ctx context.Context, outcome *models.JobOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "JobOutcomeRepository.Insert")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	outcome.TenantID = tenantID

	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(jobOutcomesTable).
		Cols("id", "tenant_id", "competitor_id", "outcome", "job_value",
			"our_bid", "their_bid", "recorded_at", "created_at").
		Values(outcome.ID, outcome.TenantID, outcome.CompetitorID, outcome.Outcome,
			outcome.JobValue, outcome.OurBid, outcome.TheirBid, outcome.RecordedAt,
			sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err = database.QuerierFrom(ctx, r.DB()).QueryRowContext(ctx, query, args...).Scan(&outcome.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": outcome.CompetitorID,
		}).Error("failed to insert job outcome")
		return StorageErr(err, "failed to insert job outcome")
	}

	return nil
}

// ListRecentByCompetitor returns the outcomes recorded since the cutoff,
// newest first. Joins the transaction open on the context so the recompute
// sees the outcome it just appended.
func (r *JobOutcomeRepository) ListRecentByCompetitor(ctx context.Context, competitorID uuid.UUID, since time.Time) ([]models.JobOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "JobOutcomeRepository.ListRecentByCompetitor")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := jobOutcomeStruct.SelectFrom(jobOutcomesTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("competitor_id", competitorID),
		sb.GreaterEqualThan("recorded_at", since),
	)
	sb.OrderBy("recorded_at").Desc()

	query, args := sb.Build()
	var outcomes []models.JobOutcome
	err = database.QuerierFrom(ctx, r.DB()).SelectContext(ctx, &outcomes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"competitor_id": competitorID,
		}).Error("failed to list job outcomes")
		return nil, StorageErr(err, "failed to list job outcomes")
	}

	return outcomes, nil
}

// ListRecent returns the newest outcomes for the tenant, optionally scoped to
// competitors in one territory. Feeds the dashboard trend.
func (r *JobOutcomeRepository) ListRecent(ctx context.Context, territoryID *uuid.UUID, limit int) ([]models.JobOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "JobOutcomeRepository.ListRecent")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	// Columns are qualified by hand: the struct builder can't disambiguate
	// o.* once the competitors join is in play.
	query := `
		SELECT o.id, o.tenant_id, o.competitor_id, o.outcome, o.job_value,
		       o.our_bid, o.their_bid, o.recorded_at, o.created_at
		FROM job_outcomes o
		WHERE o.tenant_id = $1
		ORDER BY o.recorded_at DESC
		LIMIT $2`
	args := []any{tenantID, limit}
	if territoryID != nil {
		query = `
			SELECT o.id, o.tenant_id, o.competitor_id, o.outcome, o.job_value,
			       o.our_bid, o.their_bid, o.recorded_at, o.created_at
			FROM job_outcomes o
			JOIN competitors c ON c.id = o.competitor_id AND c.tenant_id = o.tenant_id
			WHERE o.tenant_id = $1 AND c.territory_id = $2
			ORDER BY o.recorded_at DESC
			LIMIT $3`
		args = []any{tenantID, *territoryID, limit}
	}

	var outcomes []models.JobOutcome
	err = r.DB().SelectContext(ctx, &outcomes, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list recent job outcomes")
		return nil, StorageErr(err, "failed to list recent job outcomes")
	}

	return outcomes, nil
}

// SumWonValueByTerritory totals the value of jobs won against competitors in
// a territory since the cutoff. Feeds territory analytics.
func (r *JobOutcomeRepository) SumWonValueByTerritory(ctx context.Context, territoryID uuid.UUID, since time.Time) (float64, error) {
	ctx, span := tracing.StartSpan(ctx, "JobOutcomeRepository.SumWonValueByTerritory")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		SELECT COALESCE(SUM(o.job_value), 0)
		FROM job_outcomes o
		JOIN competitors c ON c.id = o.competitor_id AND c.tenant_id = o.tenant_id
		WHERE o.tenant_id = $1
		  AND c.territory_id = $2
		  AND o.outcome = $3
		  AND o.recorded_at >= $4`

	var total float64
	err = r.DB().GetContext(ctx, &total, query, tenantID, territoryID, models.OutcomeWon, since)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"territory_id": territoryID,
		}).Error("failed to sum won value by territory")
		return 0, StorageErr(err, "failed to sum won value by territory")
	}

	return total, nil
}

// DeleteByTenantID deletes all job outcomes for a tenant (for testing cleanup)
func (r *JobOutcomeRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "JobOutcomeRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(jobOutcomesTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
