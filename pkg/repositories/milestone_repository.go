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

const milestonesTable = "milestones"

var milestoneStruct = database.NewStruct(new(models.Milestone))

// MilestoneFilters narrows List results. Zero values impose no filter.
type MilestoneFilters struct {
	Type       string
	Status     models.MilestoneStatus
	Priority   models.MilestonePriority
	AssignedTo *uuid.UUID
}

// MilestoneStatusCount is a progress-summary aggregate row.
type MilestoneStatusCount struct {
	Status models.MilestoneStatus `db:"status"`
	Count  int                    `db:"count"`
}

// MilestoneRepository handles database operations for milestones
type MilestoneRepository struct {
	*Repository
}

// NewMilestoneRepository creates a new milestone repository
func NewMilestoneRepository(db database.DB, logger ectologger.Logger) *MilestoneRepository {
	return &MilestoneRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new milestone in planned status
func (r *MilestoneRepository) Create(ctx context.Context, milestone *models.Milestone) error {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	milestone.TenantID = tenantID

	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	milestone.Status = models.MilestoneStatusPlanned

	ib := database.NewInsertBuilder()
	ib.InsertInto(milestonesTable).
		Cols("id", "tenant_id", "title", "description", "type", "status", "priority",
			"assigned_to", "planned_start_date", "planned_end_date",
			"created_at", "updated_at").
		Values(milestone.ID, milestone.TenantID, milestone.Title, milestone.Description,
			milestone.Type, milestone.Status, milestone.Priority,
			milestone.AssignedTo, milestone.PlannedStartDate, milestone.PlannedEndDate,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&milestone.CreatedAt, &milestone.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"milestone_id": milestone.ID,
		}).Error("failed to create milestone")
		return StorageErr(err, "failed to create milestone")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"milestone_id": milestone.ID,
	}).Debugf("Created %s", milestonesTable)
	return nil
}

// GetByID retrieves a milestone by ID (tenant-scoped)
func (r *MilestoneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := milestoneStruct.SelectFrom(milestonesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var milestone models.Milestone
	err = r.DB().GetContext(ctx, &milestone, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("milestone %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"milestone_id": id,
		}).Error("failed to get milestone")
		return nil, StorageErr(err, "failed to get milestone")
	}

	return &milestone, nil
}

// List retrieves milestones matching the filters, ordered by planned start
func (r *MilestoneRepository) List(ctx context.Context, filters MilestoneFilters) ([]models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := milestoneStruct.SelectFrom(milestonesTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if filters.Type != "" {
		sb.Where(sb.Equal("type", filters.Type))
	}
	if filters.Status != "" {
		sb.Where(sb.Equal("status", filters.Status))
	}
	if filters.Priority != "" {
		sb.Where(sb.Equal("priority", filters.Priority))
	}
	if filters.AssignedTo != nil {
		sb.Where(sb.Equal("assigned_to", *filters.AssignedTo))
	}
	sb.OrderBy("planned_start_date")

	query, args := sb.Build()
	var milestones []models.Milestone
	err = r.DB().SelectContext(ctx, &milestones, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list milestones")
		return nil, StorageErr(err, "failed to list milestones")
	}

	return milestones, nil
}

// UpdateStatus moves a milestone from one status to another with a
// conditional UPDATE on the current status. Returns ErrStaleUpdate when no
// row matched; the caller re-reads to name the actual conflicting state.
// Actual dates are write-once: COALESCE keeps an already-set date.
func (r *MilestoneRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.MilestoneStatus, setActualStart, setActualEnd bool) error {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.UpdateStatus")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("status", to),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	}
	if setActualStart {
		assignments = append(assignments, ub.Assign("actual_start_date", sqlbuilder.Raw("COALESCE(actual_start_date, NOW())")))
	}
	if setActualEnd {
		assignments = append(assignments, ub.Assign("actual_end_date", sqlbuilder.Raw("COALESCE(actual_end_date, NOW())")))
	}
	ub.Update(milestonesTable).
		Set(assignments...).
		Where(
			ub.Equal("tenant_id", tenantID),
			ub.Equal("id", id),
			ub.Equal("status", from),
		)

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"milestone_id": id,
			"from_status":  from,
			"to_status":    to,
		}).Error("failed to update milestone status")
		return StorageErr(err, "failed to update milestone status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return StorageErr(err, "failed to update milestone status")
	}
	if rows == 0 {
		return ErrStaleUpdate
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"milestone_id": id,
		"from_status":  from,
		"to_status":    to,
	}).Debugf("Updated status on %s", milestonesTable)
	return nil
}

// CountByStatus aggregates milestone counts per status for the tenant
func (r *MilestoneRepository) CountByStatus(ctx context.Context) ([]MilestoneStatusCount, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.CountByStatus")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("status", "COUNT(*) AS count").
		From(milestonesTable).
		Where(sb.Equal("tenant_id", tenantID)).
		GroupBy("status")

	query, args := sb.Build()
	var counts []MilestoneStatusCount
	err = r.DB().SelectContext(ctx, &counts, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count milestones by status")
		return nil, StorageErr(err, "failed to count milestones by status")
	}

	return counts, nil
}

// CountOverdue counts non-terminal milestones whose planned end has passed
func (r *MilestoneRepository) CountOverdue(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.CountOverdue")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*)
		FROM milestones
		WHERE tenant_id = $1
		  AND planned_end_date < NOW()
		  AND status NOT IN ($2, $3)`

	var count int
	err = r.DB().GetContext(ctx, &count, query, tenantID,
		models.MilestoneStatusCompleted, models.MilestoneStatusCancelled)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count overdue milestones")
		return 0, StorageErr(err, "failed to count overdue milestones")
	}

	return count, nil
}

// DeleteByTenantID deletes all milestones for a tenant (for testing cleanup)
func (r *MilestoneRepository) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneRepository.DeleteByTenantID")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(milestonesTable).
		Where(db.Equal("tenant_id", tenantID))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}
