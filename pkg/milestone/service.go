// Package milestone owns market-entry execution milestones and their status
// machine. Transitions follow an explicit table; actual dates are stamped by
// transitions and never change once set.
package milestone

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

var validate = validator.New()

// Store is the persistence surface for milestones.
type Store interface {
	Create(ctx context.Context, milestone *models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	List(ctx context.Context, filters repositories.MilestoneFilters) ([]models.Milestone, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.MilestoneStatus, setActualStart, setActualEnd bool) error
	CountByStatus(ctx context.Context) ([]repositories.MilestoneStatusCount, error)
	CountOverdue(ctx context.Context) (int, error)
}

// Service implements milestone scheduling operations
type Service struct {
	store  Store
	logger ectologger.Logger
}

// NewService creates a milestone service
func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateMilestoneInput is the payload for CreateMilestone
type CreateMilestoneInput struct {
	Title            string                   `json:"title" validate:"required"`
	Description      string                   `json:"description" validate:"required"`
	Type             string                   `json:"type" validate:"required"`
	Priority         models.MilestonePriority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	AssignedTo       *uuid.UUID               `json:"assigned_to"`
	PlannedStartDate time.Time                `json:"planned_start_date" validate:"required"`
	PlannedEndDate   time.Time                `json:"planned_end_date" validate:"required"`
}

// CreateMilestone creates a milestone in planned status
func (s *Service) CreateMilestone(ctx context.Context, input CreateMilestoneInput) (*models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneService.CreateMilestone")
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, repositories.BadRequest("invalid milestone: %s", err.Error())
	}
	if !input.PlannedStartDate.Before(input.PlannedEndDate) {
		return nil, repositories.BadRequest(
			"planned start date %s must be before planned end date %s",
			input.PlannedStartDate.Format(time.RFC3339), input.PlannedEndDate.Format(time.RFC3339))
	}

	priority := input.Priority
	if priority == "" {
		priority = models.MilestonePriorityMedium
	}

	milestone := &models.Milestone{
		Title:            input.Title,
		Description:      input.Description,
		Type:             input.Type,
		Priority:         priority,
		AssignedTo:       input.AssignedTo,
		PlannedStartDate: input.PlannedStartDate,
		PlannedEndDate:   input.PlannedEndDate,
	}

	if err := s.store.Create(ctx, milestone); err != nil {
		return nil, err
	}

	return milestone, nil
}

// GetMilestone retrieves one milestone
func (s *Service) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneService.GetMilestone")
	defer span.End()

	return s.store.GetByID(ctx, id)
}

// GetMilestones lists milestones matching the filters
func (s *Service) GetMilestones(ctx context.Context, filters repositories.MilestoneFilters) ([]models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneService.GetMilestones")
	defer span.End()

	return s.store.List(ctx, filters)
}

// Transition moves a milestone to a new status. Invalid edges fail with a
// 422 naming the attempted transition; a raced transition fails with a
// conflict naming the state actually found.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to models.MilestoneStatus) (*models.Milestone, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneService.Transition")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	if !validStatus(to) {
		return nil, repositories.BadRequest("unknown milestone status %q", to)
	}

	milestone, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := milestone.Status

	if !CanTransition(from, to) {
		metrics.RecordMilestoneTransition(tenantID.String(), string(to), "invalid")
		return nil, repositories.InvalidTransition(
			"milestone %s cannot transition from %s to %s", id, from, to)
	}

	setStart, setEnd := actualDateEffects(to)
	err = s.store.UpdateStatus(ctx, id, from, to, setStart, setEnd)
	if errors.Is(err, repositories.ErrStaleUpdate) {
		metrics.RecordMilestoneTransition(tenantID.String(), string(to), "conflict")
		current, readErr := s.store.GetByID(ctx, id)
		if readErr != nil {
			return nil, readErr
		}
		return nil, repositories.Conflict(
			"milestone %s moved to %s concurrently; transition %s -> %s no longer applies",
			id, current.Status, from, to)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordMilestoneTransition(tenantID.String(), string(to), "success")
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"milestone_id": id,
		"from_status":  from,
		"to_status":    to,
	}).Info("Milestone transitioned")

	// Re-read so the returned entity carries the stamped actual dates.
	return s.store.GetByID(ctx, id)
}

// ProgressSummary is the milestone roll-up feeding the conquest dashboard.
type ProgressSummary struct {
	StatusCounts map[models.MilestoneStatus]int `json:"status_counts"`
	Total        int                            `json:"total"`
	OverdueCount int                            `json:"overdue_count"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// GetProgressSummary aggregates milestone counts by status and flags overdue
// work.
func (s *Service) GetProgressSummary(ctx context.Context) (*ProgressSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneService.GetProgressSummary")
	defer span.End()

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	overdue, err := s.store.CountOverdue(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ProgressSummary{
		StatusCounts: make(map[models.MilestoneStatus]int, len(counts)),
		OverdueCount: overdue,
		GeneratedAt:  appcontext.Now(ctx),
	}
	for _, c := range counts {
		summary.StatusCounts[c.Status] = c.Count
		summary.Total += c.Count
	}

	return summary, nil
}
