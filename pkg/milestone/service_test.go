package milestone

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// fakeStore keeps milestones in memory and applies UpdateStatus the way the
// repository does: conditional on the expected current status, actual dates
// write-once.
type fakeStore struct {
	milestones map[uuid.UUID]*models.Milestone
	// when set, the stored status silently changes to this value before the
	// next UpdateStatus, simulating a concurrent transition
	raceTo models.MilestoneStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{milestones: make(map[uuid.UUID]*models.Milestone)}
}

func (f *fakeStore) Create(ctx context.Context, milestone *models.Milestone) error {
	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	milestone.Status = models.MilestoneStatusPlanned
	clone := *milestone
	f.milestones[milestone.ID] = &clone
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	milestone, ok := f.milestones[id]
	if !ok {
		return nil, repositories.NotFound("milestone %s does not exist", id)
	}
	clone := *milestone
	return &clone, nil
}

func (f *fakeStore) List(ctx context.Context, filters repositories.MilestoneFilters) ([]models.Milestone, error) {
	var out []models.Milestone
	for _, milestone := range f.milestones {
		out = append(out, *milestone)
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.MilestoneStatus, setActualStart, setActualEnd bool) error {
	milestone, ok := f.milestones[id]
	if !ok {
		return repositories.ErrStaleUpdate
	}
	if f.raceTo != "" {
		milestone.Status = f.raceTo
		f.raceTo = ""
	}
	if milestone.Status != from {
		return repositories.ErrStaleUpdate
	}

	now := appcontext.Now(ctx)
	milestone.Status = to
	if setActualStart && milestone.ActualStartDate == nil {
		milestone.ActualStartDate = &now
	}
	if setActualEnd && milestone.ActualEndDate == nil {
		milestone.ActualEndDate = &now
	}
	return nil
}

func (f *fakeStore) CountByStatus(ctx context.Context) ([]repositories.MilestoneStatusCount, error) {
	counts := make(map[models.MilestoneStatus]int)
	for _, milestone := range f.milestones {
		counts[milestone.Status]++
	}
	out := make([]repositories.MilestoneStatusCount, 0, len(counts))
	for status, count := range counts {
		out = append(out, repositories.MilestoneStatusCount{Status: status, Count: count})
	}
	return out, nil
}

func (f *fakeStore) CountOverdue(ctx context.Context) (int, error) {
	now := appcontext.Now(ctx)
	overdue := 0
	for _, milestone := range f.milestones {
		if milestone.PlannedEndDate.Before(now) && !milestone.Status.Terminal() {
			overdue++
		}
	}
	return overdue, nil
}

func testContext(now time.Time) context.Context {
	ctx := appcontext.SetTenantID(context.Background(), uuid.NewString())
	return appcontext.SetClock(ctx, func() time.Time { return now })
}

func validInput(now time.Time) CreateMilestoneInput {
	return CreateMilestoneInput{
		Title:            "Hire first crew",
		Description:      "Staff the initial service crew for the new market",
		Type:             "staffing",
		PlannedStartDate: now.Add(24 * time.Hour),
		PlannedEndDate:   now.Add(14 * 24 * time.Hour),
	}
}

func assertStatusCode(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, want, httperror.GetStatusCode(err))
}

func TestCreateMilestone(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()

	milestone, err := service.CreateMilestone(testContext(now), validInput(now))
	require.NoError(t, err)

	assert.Equal(t, models.MilestoneStatusPlanned, milestone.Status)
	assert.Equal(t, models.MilestonePriorityMedium, milestone.Priority, "priority defaults to medium")
	assert.Nil(t, milestone.ActualStartDate)
	assert.Nil(t, milestone.ActualEndDate)
}

func TestCreateMilestoneValidation(t *testing.T) {
	service := NewService(newFakeStore(), testLogger())
	now := time.Now().UTC()

	missing := validInput(now)
	missing.Title = ""
	_, err := service.CreateMilestone(testContext(now), missing)
	assertStatusCode(t, err, http.StatusBadRequest)

	reversed := validInput(now)
	reversed.PlannedStartDate, reversed.PlannedEndDate = reversed.PlannedEndDate, reversed.PlannedStartDate
	_, err = service.CreateMilestone(testContext(now), reversed)
	assertStatusCode(t, err, http.StatusBadRequest)
	assert.Contains(t, err.Error(), "before")

	badPriority := validInput(now)
	badPriority.Priority = "urgent"
	_, err = service.CreateMilestone(testContext(now), badPriority)
	assertStatusCode(t, err, http.StatusBadRequest)
}

func TestTransitionStampsActualDates(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)

	started, err := service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusInProgress, started.Status)
	require.NotNil(t, started.ActualStartDate)
	assert.Nil(t, started.ActualEndDate)

	done, err := service.Transition(ctx, milestone.ID, models.MilestoneStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusCompleted, done.Status)
	require.NotNil(t, done.ActualEndDate)
	assert.Equal(t, *started.ActualStartDate, *done.ActualStartDate, "actual start is immutable")
}

func TestTransitionBlockedRoundTripKeepsActualStart(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)

	started, err := service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)
	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusBlocked)
	require.NoError(t, err)

	resumed, err := service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, *started.ActualStartDate, *resumed.ActualStartDate)
}

func TestTransitionInvalidEdge(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)

	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusCompleted)
	assertStatusCode(t, err, http.StatusUnprocessableEntity)
	assert.Contains(t, err.Error(), string(models.MilestoneStatusPlanned))
	assert.Contains(t, err.Error(), string(models.MilestoneStatusCompleted))
}

func TestTransitionTerminalState(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)
	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)
	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusCancelled)
	require.NoError(t, err)

	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	assertStatusCode(t, err, http.StatusUnprocessableEntity)
}

func TestTransitionUnknownStatus(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)

	_, err = service.Transition(ctx, milestone.ID, "archived")
	assertStatusCode(t, err, http.StatusBadRequest)
}

func TestTransitionRacedConcurrently(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	milestone, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)
	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)

	// Another caller completes the milestone between our read and write.
	store.raceTo = models.MilestoneStatusCompleted
	_, err = service.Transition(ctx, milestone.ID, models.MilestoneStatusBlocked)

	assertStatusCode(t, err, http.StatusConflict)
	assert.Contains(t, err.Error(), string(models.MilestoneStatusCompleted))
}

func TestTransitionMissingMilestone(t *testing.T) {
	service := NewService(newFakeStore(), testLogger())
	ctx := testContext(time.Now().UTC())

	_, err := service.Transition(ctx, uuid.New(), models.MilestoneStatusInProgress)
	assertStatusCode(t, err, http.StatusNotFound)
}

func TestGetProgressSummary(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, testLogger())
	now := time.Now().UTC()
	ctx := testContext(now)

	first, err := service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)
	_, err = service.CreateMilestone(ctx, validInput(now))
	require.NoError(t, err)

	overdue := validInput(now)
	overdue.PlannedStartDate = now.Add(-10 * 24 * time.Hour)
	overdue.PlannedEndDate = now.Add(-24 * time.Hour)
	_, err = service.CreateMilestone(ctx, overdue)
	require.NoError(t, err)

	_, err = service.Transition(ctx, first.ID, models.MilestoneStatusInProgress)
	require.NoError(t, err)

	summary, err := service.GetProgressSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.StatusCounts[models.MilestoneStatusPlanned])
	assert.Equal(t, 1, summary.StatusCounts[models.MilestoneStatusInProgress])
	assert.Equal(t, 1, summary.OverdueCount)
}
