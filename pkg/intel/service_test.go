package intel

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// fakeTx tracks commit/rollback without a database. Rollback after a commit
// is a no-op, matching the deferred-rollback idiom.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (t *fakeTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

// fakeDB hands out fakeTx instances; the stores under test are in-memory, so
// nothing else is exercised.
type fakeDB struct {
	lastTx *fakeTx
}

func (f *fakeDB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, nil
}
func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (f *fakeDB) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	return nil
}
func (f *fakeDB) PingContext(ctx context.Context) error { return nil }
func (f *fakeDB) SetConnMaxLifetime(d time.Duration)    {}
func (f *fakeDB) SetMaxIdleConns(n int)                 {}
func (f *fakeDB) SetMaxOpenConns(n int)                 {}
func (f *fakeDB) Stats() sql.DBStats                    { return sql.DBStats{} }
func (f *fakeDB) Close() error                          { return nil }

func (f *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	f.lastTx = &fakeTx{}
	return ctx, f.lastTx, nil
}

type fakeCompetitorStore struct {
	competitors map[uuid.UUID]*models.Competitor
}

func newFakeCompetitorStore() *fakeCompetitorStore {
	return &fakeCompetitorStore{competitors: make(map[uuid.UUID]*models.Competitor)}
}

func (f *fakeCompetitorStore) Create(ctx context.Context, competitor *models.Competitor) error {
	if competitor.ID == uuid.Nil {
		competitor.ID = uuid.New()
	}
	if competitor.ThreatLevel == "" {
		competitor.ThreatLevel = models.ThreatLevelLow
	}
	clone := *competitor
	f.competitors[competitor.ID] = &clone
	return nil
}

func (f *fakeCompetitorStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Competitor, error) {
	competitor, ok := f.competitors[id]
	if !ok {
		return nil, repositories.NotFound("competitor %s does not exist", id)
	}
	clone := *competitor
	return &clone, nil
}

func (f *fakeCompetitorStore) List(ctx context.Context, filters repositories.CompetitorFilters) ([]models.Competitor, error) {
	var out []models.Competitor
	for _, competitor := range f.competitors {
		out = append(out, *competitor)
	}
	return out, nil
}

func (f *fakeCompetitorStore) CountByThreatLevel(ctx context.Context, territoryID *uuid.UUID) ([]repositories.ThreatLevelCount, error) {
	counts := make(map[models.ThreatLevel]int)
	for _, competitor := range f.competitors {
		counts[competitor.ThreatLevel]++
	}
	out := make([]repositories.ThreatLevelCount, 0, len(counts))
	for level, count := range counts {
		out = append(out, repositories.ThreatLevelCount{ThreatLevel: level, Count: count})
	}
	return out, nil
}

func (f *fakeCompetitorStore) ApplyOutcomeCounters(ctx context.Context, competitorID uuid.UUID, outcome models.Outcome, jobValue float64) error {
	competitor, ok := f.competitors[competitorID]
	if !ok {
		return repositories.NotFound("competitor %s does not exist", competitorID)
	}
	applyCounters(competitor, outcome, jobValue)
	return nil
}

func (f *fakeCompetitorStore) UpdateThreatLevel(ctx context.Context, competitorID uuid.UUID, level models.ThreatLevel) error {
	competitor, ok := f.competitors[competitorID]
	if !ok {
		return repositories.NotFound("competitor %s does not exist", competitorID)
	}
	competitor.ThreatLevel = level
	return nil
}

type fakeOutcomeStore struct {
	outcomes []models.JobOutcome
}

func (f *fakeOutcomeStore) Insert(ctx context.Context, outcome *models.JobOutcome) error {
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	f.outcomes = append(f.outcomes, *outcome)
	return nil
}

func (f *fakeOutcomeStore) ListRecentByCompetitor(ctx context.Context, competitorID uuid.UUID, since time.Time) ([]models.JobOutcome, error) {
	var out []models.JobOutcome
	for _, outcome := range f.outcomes {
		if outcome.CompetitorID == competitorID && !outcome.RecordedAt.Before(since) {
			out = append(out, outcome)
		}
	}
	return out, nil
}

func (f *fakeOutcomeStore) ListRecent(ctx context.Context, territoryID *uuid.UUID, limit int) ([]models.JobOutcome, error) {
	if len(f.outcomes) <= limit {
		return f.outcomes, nil
	}
	return f.outcomes[len(f.outcomes)-limit:], nil
}

type fakeLocker struct {
	err   error
	locks []string
}

func (f *fakeLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	if f.err != nil {
		return f.err
	}
	f.locks = append(f.locks, key)
	return fn()
}

type fakePublisher struct {
	events []*kafka.ConquestEventMessage
}

func (f *fakePublisher) Publish(ctx context.Context, evt *kafka.ConquestEventMessage) error {
	f.events = append(f.events, evt)
	return nil
}

type testHarness struct {
	db          *fakeDB
	competitors *fakeCompetitorStore
	outcomes    *fakeOutcomeStore
	locker      *fakeLocker
	publisher   *fakePublisher
	service     *Service
}

func newHarness() *testHarness {
	h := &testHarness{
		db:          &fakeDB{},
		competitors: newFakeCompetitorStore(),
		outcomes:    &fakeOutcomeStore{},
		locker:      &fakeLocker{},
		publisher:   &fakePublisher{},
	}
	h.service = NewService(h.db, h.competitors, h.outcomes, h.locker, h.publisher, Policy{
		Window:     90 * 24 * time.Hour,
		Weights:    testWeights,
		Thresholds: testThresholds,
		TrendSize:  5,
	}, testLogger())
	return h
}

func testContext(now time.Time) context.Context {
	ctx := appcontext.SetTenantID(context.Background(), uuid.NewString())
	return appcontext.SetClock(ctx, func() time.Time { return now })
}

func assertStatusCode(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, want, httperror.GetStatusCode(err))
}

func TestAddCompetitor(t *testing.T) {
	h := newHarness()
	ctx := testContext(time.Now().UTC())

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{
		Name: "Rival Lawn Co",
		Type: "landscaping",
		City: "Austin",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ThreatLevelLow, competitor.ThreatLevel, "new competitors start at low")
	assert.Zero(t, competitor.JobsWon)
	assert.Zero(t, competitor.JobsLost)
}

func TestAddCompetitorValidation(t *testing.T) {
	h := newHarness()
	ctx := testContext(time.Now().UTC())

	_, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Type: "landscaping"})
	assertStatusCode(t, err, http.StatusBadRequest)

	_, err = h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "No Type"})
	assertStatusCode(t, err, http.StatusBadRequest)
}

func TestTrackJobOutcomeValidationLeavesNoPartialState(t *testing.T) {
	h := newHarness()
	ctx := testContext(time.Now().UTC())

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "Rival", Type: "hvac"})
	require.NoError(t, err)

	bad := []TrackJobOutcomeInput{
		{CompetitorID: competitor.ID, Outcome: "tied", JobValue: 1000, OurBid: 900},
		{CompetitorID: competitor.ID, Outcome: models.OutcomeWon, JobValue: 0, OurBid: 900},
		{CompetitorID: competitor.ID, Outcome: models.OutcomeWon, JobValue: 1000, OurBid: -5},
	}
	for _, input := range bad {
		_, err := h.service.TrackJobOutcome(ctx, input)
		assertStatusCode(t, err, http.StatusBadRequest)
	}

	assert.Empty(t, h.outcomes.outcomes, "rejected outcomes must not be appended")
	stored, _ := h.competitors.GetByID(ctx, competitor.ID)
	assert.Zero(t, stored.JobsWon+stored.JobsLost, "rejected outcomes must not touch counters")
}

func TestTrackJobOutcomeWon(t *testing.T) {
	h := newHarness()
	now := time.Now().UTC()
	ctx := testContext(now)

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "Rival", Type: "hvac"})
	require.NoError(t, err)

	updated, err := h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeWon,
		JobValue:     12000,
		OurBid:       11000,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, updated.JobsWon)
	assert.Equal(t, 12000.0, updated.ValueWon)
	assert.Equal(t, models.ThreatLevelLow, updated.ThreatLevel, "our wins do not raise the threat")

	require.Len(t, h.outcomes.outcomes, 1)
	assert.Equal(t, now, h.outcomes.outcomes[0].RecordedAt)
	assert.Len(t, h.locker.locks, 1)
	assert.True(t, h.db.lastTx.committed)
	assert.Empty(t, h.publisher.events)
}

func TestTrackJobOutcomeEscalatesThreat(t *testing.T) {
	h := newHarness()
	now := time.Now().UTC()
	ctx := testContext(now)

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "Rival", Type: "hvac"})
	require.NoError(t, err)

	updated, err := h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeLost,
		JobValue:     50000,
		OurBid:       10000,
	})
	require.NoError(t, err)

	assert.Greater(t, updated.ThreatLevel.Rank(), models.ThreatLevelLow.Rank())
	stored, _ := h.competitors.GetByID(ctx, competitor.ID)
	assert.Equal(t, updated.ThreatLevel, stored.ThreatLevel, "recomputed level is persisted")

	require.Len(t, h.publisher.events, 1)
	evt := h.publisher.events[0]
	assert.Equal(t, kafka.EventThreatLevelChanged, evt.Type)
	assert.Equal(t, string(models.ThreatLevelLow), evt.Previous)
	assert.Equal(t, string(updated.ThreatLevel), evt.Current)
}

func TestTrackJobOutcomeLockContention(t *testing.T) {
	h := newHarness()
	ctx := testContext(time.Now().UTC())

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "Rival", Type: "hvac"})
	require.NoError(t, err)

	h.locker.err = redis.ErrLockNotAcquired
	_, err = h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeWon,
		JobValue:     1000,
		OurBid:       900,
	})
	assertStatusCode(t, err, http.StatusConflict)
}

func TestTrackJobOutcomeUnknownCompetitorRollsBack(t *testing.T) {
	h := newHarness()
	ctx := testContext(time.Now().UTC())

	_, err := h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
		CompetitorID: uuid.New(),
		Outcome:      models.OutcomeLost,
		JobValue:     1000,
		OurBid:       900,
	})

	assertStatusCode(t, err, http.StatusNotFound)
	assert.Empty(t, h.outcomes.outcomes)
	require.NotNil(t, h.db.lastTx)
	assert.True(t, h.db.lastTx.rolledBack)
}

func TestGetCompetitiveDashboard(t *testing.T) {
	h := newHarness()
	now := time.Now().UTC()
	ctx := testContext(now)

	competitor, err := h.service.AddCompetitor(ctx, AddCompetitorInput{Name: "Rival", Type: "hvac"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
			CompetitorID: competitor.ID,
			Outcome:      models.OutcomeWon,
			JobValue:     5000,
			OurBid:       4800,
		})
		require.NoError(t, err)
	}
	_, err = h.service.TrackJobOutcome(ctx, TrackJobOutcomeInput{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeLost,
		JobValue:     5000,
		OurBid:       4800,
	})
	require.NoError(t, err)

	dashboard, err := h.service.GetCompetitiveDashboard(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, now, dashboard.GeneratedAt)
	require.Len(t, dashboard.Competitors, 1)
	assert.InDelta(t, 0.75, dashboard.Competitors[0].WinRate, 1e-9)
	assert.Len(t, dashboard.RecentOutcomes, 4)

	total := 0
	for _, count := range dashboard.ThreatCounts {
		total += count
	}
	assert.Equal(t, 1, total)
}
