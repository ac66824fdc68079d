package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "coordinator"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext(tenantID uuid.UUID) context.Context {
	ctx := context.Background()
	return appcontext.SetTenantID(ctx, tenantID.String())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

// assertUnauthorized asserts that err is an HTTP 401 error
func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err), "expected 401, got: %d", httperror.GetStatusCode(err))
}

func TestTerritoryRepository_ClaimLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewTerritoryRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = repo.DeleteByTenantID(ctx, tenantID)
	})

	territory := &models.Territory{
		Name:  "Integration North",
		State: "TX",
		City:  "Austin",
		Type:  models.TerritoryTypeResidential,
	}
	err := repo.Create(ctx, territory)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, territory.ID)
	assert.Equal(t, tenantID, territory.TenantID)
	assert.Equal(t, models.TerritoryStatusOpen, territory.Status)
	assert.Equal(t, 1, territory.Version)

	fetched, err := repo.GetByID(ctx, territory.ID)
	require.NoError(t, err)
	assert.Equal(t, territory.ID, fetched.ID)

	professionalID := uuid.New()
	fetched.Status = models.TerritoryStatusAssigned
	fetched.AssignedProfessionalID = &professionalID
	err = repo.UpdateClaim(ctx, fetched)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.Version, "successful claim bumps the version")

	territories, err := repo.List(ctx, repositories.TerritoryFilters{State: "TX"})
	require.NoError(t, err)
	assert.Len(t, territories, 1)
	assert.Equal(t, models.TerritoryStatusAssigned, territories[0].Status)

	// Tenant isolation
	_, err = repo.GetByID(getTestContext(uuid.New()), territory.ID)
	assertNotFound(t, err)
}

func TestTerritoryRepository_StaleClaimLosesRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewTerritoryRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = repo.DeleteByTenantID(ctx, tenantID)
	})

	territory := &models.Territory{Name: "Contested", Type: models.TerritoryTypeCommercial}
	require.NoError(t, repo.Create(ctx, territory))

	// Two claimants read the same version.
	first, err := repo.GetByID(ctx, territory.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, territory.ID)
	require.NoError(t, err)

	firstPro := uuid.New()
	first.Status = models.TerritoryStatusAssigned
	first.AssignedProfessionalID = &firstPro
	require.NoError(t, repo.UpdateClaim(ctx, first))

	secondPro := uuid.New()
	second.Status = models.TerritoryStatusAssigned
	second.AssignedProfessionalID = &secondPro
	err = repo.UpdateClaim(ctx, second)
	assert.ErrorIs(t, err, repositories.ErrStaleUpdate, "the slower claimant must lose")

	current, err := repo.GetByID(ctx, territory.ID)
	require.NoError(t, err)
	require.NotNil(t, current.AssignedProfessionalID)
	assert.Equal(t, firstPro, *current.AssignedProfessionalID)
}

func TestCompetitorRepository_CountersAndThreat(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewCompetitorRepository(db, logger)
	outcomeRepo := repositories.NewJobOutcomeRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = outcomeRepo.DeleteByTenantID(ctx, tenantID)
		_, _ = repo.DeleteByTenantID(ctx, tenantID)
	})

	competitor := &models.Competitor{Name: "Integration Rival", Type: "landscaping", City: "Austin", State: "TX"}
	require.NoError(t, repo.Create(ctx, competitor))
	assert.Equal(t, models.ThreatLevelLow, competitor.ThreatLevel)

	require.NoError(t, repo.ApplyOutcomeCounters(ctx, competitor.ID, models.OutcomeWon, 1200))
	require.NoError(t, repo.ApplyOutcomeCounters(ctx, competitor.ID, models.OutcomeLost, 3400))

	fetched, err := repo.GetByID(ctx, competitor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.JobsWon)
	assert.Equal(t, 1, fetched.JobsLost)
	assert.Equal(t, 1200.0, fetched.ValueWon)
	assert.Equal(t, 3400.0, fetched.ValueLost)

	require.NoError(t, repo.UpdateThreatLevel(ctx, competitor.ID, models.ThreatLevelHigh))
	fetched, err = repo.GetByID(ctx, competitor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreatLevelHigh, fetched.ThreatLevel)

	counts, err := repo.CountByThreatLevel(ctx, nil)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, models.ThreatLevelHigh, counts[0].ThreatLevel)
	assert.Equal(t, 1, counts[0].Count)

	err = repo.ApplyOutcomeCounters(ctx, uuid.New(), models.OutcomeWon, 100)
	assertNotFound(t, err)
}

func TestJobOutcomeRepository_WindowAndSums(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	territoryRepo := repositories.NewTerritoryRepository(db, logger)
	competitorRepo := repositories.NewCompetitorRepository(db, logger)
	outcomeRepo := repositories.NewJobOutcomeRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = outcomeRepo.DeleteByTenantID(ctx, tenantID)
		_, _ = competitorRepo.DeleteByTenantID(ctx, tenantID)
		_, _ = territoryRepo.DeleteByTenantID(ctx, tenantID)
	})

	territory := &models.Territory{Name: "Outcome Territory", Type: models.TerritoryTypeMixed}
	require.NoError(t, territoryRepo.Create(ctx, territory))

	competitor := &models.Competitor{Name: "Windowed Rival", Type: "hvac", TerritoryID: &territory.ID}
	require.NoError(t, competitorRepo.Create(ctx, competitor))

	now := time.Now().UTC()
	recent := &models.JobOutcome{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeWon,
		JobValue:     5000,
		OurBid:       4800,
		RecordedAt:   now.Add(-24 * time.Hour),
	}
	require.NoError(t, outcomeRepo.Insert(ctx, recent))

	old := &models.JobOutcome{
		CompetitorID: competitor.ID,
		Outcome:      models.OutcomeWon,
		JobValue:     9000,
		OurBid:       9000,
		RecordedAt:   now.Add(-120 * 24 * time.Hour),
	}
	require.NoError(t, outcomeRepo.Insert(ctx, old))

	window, err := outcomeRepo.ListRecentByCompetitor(ctx, competitor.ID, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1, "outcomes outside the window are excluded")
	assert.Equal(t, recent.ID, window[0].ID)

	trend, err := outcomeRepo.ListRecent(ctx, &territory.ID, 10)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.Equal(t, recent.ID, trend[0].ID, "newest first")

	total, err := outcomeRepo.SumWonValueByTerritory(ctx, territory.ID, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5000.0, total)
}

func TestProfessionalTierRepository_InitAndDedup(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewProfessionalTierRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = repo.DeleteByTenantID(ctx, tenantID)
	})

	professionalID := uuid.New()

	record, err := repo.Init(ctx, professionalID)
	require.NoError(t, err)
	assert.Equal(t, models.TierBronze, record.Tier)
	assert.Zero(t, record.QualifyingRevenue)

	// Idempotent: a second init returns the same record.
	require.NoError(t, repo.UpdateRevenueAndTier(ctx, professionalID, 30000, models.TierSilver, true))
	again, err := repo.Init(ctx, professionalID)
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, again.Tier)
	assert.Equal(t, 30000.0, again.QualifyingRevenue)

	eventID := "itest-" + uuid.NewString()
	fresh, err := repo.MarkRevenueEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = repo.MarkRevenueEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, fresh, "redelivered event ids are rejected")

	err = repo.UpdateRevenueAndTier(ctx, uuid.New(), 100, models.TierBronze, false)
	assertNotFound(t, err)
}

func TestMilestoneRepository_ConditionalStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewMilestoneRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	t.Cleanup(func() {
		_, _ = repo.DeleteByTenantID(ctx, tenantID)
	})

	now := time.Now().UTC()
	milestone := &models.Milestone{
		Title:            "Open first office",
		Description:      "Lease and staff the first local office",
		Type:             "operations",
		Priority:         models.MilestonePriorityHigh,
		PlannedStartDate: now.Add(24 * time.Hour),
		PlannedEndDate:   now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, milestone))
	assert.Equal(t, models.MilestoneStatusPlanned, milestone.Status)

	err := repo.UpdateStatus(ctx, milestone.ID, models.MilestoneStatusPlanned, models.MilestoneStatusInProgress, true, false)
	require.NoError(t, err)

	fetched, err := repo.GetByID(ctx, milestone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusInProgress, fetched.Status)
	require.NotNil(t, fetched.ActualStartDate)
	assert.Nil(t, fetched.ActualEndDate)

	// A write expecting the old status loses.
	err = repo.UpdateStatus(ctx, milestone.ID, models.MilestoneStatusPlanned, models.MilestoneStatusCancelled, false, true)
	assert.ErrorIs(t, err, repositories.ErrStaleUpdate)

	// Completing keeps the original actual start.
	err = repo.UpdateStatus(ctx, milestone.ID, models.MilestoneStatusInProgress, models.MilestoneStatusCompleted, false, true)
	require.NoError(t, err)

	done, err := repo.GetByID(ctx, milestone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusCompleted, done.Status)
	assert.Equal(t, fetched.ActualStartDate.Unix(), done.ActualStartDate.Unix())
	require.NotNil(t, done.ActualEndDate)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, models.MilestoneStatusCompleted, counts[0].Status)
}

func TestRepository_TenantRequired(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()

	ctx := context.Background()

	err := repositories.NewTerritoryRepository(db, logger).Create(ctx, &models.Territory{
		Name: "Should Fail", Type: models.TerritoryTypeResidential,
	})
	assertUnauthorized(t, err)

	err = repositories.NewCompetitorRepository(db, logger).Create(ctx, &models.Competitor{
		Name: "Should Fail", Type: "hvac",
	})
	assertUnauthorized(t, err)

	_, err = repositories.NewProfessionalTierRepository(db, logger).Init(ctx, uuid.New())
	assertUnauthorized(t, err)
}
