// Package intel owns competitor records, the append-only job outcome history,
// and derived threat scoring. Appends and their threat recompute are atomic
// per competitor: a redis lock serializes writers and a DB transaction makes
// the append-plus-recompute visible as one unit.
package intel

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

var validate = validator.New()

const competitorLockPrefix = "competitor:"

// CompetitorStore is the persistence surface for competitors.
type CompetitorStore interface {
	Create(ctx context.Context, competitor *models.Competitor) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Competitor, error)
	List(ctx context.Context, filters repositories.CompetitorFilters) ([]models.Competitor, error)
	CountByThreatLevel(ctx context.Context, territoryID *uuid.UUID) ([]repositories.ThreatLevelCount, error)
	ApplyOutcomeCounters(ctx context.Context, competitorID uuid.UUID, outcome models.Outcome, jobValue float64) error
	UpdateThreatLevel(ctx context.Context, competitorID uuid.UUID, level models.ThreatLevel) error
}

// OutcomeStore is the persistence surface for the outcome history.
type OutcomeStore interface {
	Insert(ctx context.Context, outcome *models.JobOutcome) error
	ListRecentByCompetitor(ctx context.Context, competitorID uuid.UUID, since time.Time) ([]models.JobOutcome, error)
	ListRecent(ctx context.Context, territoryID *uuid.UUID, limit int) ([]models.JobOutcome, error)
}

// EntityLocker serializes writers on one entity across instances.
type EntityLocker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Publisher emits conquest lifecycle events. May be nil.
type Publisher interface {
	Publish(ctx context.Context, evt *kafka.ConquestEventMessage) error
}

// Policy carries the externally configured threat scoring constants.
type Policy struct {
	Window     time.Duration
	Weights    Weights
	Thresholds Thresholds
	TrendSize  int
}

// Service implements competitor intelligence operations
type Service struct {
	db          database.DB
	competitors CompetitorStore
	outcomes    OutcomeStore
	locker      EntityLocker
	publisher   Publisher
	policy      Policy
	logger      ectologger.Logger
}

// NewService creates a competitor intelligence service
func NewService(db database.DB, competitors CompetitorStore, outcomes OutcomeStore, locker EntityLocker, publisher Publisher, policy Policy, logger ectologger.Logger) *Service {
	return &Service{
		db:          db,
		competitors: competitors,
		outcomes:    outcomes,
		locker:      locker,
		publisher:   publisher,
		policy:      policy,
		logger:      logger,
	}
}

// AddCompetitorInput is the payload for AddCompetitor
type AddCompetitorInput struct {
	Name        string     `json:"name" validate:"required"`
	Type        string     `json:"type" validate:"required"`
	City        string     `json:"city"`
	State       string     `json:"state"`
	TerritoryID *uuid.UUID `json:"territory_id"`
}

// AddCompetitor creates a competitor at threat level low
func (s *Service) AddCompetitor(ctx context.Context, input AddCompetitorInput) (*models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "IntelService.AddCompetitor")
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, repositories.BadRequest("invalid competitor: %s", err.Error())
	}

	competitor := &models.Competitor{
		Name:        input.Name,
		Type:        input.Type,
		City:        input.City,
		State:       input.State,
		TerritoryID: input.TerritoryID,
	}

	if err := s.competitors.Create(ctx, competitor); err != nil {
		return nil, err
	}

	return competitor, nil
}

// GetCompetitors lists competitors matching the filters
func (s *Service) GetCompetitors(ctx context.Context, filters repositories.CompetitorFilters) ([]models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "IntelService.GetCompetitors")
	defer span.End()

	return s.competitors.List(ctx, filters)
}

// TrackJobOutcomeInput is the payload for TrackJobOutcome
type TrackJobOutcomeInput struct {
	CompetitorID uuid.UUID      `json:"competitor_id" validate:"required"`
	Outcome      models.Outcome `json:"outcome" validate:"required,oneof=won lost"`
	JobValue     float64        `json:"job_value" validate:"required,gt=0"`
	OurBid       float64        `json:"our_bid" validate:"required,gt=0"`
	TheirBid     *float64       `json:"their_bid" validate:"omitempty,gt=0"`
}

// TrackJobOutcome appends an outcome, updates the cumulative counters, and
// recomputes the competitor's threat level from the trailing window. The
// whole sequence holds the competitor lock so concurrent appends never
// recompute from a half-updated counter set.
func (s *Service) TrackJobOutcome(ctx context.Context, input TrackJobOutcomeInput) (*models.Competitor, error) {
	ctx, span := tracing.StartSpan(ctx, "IntelService.TrackJobOutcome")
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, repositories.BadRequest("invalid job outcome: %s", err.Error())
	}

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var competitor *models.Competitor
	var previousLevel models.ThreatLevel

	err = s.locker.WithLock(ctx, competitorLockPrefix+input.CompetitorID.String(), func() error {
		txCtx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
		if err != nil {
			return repositories.StorageErr(err, "failed to track job outcome")
		}
		defer tx.Rollback(ctx)

		competitor, err = s.competitors.GetByID(txCtx, input.CompetitorID)
		if err != nil {
			return err
		}
		previousLevel = competitor.ThreatLevel

		outcome := &models.JobOutcome{
			CompetitorID: input.CompetitorID,
			Outcome:      input.Outcome,
			JobValue:     input.JobValue,
			OurBid:       input.OurBid,
			TheirBid:     input.TheirBid,
			RecordedAt:   appcontext.Now(ctx),
		}
		if err := s.outcomes.Insert(txCtx, outcome); err != nil {
			return err
		}
		if err := s.competitors.ApplyOutcomeCounters(txCtx, input.CompetitorID, input.Outcome, input.JobValue); err != nil {
			return err
		}

		now := appcontext.Now(ctx)
		window, err := s.outcomes.ListRecentByCompetitor(txCtx, input.CompetitorID, now.Add(-s.policy.Window))
		if err != nil {
			return err
		}

		score := ScoreThreat(window, now, s.policy.Window, s.policy.Weights)
		level := BucketThreat(score, s.policy.Thresholds)
		if level != previousLevel {
			if err := s.competitors.UpdateThreatLevel(txCtx, input.CompetitorID, level); err != nil {
				return err
			}
		}

		if err := tx.Commit(txCtx); err != nil {
			return repositories.StorageErr(err, "failed to track job outcome")
		}

		// Reflect the committed state on the returned entity.
		applyCounters(competitor, input.Outcome, input.JobValue)
		competitor.ThreatLevel = level
		return nil
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, repositories.Conflict(
			"competitor %s is being updated concurrently", input.CompetitorID)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordJobOutcome(tenantID.String(), string(input.Outcome))
	if competitor.ThreatLevel != previousLevel {
		metrics.RecordThreatTransition(tenantID.String(), string(previousLevel), string(competitor.ThreatLevel))
		s.publishEvent(ctx, &kafka.ConquestEventMessage{
			Type:     kafka.EventThreatLevelChanged,
			TenantID: tenantID.String(),
			EntityID: input.CompetitorID.String(),
			Previous: string(previousLevel),
			Current:  string(competitor.ThreatLevel),
		})
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"competitor_id": input.CompetitorID,
			"previous":      previousLevel,
			"current":       competitor.ThreatLevel,
		}).Info("Competitor threat level changed")
	}

	return competitor, nil
}

// CompetitorSummary is a dashboard row: the competitor plus our win rate
// against them from the cumulative counters.
type CompetitorSummary struct {
	Competitor models.Competitor `json:"competitor"`
	WinRate    float64           `json:"win_rate"`
}

// Dashboard is the competitive intelligence aggregate.
type Dashboard struct {
	ThreatCounts   map[models.ThreatLevel]int `json:"threat_counts"`
	Competitors    []CompetitorSummary        `json:"competitors"`
	RecentOutcomes []models.JobOutcome        `json:"recent_outcomes"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// GetCompetitiveDashboard aggregates competitor counts by threat level, win
// rates, and the recent outcome trend, optionally scoped to a territory.
func (s *Service) GetCompetitiveDashboard(ctx context.Context, territoryID *uuid.UUID) (*Dashboard, error) {
	ctx, span := tracing.StartSpan(ctx, "IntelService.GetCompetitiveDashboard")
	defer span.End()

	counts, err := s.competitors.CountByThreatLevel(ctx, territoryID)
	if err != nil {
		return nil, err
	}

	competitors, err := s.competitors.List(ctx, repositories.CompetitorFilters{TerritoryID: territoryID})
	if err != nil {
		return nil, err
	}

	trend, err := s.outcomes.ListRecent(ctx, territoryID, s.policy.TrendSize)
	if err != nil {
		return nil, err
	}

	dashboard := &Dashboard{
		ThreatCounts:   make(map[models.ThreatLevel]int, len(counts)),
		Competitors:    make([]CompetitorSummary, 0, len(competitors)),
		RecentOutcomes: trend,
		GeneratedAt:    appcontext.Now(ctx),
	}
	for _, c := range counts {
		dashboard.ThreatCounts[c.ThreatLevel] = c.Count
	}
	for _, competitor := range competitors {
		dashboard.Competitors = append(dashboard.Competitors, CompetitorSummary{
			Competitor: competitor,
			WinRate:    winRate(competitor),
		})
	}

	return dashboard, nil
}

func (s *Service) publishEvent(ctx context.Context, evt *kafka.ConquestEventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": evt.Type,
			"entity_id":  evt.EntityID,
		}).Error("failed to publish conquest event")
	}
}

func applyCounters(c *models.Competitor, outcome models.Outcome, jobValue float64) {
	if outcome == models.OutcomeWon {
		c.JobsWon++
		c.ValueWon += jobValue
	} else {
		c.JobsLost++
		c.ValueLost += jobValue
	}
}

// winRate is our win rate against the competitor; 0 with no history
func winRate(c models.Competitor) float64 {
	total := c.JobsWon + c.JobsLost
	if total == 0 {
		return 0
	}
	return float64(c.JobsWon) / float64(total)
}
