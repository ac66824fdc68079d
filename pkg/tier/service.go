// Package tier owns professional tier state and revenue-driven advancement.
// Tier is a pure function of cumulative qualifying revenue over an ordered
// threshold table, and never decreases without an explicit administrative
// demotion. Revenue events arrive from the billing pipeline over Kafka and
// serialize per professional through a redis lock.
package tier

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
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

const professionalLockPrefix = "professional:"

// Store is the persistence surface for tier records.
type Store interface {
	Init(ctx context.Context, professionalID uuid.UUID) (*models.ProfessionalTier, error)
	GetByProfessionalID(ctx context.Context, professionalID uuid.UUID) (*models.ProfessionalTier, error)
	UpdateRevenueAndTier(ctx context.Context, professionalID uuid.UUID, revenue float64, tier models.Tier, tierChanged bool) error
	MarkRevenueEventProcessed(ctx context.Context, eventID string) (bool, error)
	CountByTier(ctx context.Context) ([]repositories.TierCount, error)
}

// EntityLocker serializes revenue events for one professional.
type EntityLocker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Publisher emits conquest lifecycle events. May be nil.
type Publisher interface {
	Publish(ctx context.Context, evt *kafka.ConquestEventMessage) error
}

// Service implements tier progression operations
type Service struct {
	db         database.DB
	store      Store
	locker     EntityLocker
	publisher  Publisher
	thresholds []Threshold
	logger     ectologger.Logger
}

// NewService creates a tier service. thresholds come from ParseThresholds.
func NewService(db database.DB, store Store, locker EntityLocker, publisher Publisher, thresholds []Threshold, logger ectologger.Logger) *Service {
	return &Service{
		db:         db,
		store:      store,
		locker:     locker,
		publisher:  publisher,
		thresholds: thresholds,
		logger:     logger,
	}
}

// InitializeProfessionalTier creates the bronze tier record for a
// professional. Idempotent: an existing record is returned unchanged.
func (s *Service) InitializeProfessionalTier(ctx context.Context, professionalID uuid.UUID) (*models.ProfessionalTier, error) {
	ctx, span := tracing.StartSpan(ctx, "TierService.InitializeProfessionalTier")
	defer span.End()

	return s.store.Init(ctx, professionalID)
}

// Dashboard is the per-professional tier view.
type Dashboard struct {
	Record        *models.ProfessionalTier `json:"record"`
	NextTier      *models.Tier             `json:"next_tier,omitempty"`
	RevenueToNext *float64                 `json:"revenue_to_next,omitempty"`
	Thresholds    []Threshold              `json:"thresholds"`
	GeneratedAt   time.Time                `json:"generated_at"`
}

// GetTierDashboard reports the professional's tier, the revenue remaining to
// the next tier, and the full progression table.
func (s *Service) GetTierDashboard(ctx context.Context, professionalID uuid.UUID) (*Dashboard, error) {
	ctx, span := tracing.StartSpan(ctx, "TierService.GetTierDashboard")
	defer span.End()

	record, err := s.store.GetByProfessionalID(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	dashboard := &Dashboard{
		Record:      record,
		Thresholds:  s.thresholds,
		GeneratedAt: appcontext.Now(ctx),
	}
	if next := NextThreshold(s.thresholds, record.QualifyingRevenue); next != nil {
		remaining := next.MinRevenue - record.QualifyingRevenue
		dashboard.NextTier = &next.Tier
		dashboard.RevenueToNext = &remaining
	}

	return dashboard, nil
}

// Analytics is the tenant-wide tier distribution.
type Analytics struct {
	Distribution []repositories.TierCount `json:"distribution"`
	Total        int                      `json:"total"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// GetTierAnalytics aggregates professionals across tiers. Tiers with no
// members appear with a zero count so the distribution is always complete.
func (s *Service) GetTierAnalytics(ctx context.Context) (*Analytics, error) {
	ctx, span := tracing.StartSpan(ctx, "TierService.GetTierAnalytics")
	defer span.End()

	counts, err := s.store.CountByTier(ctx)
	if err != nil {
		return nil, err
	}

	byTier := make(map[models.Tier]repositories.TierCount, len(counts))
	total := 0
	for _, c := range counts {
		byTier[c.Tier] = c
		total += c.Count
	}

	distribution := make([]repositories.TierCount, 0, 4)
	for _, t := range []models.Tier{models.TierBronze, models.TierSilver, models.TierGold, models.TierPlatinum} {
		if c, ok := byTier[t]; ok {
			distribution = append(distribution, c)
		} else {
			distribution = append(distribution, repositories.TierCount{Tier: t})
		}
	}

	return &Analytics{
		Distribution: distribution,
		Total:        total,
		GeneratedAt:  appcontext.Now(ctx),
	}, nil
}

// ApplyRevenueEvent folds a qualifying-revenue change into the professional's
// record and recomputes the tier. Monotonic: a recompute never lowers the
// tier, even when revenue shrinks. eventID deduplicates redeliveries; pass ""
// for trusted in-process callers.
func (s *Service) ApplyRevenueEvent(ctx context.Context, professionalID uuid.UUID, amount float64, eventID string) (*models.ProfessionalTier, error) {
	ctx, span := tracing.StartSpan(ctx, "TierService.ApplyRevenueEvent")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var record *models.ProfessionalTier
	var previousTier models.Tier

	err = s.locker.WithLock(ctx, professionalLockPrefix+professionalID.String(), func() error {
		txCtx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
		if err != nil {
			return repositories.StorageErr(err, "failed to apply revenue event")
		}
		defer tx.Rollback(ctx)

		if eventID != "" {
			fresh, err := s.store.MarkRevenueEventProcessed(txCtx, eventID)
			if err != nil {
				return err
			}
			if !fresh {
				// Redelivery; the first delivery already settled.
				record, err = s.store.GetByProfessionalID(txCtx, professionalID)
				if err != nil {
					return err
				}
				previousTier = record.Tier
				return tx.Commit(txCtx)
			}
		}

		record, err = s.store.GetByProfessionalID(txCtx, professionalID)
		if repositories.IsNotFound(err) {
			record, err = s.store.Init(txCtx, professionalID)
		}
		if err != nil {
			return err
		}
		previousTier = record.Tier

		revenue := record.QualifyingRevenue + amount
		if revenue < 0 {
			revenue = 0
		}

		computed := TierFor(s.thresholds, revenue)
		next := record.Tier
		if computed.Rank() > record.Tier.Rank() {
			next = computed
		}

		if err := s.store.UpdateRevenueAndTier(txCtx, professionalID, revenue, next, next != record.Tier); err != nil {
			return err
		}
		if err := tx.Commit(txCtx); err != nil {
			return repositories.StorageErr(err, "failed to apply revenue event")
		}

		record.QualifyingRevenue = revenue
		record.Tier = next
		return nil
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, repositories.Conflict(
			"professional %s tier is being updated concurrently", professionalID)
	}
	if err != nil {
		return nil, err
	}

	if record.Tier != previousTier {
		metrics.RecordTierTransition(tenantID.String(), "promote", string(record.Tier))
		s.publishEvent(ctx, &kafka.ConquestEventMessage{
			Type:     kafka.EventTierPromoted,
			TenantID: tenantID.String(),
			EntityID: professionalID.String(),
			Previous: string(previousTier),
			Current:  string(record.Tier),
		})
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"professional_id": professionalID,
			"previous":        previousTier,
			"current":         record.Tier,
		}).Info("Professional tier promoted")
	}

	return record, nil
}

// Demote lowers a professional's tier. Admin-only: recomputes never demote,
// so this is the one path down.
func (s *Service) Demote(ctx context.Context, professionalID uuid.UUID, to models.Tier) (*models.ProfessionalTier, error) {
	ctx, span := tracing.StartSpan(ctx, "TierService.Demote")
	defer span.End()

	if appcontext.GetRole(ctx) != appcontext.RoleAdmin {
		return nil, repositories.Forbidden("tier demotion requires the admin role")
	}
	if to.Rank() < 0 {
		return nil, repositories.BadRequest("unknown tier %q", to)
	}

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	var record *models.ProfessionalTier
	var previousTier models.Tier

	err = s.locker.WithLock(ctx, professionalLockPrefix+professionalID.String(), func() error {
		record, err = s.store.GetByProfessionalID(ctx, professionalID)
		if err != nil {
			return err
		}
		previousTier = record.Tier

		if to.Rank() >= record.Tier.Rank() {
			return repositories.BadRequest(
				"demotion of professional %s must lower the tier: %s is not below %s",
				professionalID, to, record.Tier)
		}

		if err := s.store.UpdateRevenueAndTier(ctx, professionalID, record.QualifyingRevenue, to, true); err != nil {
			return err
		}
		record.Tier = to
		return nil
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, repositories.Conflict(
			"professional %s tier is being updated concurrently", professionalID)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordTierTransition(tenantID.String(), "demote", string(to))
	s.publishEvent(ctx, &kafka.ConquestEventMessage{
		Type:     kafka.EventTierDemoted,
		TenantID: tenantID.String(),
		EntityID: professionalID.String(),
		Previous: string(previousTier),
		Current:  string(to),
	})
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"professional_id": professionalID,
		"previous":        previousTier,
		"current":         to,
	}).Info("Professional tier demoted")

	return record, nil
}

// HandleRevenueEvent adapts a consumed Kafka message into ApplyRevenueEvent.
// Identity arrives in the message rather than a request context, so the
// handler builds its own.
func (s *Service) HandleRevenueEvent(ctx context.Context, evt *kafka.RevenueEventMessage) error {
	ctx, span := tracing.StartSpan(ctx, "TierService.HandleRevenueEvent")
	defer span.End()

	professionalID, err := uuid.Parse(evt.ProfessionalID)
	if err != nil {
		// Malformed events are dropped, not retried.
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id": evt.EventID,
		}).Error("revenue event has invalid professional id")
		metrics.RecordRevenueEvent("invalid")
		return nil
	}
	if _, err := uuid.Parse(evt.TenantID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id": evt.EventID,
		}).Error("revenue event has invalid tenant id")
		metrics.RecordRevenueEvent("invalid")
		return nil
	}

	ctx = appcontext.SetTenantID(ctx, evt.TenantID)
	if _, err := s.ApplyRevenueEvent(ctx, professionalID, evt.Amount, evt.EventID); err != nil {
		metrics.RecordRevenueEvent("error")
		return err
	}

	metrics.RecordRevenueEvent("success")
	return nil
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
