// Package territory owns territory records and their claim state. At most one
// professional holds exclusive (protected) rights to a territory at a time;
// claims serialize through an optimistic version check in storage, so two
// racing claims yield exactly one winner.
package territory

import (
	"context"
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
	"github.com/Ramsey-B/clover/pkg/repositories"
)

var validate = validator.New()

// claim mutations re-read and retry after a lost version race before giving
// up with a conflict
const maxClaimAttempts = 3

// Store is the persistence surface the service needs from the territory
// repository.
type Store interface {
	Create(ctx context.Context, territory *models.Territory) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Territory, error)
	List(ctx context.Context, filters repositories.TerritoryFilters) ([]models.Territory, error)
	UpdateClaim(ctx context.Context, territory *models.Territory) error
}

// CompetitorCounter supplies competitor density for analytics.
type CompetitorCounter interface {
	CountByTerritory(ctx context.Context, territoryID uuid.UUID) (int, error)
}

// RevenueSummer supplies trailing won-job revenue for analytics.
type RevenueSummer interface {
	SumWonValueByTerritory(ctx context.Context, territoryID uuid.UUID, since time.Time) (float64, error)
}

// Publisher emits conquest lifecycle events. May be nil when events are
// disabled.
type Publisher interface {
	Publish(ctx context.Context, evt *kafka.ConquestEventMessage) error
}

// Policy carries the externally configured claim constants.
type Policy struct {
	// How long a protection lasts from grant or renewal
	ProtectionDuration time.Duration
	// Trailing window for the analytics revenue sum
	RevenueWindow time.Duration
}

// Service implements territory claim operations
type Service struct {
	store       Store
	competitors CompetitorCounter
	revenue     RevenueSummer
	publisher   Publisher
	policy      Policy
	logger      ectologger.Logger
}

// NewService creates a territory service
func NewService(store Store, competitors CompetitorCounter, revenue RevenueSummer, publisher Publisher, policy Policy, logger ectologger.Logger) *Service {
	return &Service{
		store:       store,
		competitors: competitors,
		revenue:     revenue,
		publisher:   publisher,
		policy:      policy,
		logger:      logger,
	}
}

// CreateTerritoryInput is the payload for CreateTerritory
type CreateTerritoryInput struct {
	Name     string               `json:"name" validate:"required"`
	County   string               `json:"county"`
	State    string               `json:"state"`
	City     string               `json:"city"`
	ZipCodes []string             `json:"zip_codes" validate:"dive,numeric,len=5"`
	Type     models.TerritoryType `json:"type" validate:"required,oneof=residential commercial mixed"`
}

// CreateTerritory creates a territory in open status
func (s *Service) CreateTerritory(ctx context.Context, input CreateTerritoryInput) (*models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.CreateTerritory")
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, repositories.BadRequest("invalid territory: %s", err.Error())
	}

	territory := &models.Territory{
		Name:     input.Name,
		County:   input.County,
		State:    input.State,
		City:     input.City,
		ZipCodes: database.JSONB[[]string]{Data: input.ZipCodes},
		Type:     input.Type,
	}

	if err := s.store.Create(ctx, territory); err != nil {
		return nil, err
	}

	return territory, nil
}

// AssignProfessional records an advisory claim on a territory. Assignment does
// not grant exclusivity; it is the precondition for protection. Fails with a
// conflict when another professional holds a live protection.
func (s *Service) AssignProfessional(ctx context.Context, territoryID, professionalID uuid.UUID) (*models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.AssignProfessional")
	defer span.End()

	if err := authorizeActor(ctx, professionalID); err != nil {
		return nil, err
	}

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		territory, err := s.store.GetByID(ctx, territoryID)
		if err != nil {
			return nil, err
		}

		now := appcontext.Now(ctx)
		if territory.ProtectionActive(now) {
			if territory.HeldBy(professionalID) {
				// Already holds the stronger claim.
				return territory, nil
			}
			metrics.RecordConflict(tenantID.String(), "assign")
			return nil, repositories.Conflict(
				"territory %s is protected by professional %s until %s",
				territoryID, territory.AssignedProfessionalID, territory.ProtectionExpiresAt.Format(time.RFC3339))
		}

		territory.Status = models.TerritoryStatusAssigned
		territory.AssignedProfessionalID = &professionalID
		clearProtection(territory)

		err = s.store.UpdateClaim(ctx, territory)
		if errors.Is(err, repositories.ErrStaleUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.RecordClaim(tenantID.String(), "assign", "success")
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"territory_id":    territoryID,
			"professional_id": professionalID,
		}).Info("Assigned professional to territory")
		return territory, nil
	}

	metrics.RecordConflict(tenantID.String(), "assign")
	return nil, repositories.Conflict("territory %s claim lost to a concurrent update", territoryID)
}

// ProtectTerritory grants or renews exclusive rights. Only the assigned
// professional may protect; a renewal by the current holder before expiry
// refreshes the expiry rather than erroring.
func (s *Service) ProtectTerritory(ctx context.Context, territoryID, professionalID uuid.UUID, exclusivityFee float64) (*models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.ProtectTerritory")
	defer span.End()

	if err := authorizeActor(ctx, professionalID); err != nil {
		return nil, err
	}
	if exclusivityFee <= 0 {
		return nil, repositories.BadRequest("exclusivity fee must be positive, got %v", exclusivityFee)
	}

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		territory, err := s.store.GetByID(ctx, territoryID)
		if err != nil {
			return nil, err
		}

		now := appcontext.Now(ctx)
		renewal := false
		switch {
		case territory.ProtectionActive(now) && territory.HeldBy(professionalID):
			renewal = true
		case territory.ProtectionActive(now):
			metrics.RecordConflict(tenantID.String(), "protect")
			return nil, repositories.Conflict(
				"territory %s is protected by professional %s until %s",
				territoryID, territory.AssignedProfessionalID, territory.ProtectionExpiresAt.Format(time.RFC3339))
		case !territory.HeldBy(professionalID):
			return nil, repositories.Forbidden(
				"only the assigned professional may protect territory %s", territoryID)
		}

		previous := string(territory.Status)
		protectedAt := now
		expiresAt := now.Add(s.policy.ProtectionDuration)
		territory.Status = models.TerritoryStatusProtected
		territory.AssignedProfessionalID = &professionalID
		territory.ExclusivityFee = &exclusivityFee
		territory.ProtectedAt = &protectedAt
		territory.ProtectionExpiresAt = &expiresAt

		err = s.store.UpdateClaim(ctx, territory)
		if errors.Is(err, repositories.ErrStaleUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		operation := "protect"
		if renewal {
			operation = "renew"
		}
		metrics.RecordClaim(tenantID.String(), operation, "success")
		s.publishEvent(ctx, &kafka.ConquestEventMessage{
			Type:     kafka.EventProtectionGranted,
			TenantID: tenantID.String(),
			EntityID: territoryID.String(),
			Previous: previous,
			Current:  string(models.TerritoryStatusProtected),
		})
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"territory_id":    territoryID,
			"professional_id": professionalID,
			"expires_at":      expiresAt,
			"renewal":         renewal,
		}).Info("Protected territory")
		return territory, nil
	}

	metrics.RecordConflict(tenantID.String(), "protect")
	return nil, repositories.Conflict("territory %s claim lost to a concurrent update", territoryID)
}

// ReleaseTerritory returns a territory to open, clearing the claim. Only the
// current holder (or an admin) may release.
func (s *Service) ReleaseTerritory(ctx context.Context, territoryID, professionalID uuid.UUID) (*models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.ReleaseTerritory")
	defer span.End()

	if err := authorizeActor(ctx, professionalID); err != nil {
		return nil, err
	}

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		territory, err := s.store.GetByID(ctx, territoryID)
		if err != nil {
			return nil, err
		}

		if !territory.HeldBy(professionalID) {
			return nil, repositories.Conflict(
				"territory %s is not held by professional %s", territoryID, professionalID)
		}

		wasProtected := territory.ProtectionActive(appcontext.Now(ctx))
		previous := string(territory.Status)
		territory.Status = models.TerritoryStatusOpen
		territory.AssignedProfessionalID = nil
		clearProtection(territory)

		err = s.store.UpdateClaim(ctx, territory)
		if errors.Is(err, repositories.ErrStaleUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.RecordClaim(tenantID.String(), "release", "success")
		if wasProtected {
			s.publishEvent(ctx, &kafka.ConquestEventMessage{
				Type:     kafka.EventProtectionReleased,
				TenantID: tenantID.String(),
				EntityID: territoryID.String(),
				Previous: previous,
				Current:  string(models.TerritoryStatusOpen),
			})
		}
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"territory_id":    territoryID,
			"professional_id": professionalID,
		}).Info("Released territory")
		return territory, nil
	}

	metrics.RecordConflict(tenantID.String(), "release")
	return nil, repositories.Conflict("territory %s claim lost to a concurrent update", territoryID)
}

// GetTerritories lists territories matching the filters. Protections that
// lapsed are presented as open; the stored row is normalized lazily on the
// next claim mutation.
func (s *Service) GetTerritories(ctx context.Context, filters repositories.TerritoryFilters) ([]models.Territory, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.GetTerritories")
	defer span.End()

	territories, err := s.store.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	now := appcontext.Now(ctx)
	for i := range territories {
		presentExpired(&territories[i], now)
	}
	return territories, nil
}

// TerritoryAnalytics joins claim state with competitor density and trailing
// won revenue for one territory.
type TerritoryAnalytics struct {
	Territory       models.Territory `json:"territory"`
	CompetitorCount int              `json:"competitor_count"`
	RecentRevenue   float64          `json:"recent_revenue"`
}

// AnalyticsReport is the cross-territory aggregate.
type AnalyticsReport struct {
	Territories      []TerritoryAnalytics `json:"territories"`
	TotalTerritories int                  `json:"total_territories"`
	ProtectedCount   int                  `json:"protected_count"`
	Window           string               `json:"window"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// GetTerritoryAnalytics reports on one territory, or on all territories when
// territoryID is nil.
func (s *Service) GetTerritoryAnalytics(ctx context.Context, territoryID *uuid.UUID) (*AnalyticsReport, error) {
	ctx, span := tracing.StartSpan(ctx, "TerritoryService.GetTerritoryAnalytics")
	defer span.End()

	now := appcontext.Now(ctx)
	since := now.Add(-s.policy.RevenueWindow)

	var territories []models.Territory
	if territoryID != nil {
		territory, err := s.store.GetByID(ctx, *territoryID)
		if err != nil {
			return nil, err
		}
		territories = []models.Territory{*territory}
	} else {
		var err error
		territories, err = s.store.List(ctx, repositories.TerritoryFilters{})
		if err != nil {
			return nil, err
		}
	}

	report := &AnalyticsReport{
		Territories:      make([]TerritoryAnalytics, 0, len(territories)),
		TotalTerritories: len(territories),
		Window:           s.policy.RevenueWindow.String(),
		GeneratedAt:      now,
	}

	for i := range territories {
		territory := territories[i]
		presentExpired(&territory, now)
		if territory.ProtectionActive(now) {
			report.ProtectedCount++
		}

		count, err := s.competitors.CountByTerritory(ctx, territory.ID)
		if err != nil {
			return nil, err
		}
		revenue, err := s.revenue.SumWonValueByTerritory(ctx, territory.ID, since)
		if err != nil {
			return nil, err
		}

		report.Territories = append(report.Territories, TerritoryAnalytics{
			Territory:       territory,
			CompetitorCount: count,
			RecentRevenue:   revenue,
		})
	}

	return report, nil
}

func (s *Service) publishEvent(ctx context.Context, evt *kafka.ConquestEventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		// Lifecycle events are advisory; the claim itself already committed.
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": evt.Type,
			"entity_id":  evt.EntityID,
		}).Error("failed to publish conquest event")
	}
}

// authorizeActor checks that the caller may act for professionalID. Admins
// may act for anyone; professionals only for themselves.
func authorizeActor(ctx context.Context, professionalID uuid.UUID) error {
	if appcontext.GetRole(ctx) == appcontext.RoleAdmin {
		return nil
	}
	callerID, err := repositories.GetProfessionalID(ctx)
	if err != nil {
		return err
	}
	if callerID != professionalID {
		return repositories.Forbidden(
			"caller %s may not act for professional %s", callerID, professionalID)
	}
	return nil
}

func clearProtection(t *models.Territory) {
	t.ExclusivityFee = nil
	t.ProtectedAt = nil
	t.ProtectionExpiresAt = nil
}

// presentExpired rewrites a lapsed protection as an open territory for read
// responses without persisting.
func presentExpired(t *models.Territory, now time.Time) {
	if t.Status == models.TerritoryStatusProtected && !t.ProtectionActive(now) {
		t.Status = models.TerritoryStatusOpen
		t.AssignedProfessionalID = nil
		clearProtection(t)
	}
}
