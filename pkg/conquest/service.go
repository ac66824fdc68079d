// Package conquest is the read-side orchestrator: it composes the territory,
// intel, tier, and milestone views into one dashboard. It holds no state of
// its own and fails fast — a failure in any store fails the whole request, so
// the dashboard never silently mixes fresh and stale sections.
package conquest

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/intel"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/milestone"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/territory"
	"github.com/Ramsey-B/clover/pkg/tier"
)

// TerritoryReader is the territory analytics surface.
type TerritoryReader interface {
	GetTerritoryAnalytics(ctx context.Context, territoryID *uuid.UUID) (*territory.AnalyticsReport, error)
}

// IntelReader is the competitive dashboard surface.
type IntelReader interface {
	GetCompetitiveDashboard(ctx context.Context, territoryID *uuid.UUID) (*intel.Dashboard, error)
}

// TierReader is the tier analytics surface.
type TierReader interface {
	GetTierAnalytics(ctx context.Context) (*tier.Analytics, error)
}

// MilestoneReader is the milestone progress surface.
type MilestoneReader interface {
	GetProgressSummary(ctx context.Context) (*milestone.ProgressSummary, error)
}

// Dashboard is the composed conquest view. Always recomputed, never stored.
type Dashboard struct {
	Territories *territory.AnalyticsReport `json:"territories"`
	Competitive *intel.Dashboard           `json:"competitive"`
	Tiers       *tier.Analytics            `json:"tiers"`
	Milestones  *milestone.ProgressSummary `json:"milestones"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

// Service composes the four stores
type Service struct {
	territories TerritoryReader
	intel       IntelReader
	tiers       TierReader
	milestones  MilestoneReader
	logger      ectologger.Logger
}

// NewService creates a conquest orchestrator
func NewService(territories TerritoryReader, intelReader IntelReader, tiers TierReader, milestones MilestoneReader, logger ectologger.Logger) *Service {
	return &Service{
		territories: territories,
		intel:       intelReader,
		tiers:       tiers,
		milestones:  milestones,
		logger:      logger,
	}
}

// GetDashboard builds the conquest dashboard, optionally scoped to one
// territory for the territory and competitive sections.
func (s *Service) GetDashboard(ctx context.Context, territoryID *uuid.UUID) (*Dashboard, error) {
	ctx, span := tracing.StartSpan(ctx, "ConquestService.GetDashboard")
	defer span.End()

	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	territories, err := s.territories.GetTerritoryAnalytics(ctx, territoryID)
	if err != nil {
		metrics.RecordDashboardRequest(tenantID.String(), "error")
		return nil, err
	}

	competitive, err := s.intel.GetCompetitiveDashboard(ctx, territoryID)
	if err != nil {
		metrics.RecordDashboardRequest(tenantID.String(), "error")
		return nil, err
	}

	tiers, err := s.tiers.GetTierAnalytics(ctx)
	if err != nil {
		metrics.RecordDashboardRequest(tenantID.String(), "error")
		return nil, err
	}

	milestones, err := s.milestones.GetProgressSummary(ctx)
	if err != nil {
		metrics.RecordDashboardRequest(tenantID.String(), "error")
		return nil, err
	}

	metrics.RecordDashboardRequest(tenantID.String(), "success")
	return &Dashboard{
		Territories: territories,
		Competitive: competitive,
		Tiers:       tiers,
		Milestones:  milestones,
		GeneratedAt: appcontext.Now(ctx),
	}, nil
}
