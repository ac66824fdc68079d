package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the service tier of a professional, ordered bronze < silver <
// gold < platinum. Tier is a pure function of cumulative qualifying revenue
// and never decreases without an explicit administrative demotion.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Rank orders tiers for monotonicity checks.
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	default:
		return -1
	}
}

// ProfessionalTier is the one-to-one tier record for a professional.
type ProfessionalTier struct {
	ProfessionalID    uuid.UUID `db:"professional_id" json:"professional_id"`
	TenantID          uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Tier              Tier      `db:"tier" json:"tier"`
	QualifyingRevenue float64   `db:"qualifying_revenue" json:"qualifying_revenue"`
	TierEnteredAt     time.Time `db:"tier_entered_at" json:"tier_entered_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ProfessionalTier) TableName() string {
	return "professional_tiers"
}
