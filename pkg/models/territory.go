package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/database"
)

// TerritoryStatus represents the claim state of a territory
type TerritoryStatus string

const (
	TerritoryStatusOpen      TerritoryStatus = "open"
	TerritoryStatusAssigned  TerritoryStatus = "assigned"
	TerritoryStatusProtected TerritoryStatus = "protected"
)

// TerritoryType represents the market segment of a territory
type TerritoryType string

const (
	TerritoryTypeResidential TerritoryType = "residential"
	TerritoryTypeCommercial  TerritoryType = "commercial"
	TerritoryTypeMixed       TerritoryType = "mixed"
)

// Territory is a geographic unit that at most one professional may hold
// exclusive (protected) rights to at a time. Version is the optimistic
// concurrency token: every claim mutation is a conditional UPDATE on
// (id, version), so concurrent claims produce exactly one winner.
type Territory struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TenantID uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name     string    `db:"name" json:"name"`
	County   string    `db:"county" json:"county"`
	State    string    `db:"state" json:"state"`
	City     string    `db:"city" json:"city"`
	// Zip codes the territory covers; informational, not enforced as
	// non-overlapping across territories.
	ZipCodes               database.JSONB[[]string] `db:"zip_codes" json:"zip_codes"`
	Type                   TerritoryType            `db:"type" json:"type"`
	Status                 TerritoryStatus          `db:"status" json:"status"`
	AssignedProfessionalID *uuid.UUID               `db:"assigned_professional_id" json:"assigned_professional_id,omitempty"`
	ExclusivityFee         *float64                 `db:"exclusivity_fee" json:"exclusivity_fee,omitempty"`
	ProtectedAt            *time.Time               `db:"protected_at" json:"protected_at,omitempty"`
	ProtectionExpiresAt    *time.Time               `db:"protection_expires_at" json:"protection_expires_at,omitempty"`
	Version                int                      `db:"version" json:"version"`
	CreatedAt              time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Territory) TableName() string {
	return "territories"
}

// ProtectionActive reports whether the territory holds a live protection at
// the given instant.
func (t *Territory) ProtectionActive(now time.Time) bool {
	return t.Status == TerritoryStatusProtected &&
		t.ProtectionExpiresAt != nil &&
		t.ProtectionExpiresAt.After(now)
}

// HeldBy reports whether professionalID currently holds the territory claim.
func (t *Territory) HeldBy(professionalID uuid.UUID) bool {
	return t.AssignedProfessionalID != nil && *t.AssignedProfessionalID == professionalID
}
