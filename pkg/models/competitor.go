package models

import (
	"time"

	"github.com/google/uuid"
)

// ThreatLevel is the derived risk classification of a competitor. It is never
// written directly; every write path recomputes it from outcome history.
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// Rank orders threat levels for comparisons (low < medium < high < critical).
func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatLevelLow:
		return 0
	case ThreatLevelMedium:
		return 1
	case ThreatLevelHigh:
		return 2
	case ThreatLevelCritical:
		return 3
	default:
		return -1
	}
}

// Competitor tracks a rival business and our cumulative record against it.
// Outcome counters are from our perspective: JobsWon is jobs we won against
// this competitor.
type Competitor struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	TenantID    uuid.UUID   `db:"tenant_id" json:"tenant_id"`
	Name        string      `db:"name" json:"name"`
	Type        string      `db:"type" json:"type"`
	City        string      `db:"city" json:"city"`
	State       string      `db:"state" json:"state"`
	TerritoryID *uuid.UUID  `db:"territory_id" json:"territory_id,omitempty"`
	ThreatLevel ThreatLevel `db:"threat_level" json:"threat_level"`
	JobsWon     int         `db:"jobs_won" json:"jobs_won"`
	JobsLost    int         `db:"jobs_lost" json:"jobs_lost"`
	ValueWon    float64     `db:"value_won" json:"value_won"`
	ValueLost   float64     `db:"value_lost" json:"value_lost"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Competitor) TableName() string {
	return "competitors"
}
