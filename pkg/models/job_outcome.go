package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of a competitive bid from our perspective.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
)

// JobOutcome is an append-only record of a single competitive bid against a
// competitor. Rows are immutable once inserted; threat levels are derived
// from this history.
type JobOutcome struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TenantID     uuid.UUID `db:"tenant_id" json:"tenant_id"`
	CompetitorID uuid.UUID `db:"competitor_id" json:"competitor_id"`
	Outcome      Outcome   `db:"outcome" json:"outcome"`
	JobValue     float64   `db:"job_value" json:"job_value"`
	OurBid       float64   `db:"our_bid" json:"our_bid"`
	TheirBid     *float64  `db:"their_bid" json:"their_bid,omitempty"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (JobOutcome) TableName() string {
	return "job_outcomes"
}
