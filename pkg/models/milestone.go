package models

import (
	"time"

	"github.com/google/uuid"
)

// MilestoneStatus represents the lifecycle state of a market-entry milestone
type MilestoneStatus string

const (
	MilestoneStatusPlanned    MilestoneStatus = "planned"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusBlocked    MilestoneStatus = "blocked"
	MilestoneStatusCompleted  MilestoneStatus = "completed"
	MilestoneStatusCancelled  MilestoneStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s MilestoneStatus) Terminal() bool {
	return s == MilestoneStatusCompleted || s == MilestoneStatusCancelled
}

// MilestonePriority orders milestones for planning views
type MilestonePriority string

const (
	MilestonePriorityLow      MilestonePriority = "low"
	MilestonePriorityMedium   MilestonePriority = "medium"
	MilestonePriorityHigh     MilestonePriority = "high"
	MilestonePriorityCritical MilestonePriority = "critical"
)

// Milestone is a scheduled unit of market-entry execution work. Actual dates
// are set by status transitions and are immutable once set.
type Milestone struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	TenantID         uuid.UUID         `db:"tenant_id" json:"tenant_id"`
	Title            string            `db:"title" json:"title"`
	Description      string            `db:"description" json:"description"`
	Type             string            `db:"type" json:"type"`
	Status           MilestoneStatus   `db:"status" json:"status"`
	Priority         MilestonePriority `db:"priority" json:"priority"`
	AssignedTo       *uuid.UUID        `db:"assigned_to" json:"assigned_to,omitempty"`
	PlannedStartDate time.Time         `db:"planned_start_date" json:"planned_start_date"`
	PlannedEndDate   time.Time         `db:"planned_end_date" json:"planned_end_date"`
	ActualStartDate  *time.Time        `db:"actual_start_date" json:"actual_start_date,omitempty"`
	ActualEndDate    *time.Time        `db:"actual_end_date" json:"actual_end_date,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Milestone) TableName() string {
	return "milestones"
}
