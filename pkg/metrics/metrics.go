// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TerritoryClaimsTotal tracks claim attempts by operation and result
	TerritoryClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "territory",
			Name:      "claims_total",
			Help:      "Total number of territory claim operations by result",
		},
		[]string{"tenant_id", "operation", "result"},
	)

	// TerritoryConflictsTotal tracks exclusivity conflicts (lost claim races
	// and attempts against protected territories)
	TerritoryConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "territory",
			Name:      "conflicts_total",
			Help:      "Total number of territory exclusivity conflicts",
		},
		[]string{"tenant_id", "operation"},
	)

	// JobOutcomesTotal tracks recorded job outcomes
	JobOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "intel",
			Name:      "job_outcomes_total",
			Help:      "Total number of job outcomes recorded",
		},
		[]string{"tenant_id", "outcome"},
	)

	// ThreatTransitionsTotal tracks competitor threat level changes
	ThreatTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "intel",
			Name:      "threat_transitions_total",
			Help:      "Total number of competitor threat level transitions",
		},
		[]string{"tenant_id", "from", "to"},
	)

	// TierTransitionsTotal tracks tier promotions and demotions
	TierTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "tier",
			Name:      "transitions_total",
			Help:      "Total number of tier transitions by direction",
		},
		[]string{"tenant_id", "direction", "to"},
	)

	// RevenueEventsTotal tracks consumed qualifying-revenue events
	RevenueEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "tier",
			Name:      "revenue_events_total",
			Help:      "Total number of qualifying-revenue events consumed by status",
		},
		[]string{"status"},
	)

	// MilestoneTransitionsTotal tracks milestone status transitions
	MilestoneTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "milestone",
			Name:      "transitions_total",
			Help:      "Total number of milestone status transitions by result",
		},
		[]string{"tenant_id", "to", "result"},
	)

	// DashboardRequestsTotal tracks conquest dashboard compositions
	DashboardRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "conquest",
			Name:      "dashboard_requests_total",
			Help:      "Total number of conquest dashboard requests by result",
		},
		[]string{"tenant_id", "result"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	// LockWaitDuration tracks time spent acquiring entity locks
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "redis",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for entity locks in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"entity"},
	)
)

// RecordClaim records a territory claim operation
func RecordClaim(tenantID, operation, result string) {
	TerritoryClaimsTotal.WithLabelValues(tenantID, operation, result).Inc()
}

// RecordConflict records a territory exclusivity conflict
func RecordConflict(tenantID, operation string) {
	TerritoryConflictsTotal.WithLabelValues(tenantID, operation).Inc()
}

// RecordJobOutcome records a tracked job outcome
func RecordJobOutcome(tenantID, outcome string) {
	JobOutcomesTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordThreatTransition records a competitor threat level change
func RecordThreatTransition(tenantID, from, to string) {
	ThreatTransitionsTotal.WithLabelValues(tenantID, from, to).Inc()
}

// RecordTierTransition records a tier promotion or demotion
func RecordTierTransition(tenantID, direction, to string) {
	TierTransitionsTotal.WithLabelValues(tenantID, direction, to).Inc()
}

// RecordRevenueEvent records a consumed revenue event
func RecordRevenueEvent(status string) {
	RevenueEventsTotal.WithLabelValues(status).Inc()
}

// RecordMilestoneTransition records a milestone status transition attempt
func RecordMilestoneTransition(tenantID, to, result string) {
	MilestoneTransitionsTotal.WithLabelValues(tenantID, to, result).Inc()
}

// RecordDashboardRequest records a conquest dashboard composition
func RecordDashboardRequest(tenantID, result string) {
	DashboardRequestsTotal.WithLabelValues(tenantID, result).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
