// Package kafka carries the engine's event surfaces: a producer for conquest
// lifecycle events and a consumer for qualifying-revenue events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/metrics"
)

// Config holds Kafka configuration
type Config struct {
	Brokers       []string
	ConquestTopic string
	RevenueTopic  string
	ConsumerGroup string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers, conquestTopic, revenueTopic, consumerGroup string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:       brokerList,
		ConquestTopic: conquestTopic,
		RevenueTopic:  revenueTopic,
		ConsumerGroup: consumerGroup,
	}
}

// Conquest event types published on the conquest topic.
const (
	EventProtectionGranted  = "territory.protection.granted"
	EventProtectionReleased = "territory.protection.released"
	EventThreatLevelChanged = "competitor.threat_level.changed"
	EventTierPromoted       = "professional.tier.promoted"
	EventTierDemoted        = "professional.tier.demoted"
)

// ConquestEventMessage is a lifecycle event for downstream services. EntityID
// is the territory, competitor, or professional the event is about; Previous
// and Current carry the state transition (threat level, tier, or territory
// status) as strings.
type ConquestEventMessage struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	EntityID  string    `json:"entity_id"`
	Previous  string    `json:"previous,omitempty"`
	Current   string    `json:"current,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Producer publishes conquest lifecycle events
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ConquestTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it
		// doesn't exist yet. Without this, a first publish may fail with
		// "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.ConquestTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish publishes a conquest event. Keyed by tenant+entity so per-entity
// ordering is preserved across partitions.
func (p *Producer) Publish(ctx context.Context, evt *ConquestEventMessage) error {
	if evt == nil {
		return fmt.Errorf("conquest event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("tenant_id", evt.TenantID),
		attribute.String("event_type", evt.Type),
		attribute.String("entity_id", evt.EntityID),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal conquest event: %w", err)
	}

	key := fmt.Sprintf("%s:%s", evt.TenantID, evt.EntityID)
	headers := []kafka.Header{
		{Key: "tenant_id", Value: []byte(evt.TenantID)},
		{Key: "entity_id", Value: []byte(evt.EntityID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(p.topic, "error")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "success")
	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).Debugf("Published conquest event: type=%s entity=%s", evt.Type, evt.EntityID)
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
