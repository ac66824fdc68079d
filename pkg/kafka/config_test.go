package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gobusters/ectologger/zapadapter"
)

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("broker1:9092, broker2:9092 ,broker3:9092", "conquest-events", "revenue-events", "clover-tier")

	assert.Equal(t, []string{"broker1:9092", "broker2:9092", "broker3:9092"}, cfg.Brokers)
	assert.Equal(t, "conquest-events", cfg.ConquestTopic)
	assert.Equal(t, "revenue-events", cfg.RevenueTopic)
	assert.Equal(t, "clover-tier", cfg.ConsumerGroup)
}

func TestNewConsumerValidation(t *testing.T) {
	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)

	_, err := NewConsumer(Config{RevenueTopic: "revenue-events", ConsumerGroup: "g"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")

	_, err = NewConsumer(Config{Brokers: []string{"b:9092"}, ConsumerGroup: "g"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic")

	_, err = NewConsumer(Config{Brokers: []string{"b:9092"}, RevenueTopic: "revenue-events"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer group")
}
