package startup

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOrchestrator(maxAttempts int) *Orchestrator {
	return New(zapadapter.NewZapEctoLogger(zap.NewNop(), nil), maxAttempts)
}

func record(log *[]string, name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		*log = append(*log, name)
		return nil
	}
}

func TestStartHonorsDependencyOrder(t *testing.T) {
	var started []string
	o := newOrchestrator(1)

	// Registered out of order; edges must still win.
	o.Add(NewFunc("consumer", []string{"kafka"}, record(&started, "consumer"), nil))
	o.Add(NewFunc("kafka", []string{"database"}, record(&started, "kafka"), nil))
	o.Add(NewFunc("database", nil, record(&started, "database"), nil))

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, []string{"database", "kafka", "consumer"}, started)
}

func TestStartRetriesWithoutRestartingStarted(t *testing.T) {
	var dbStarts, kafkaStarts int
	o := newOrchestrator(3)

	o.Add(NewFunc("database", nil, func(ctx context.Context) error {
		dbStarts++
		return nil
	}, nil))
	o.Add(NewFunc("kafka", []string{"database"}, func(ctx context.Context) error {
		kafkaStarts++
		if kafkaStarts < 2 {
			return fmt.Errorf("broker not ready")
		}
		return nil
	}, nil))

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, 1, dbStarts, "a started dependency is not restarted on retry")
	assert.Equal(t, 2, kafkaStarts)
}

func TestStartFailsAfterMaxAttempts(t *testing.T) {
	o := newOrchestrator(2)
	o.Add(NewFunc("database", nil, func(ctx context.Context) error {
		return fmt.Errorf("connection refused")
	}, nil))

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStartUnregisteredDependency(t *testing.T) {
	o := newOrchestrator(1)
	o.Add(NewFunc("consumer", []string{"kafka"}, nil, nil))

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered 'kafka'")
}

func TestStopReversesStartOrder(t *testing.T) {
	var stopped []string
	o := newOrchestrator(1)

	stop := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			stopped = append(stopped, name)
			return nil
		}
	}

	o.Add(NewFunc("database", nil, nil, stop("database")))
	o.Add(NewFunc("kafka", []string{"database"}, nil, stop("kafka")))
	o.Add(NewFunc("consumer", []string{"kafka"}, nil, stop("consumer")))

	require.NoError(t, o.Start(context.Background()))
	o.Stop(context.Background())

	assert.Equal(t, []string{"consumer", "kafka", "database"}, stopped)
}

func TestStopSkipsNeverStarted(t *testing.T) {
	var stopped []string
	o := newOrchestrator(1)

	o.Add(NewFunc("database", nil, func(ctx context.Context) error {
		return fmt.Errorf("down")
	}, func(ctx context.Context) error {
		stopped = append(stopped, "database")
		return nil
	}))

	require.Error(t, o.Start(context.Background()))
	o.Stop(context.Background())

	assert.Empty(t, stopped, "dependencies that never started are not stopped")
}

func TestStopContinuesPastErrors(t *testing.T) {
	var stopped []string
	o := newOrchestrator(1)

	o.Add(NewFunc("database", nil, nil, func(ctx context.Context) error {
		stopped = append(stopped, "database")
		return nil
	}))
	o.Add(NewFunc("kafka", nil, nil, func(ctx context.Context) error {
		return fmt.Errorf("close failed")
	}))

	require.NoError(t, o.Start(context.Background()))
	o.Stop(context.Background())

	assert.Equal(t, []string{"database"}, stopped)
}
