// Package startup brings service collaborators up in dependency order with
// fibonacci-backoff retries, and tears them down in reverse on shutdown.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one startable collaborator (database, redis, kafka, ...).
type Dependency interface {
	Name() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts plain functions into a Dependency
type Func struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

// NewFunc builds a Func dependency. Nil start/stop are treated as no-ops.
func NewFunc(name string, dependsOn []string, start, stop func(ctx context.Context) error) *Func {
	return &Func{name: name, dependsOn: dependsOn, start: start, stop: stop}
}

func (f *Func) Name() string        { return f.name }
func (f *Func) DependsOn() []string { return f.dependsOn }

func (f *Func) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Orchestrator starts registered dependencies in registration order,
// honoring DependsOn edges
type Orchestrator struct {
	order       []Dependency
	byName      map[string]Dependency
	statuses    map[string]status
	logger      ectologger.Logger
	maxAttempts int
}

// New creates an Orchestrator retrying up to maxAttempts full passes
func New(logger ectologger.Logger, maxAttempts int) *Orchestrator {
	return &Orchestrator{
		byName:      make(map[string]Dependency),
		statuses:    make(map[string]status),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Add registers a dependency. Registration order is the start order among
// dependencies with no edge between them.
func (o *Orchestrator) Add(dep Dependency) {
	o.order = append(o.order, dep)
	o.byName[dep.Name()] = dep
}

// Start brings every dependency up, retrying failed passes with fibonacci
// backoff. Already-started dependencies are not restarted on retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		o.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, dep := range o.order {
			if err := o.startOne(ctx, dep); err != nil {
				o.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", dep.Name(), attempt)
				lastErr = err
				break
			}
		}

		if lastErr == nil {
			return nil
		}
		if attempt == o.maxAttempts {
			break
		}

		o.logger.Infof("Retrying in %d seconds (attempt %d/%d)", a, attempt, o.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a) * time.Second):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", o.maxAttempts, lastErr)
}

func (o *Orchestrator) startOne(ctx context.Context, dep Dependency) error {
	if o.statuses[dep.Name()] == statusStarted {
		return nil
	}

	for _, name := range dep.DependsOn() {
		parent, ok := o.byName[name]
		if !ok {
			return fmt.Errorf("dependency '%s' depends on unregistered '%s'", dep.Name(), name)
		}
		if o.statuses[name] != statusStarted {
			if err := o.startOne(ctx, parent); err != nil {
				return err
			}
		}
	}

	o.logger.Infof("Starting dependency '%s'", dep.Name())
	if err := dep.Start(ctx); err != nil {
		o.statuses[dep.Name()] = statusFailed
		return err
	}
	o.statuses[dep.Name()] = statusStarted
	return nil
}

// Stop tears started dependencies down in reverse start order. Stop errors
// are logged, not propagated, so one failure never blocks the rest of the
// shutdown.
func (o *Orchestrator) Stop(ctx context.Context) {
	for i := len(o.order) - 1; i >= 0; i-- {
		dep := o.order[i]
		if o.statuses[dep.Name()] != statusStarted {
			continue
		}

		o.logger.Infof("Stopping dependency '%s'", dep.Name())
		if err := dep.Stop(ctx); err != nil {
			o.logger.WithError(err).Errorf("Failed to stop dependency '%s'", dep.Name())
			continue
		}
		o.statuses[dep.Name()] = statusStopped
	}
}
