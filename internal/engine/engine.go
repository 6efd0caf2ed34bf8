// Package engine runs the polling sweep that evaluates every configured
// trigger and fires the paired reaction when its state transition occurs.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/registry"
	"github.com/arealabs/area/internal/services"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultAdapterTimeout = 15 * time.Second
)

// Config describes the evaluator's dependencies and timing.
type Config struct {
	Areas       *area.Service
	Registry    *registry.Registry
	Credentials *services.Store
	Dispatcher  *Dispatcher
	Logger      *zap.Logger
	// PollInterval separates consecutive sweeps. A sweep still in flight
	// when the next tick arrives suppresses that tick.
	PollInterval time.Duration
	// AdapterTimeout bounds every individual provider call.
	AdapterTimeout time.Duration
}

// Engine owns the sweep scheduler.
type Engine struct {
	areas          *area.Service
	registry       *registry.Registry
	credentials    *services.Store
	dispatcher     *Dispatcher
	logger         *zap.Logger
	adapterTimeout time.Duration
	scheduler      *gocron.Scheduler
}

// New constructs the trigger evaluator.
func New(cfg Config) (*Engine, error) {
	if cfg.Areas == nil {
		return nil, fmt.Errorf("engine: area service required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("engine: credential store required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("engine: dispatcher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := cfg.AdapterTimeout
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}

	e := &Engine{
		areas:          cfg.Areas,
		registry:       cfg.Registry,
		credentials:    cfg.Credentials,
		dispatcher:     cfg.Dispatcher,
		logger:         logger,
		adapterTimeout: timeout,
		scheduler:      gocron.NewScheduler(time.UTC),
	}

	job, err := e.scheduler.Every(interval).Do(e.runSweep)
	if err != nil {
		return nil, fmt.Errorf("engine: schedule sweep: %w", err)
	}
	job.SingletonMode()
	return e, nil
}

// Start launches the sweep loop in the background.
func (e *Engine) Start() {
	e.logger.Info("trigger evaluator started")
	e.scheduler.StartAsync()
}

// Stop halts the sweep loop, waiting for an in-flight sweep to finish.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.logger.Info("trigger evaluator stopped")
}

func (e *Engine) runSweep() {
	if err := e.Sweep(context.Background()); err != nil {
		e.logger.Error("sweep aborted", zap.Error(err))
	}
}

// Sweep evaluates every area once. A failure on one area is logged and does
// not affect the rest; only a failure to enumerate the areas aborts.
func (e *Engine) Sweep(ctx context.Context) error {
	rows, err := e.areas.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: list areas: %w", err)
	}
	for _, row := range rows {
		if err := e.Evaluate(ctx, row); err != nil {
			e.logger.Warn("area evaluation failed",
				zap.Uint("area_id", row.ID),
				zap.String("service", row.Action.ServiceName),
				zap.String("action", row.Action.Name),
				zap.Error(err))
		}
	}
	return nil
}

// Evaluate polls one area's trigger and fires its reaction when the state
// transition occurred. The stored snapshot only advances on a fire, and it
// advances before the reaction is attempted, so a reaction failure is never
// retried for the same transition.
func (e *Engine) Evaluate(ctx context.Context, row area.Area) error {
	definition, err := e.registry.Action(row.Action.ServiceName, row.Action.Name)
	if err != nil {
		return fmt.Errorf("engine: resolve action: %w", err)
	}
	if definition.Trigger == nil {
		return fmt.Errorf("engine: action %s/%s has no poll trigger", row.Action.ServiceName, row.Action.Name)
	}

	authToken, err := e.credentials.AuthTokenByID(ctx, row.Action.UserID, row.Action.ServiceID)
	if err != nil {
		return fmt.Errorf("engine: resolve credential: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.adapterTimeout)
	current, err := definition.Trigger.Fetch(fetchCtx, authToken, []byte(row.Action.Payload))
	cancel()
	if err != nil {
		// The snapshot stays put; the next sweep retries from the same
		// baseline.
		return fmt.Errorf("engine: fetch %s/%s: %w", row.Action.ServiceName, row.Action.Name, err)
	}

	var previous registry.State
	if row.Action.LastState != "" {
		previous = registry.State(row.Action.LastState)
	}
	if !definition.Trigger.Triggered(current, previous) {
		return nil
	}

	if err := e.areas.UpdateLastState(ctx, row.Action.ID, current); err != nil {
		return fmt.Errorf("engine: persist state: %w", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, e.adapterTimeout)
	defer cancel()
	if err := e.dispatcher.Dispatch(dispatchCtx, row); err != nil {
		// The transition is already consumed; log and move on.
		e.logger.Error("reaction failed after trigger",
			zap.Uint("area_id", row.ID),
			zap.String("service", row.Reaction.ServiceName),
			zap.String("reaction", row.Reaction.Name),
			zap.Error(err))
		return nil
	}

	e.logger.Info("area fired",
		zap.Uint("area_id", row.ID),
		zap.String("action", row.Action.Name),
		zap.String("reaction", row.Reaction.Name))
	return nil
}
