// Package engine is the central orchestrator of the trading platform.
//
// It wires together all subsystems:
//
//  1. Store owns the app state and its crash-safe persistence.
//  2. Bus carries domain events between components and to the dashboard.
//  3. Intent service admits trade intents; the worker drains them through
//     the execution service (guard → risk → fill → receipt).
//  4. Feed polls market prices; alerts watch them.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colosseum/internal/agent"
	"colosseum/internal/alerts"
	"colosseum/internal/bus"
	"colosseum/internal/config"
	"colosseum/internal/execution"
	"colosseum/internal/feed"
	"colosseum/internal/fees"
	"colosseum/internal/guard"
	"colosseum/internal/intent"
	"colosseum/internal/receipt"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
)

// Engine owns the lifecycle of every platform component.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	bus     *bus.Bus
	store   *state.Store
	clk     clock.Clock
	agents  *agent.Service
	intents *intent.Service
	exec    *execution.Service
	worker  *execution.Worker
	alerts  *alerts.Service
	feed    *feed.Poller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	clk := clock.System{}
	b := bus.New(logger)

	st := state.Open(cfg.Paths.StateFile, b, logger)
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	var signer *receipt.Signer
	if cfg.Receipts.SigningKey != "" {
		s, err := receipt.NewSigner(cfg.Receipts.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("receipt signer: %w", err)
		}
		signer = s
		logger.Info("receipt countersigning enabled", "signer", s.Address())
	}

	g := guard.New(guard.Policy{
		MaxDrawdownStopPct:               cfg.Autonomous.MaxDrawdownStopPct,
		CooldownMs:                       cfg.Autonomous.CooldownMs,
		CooldownAfterConsecutiveFailures: cfg.Autonomous.CooldownAfterConsecutiveFailures,
	})
	fe := fees.New(fees.Policy{
		PlatformFeeBps: cfg.Trading.PlatformFeeBps,
		TakerFeeBps:    cfg.Trading.TakerFeeBps,
	})
	re := receipt.NewEngine(signer)

	agents := agent.NewService(st, clk, agent.Defaults{
		StartingCapitalUsd: cfg.Trading.DefaultStartingCapitalUsd,
		RiskLimits:         cfg.Risk.Limits(),
	}, logger)
	intents := intent.NewService(st, clk, cfg.Trading.DefaultMode, logger)
	exec := execution.NewService(st, clk, g, fe, re, logger)
	worker := execution.NewWorker(intents, exec,
		time.Duration(cfg.Worker.IntervalMs)*time.Millisecond,
		cfg.Worker.MaxBatchSize, logger)
	al := alerts.NewService(st, clk, logger)

	var poller *feed.Poller
	if cfg.Feed.Enabled {
		poller = feed.NewPoller(cfg.Feed.BaseURL, cfg.Trading.SupportedSymbols,
			cfg.Feed.PollInterval, st, clk, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
		bus:     b,
		store:   st,
		clk:     clk,
		agents:  agents,
		intents: intents,
		exec:    exec,
		worker:  worker,
		alerts:  al,
		feed:    poller,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Bus exposes the event bus so external surfaces (dashboard) can relay.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Store exposes the state store for snapshot readers.
func (e *Engine) Store() *state.Store { return e.store }

// Clock exposes the engine clock.
func (e *Engine) Clock() clock.Clock { return e.clk }

// Agents exposes the agent registry.
func (e *Engine) Agents() *agent.Service { return e.agents }

// Intents exposes the intent service.
func (e *Engine) Intents() *intent.Service { return e.intents }

// Alerts exposes the alert service.
func (e *Engine) Alerts() *alerts.Service { return e.alerts }

// Start launches the worker, the alert watcher, and the price feed.
func (e *Engine) Start() error {
	e.alerts.Start(e.bus)
	e.worker.Start()

	if e.feed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.feed.Run(e.ctx)
		}()
	}

	e.logger.Info("engine started",
		"mode", e.cfg.Trading.DefaultMode,
		"symbols", e.cfg.Trading.SupportedSymbols,
		"worker_interval_ms", e.cfg.Worker.IntervalMs,
		"feed_enabled", e.cfg.Feed.Enabled,
	)
	return nil
}

// Stop shuts everything down in dependency order and flushes the state
// file. In-flight executions complete before the store closes.
func (e *Engine) Stop() {
	e.logger.Info("engine stopping")

	e.cancel()
	e.wg.Wait()
	e.worker.Stop()
	e.alerts.Stop()

	if err := e.store.Close(); err != nil {
		e.logger.Error("state flush on shutdown failed", "error", err)
	}
	e.logger.Info("engine stopped")
}
