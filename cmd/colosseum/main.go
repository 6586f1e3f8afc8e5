// Colosseum — an autonomous agent trading platform.
//
// Agents register with starting capital and risk limits, submit trade
// intents over the HTTP API (idempotent by client key), and a background
// worker fills them against the live market price feed. Every fill is
// stamped with a hash-chained, optionally ECDSA-countersigned receipt.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine + API, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: wires store, bus, services, worker, feed, alerts
//	intent/service.go        — intent admission: validation, symbol normalization, idempotency
//	execution/service.go     — fill pipeline: guard → risk → fill math → ledger → receipt
//	execution/worker.go      — interval pump draining pending intents oldest-first
//	risk/risk.go             — pure pre-trade rule chain (notional, exposure, loss caps, cooldown)
//	guard/guard.go           — per-agent kill switch: drawdown halt + failure-streak cooldown
//	receipt/receipt.go       — tamper-evident execution receipts chained per agent
//	feed/feed.go             — HTTP price poller feeding the store and price.updated events
//	alerts/service.go        — per-symbol threshold alerts fired from price updates
//	state/state.go           — single-writer app state with atomic JSON persistence
//	api/server.go            — dashboard HTTP/WebSocket surface
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"colosseum/internal/api"
	"colosseum/internal/config"
	"colosseum/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COLOSSEUM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng.Store(), eng.Bus(),
			eng.Agents(), eng.Intents(), eng.Alerts(), eng.Clock(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("colosseum started",
		"default_mode", cfg.Trading.DefaultMode,
		"symbols", cfg.Trading.SupportedSymbols,
		"platform_fee_bps", cfg.Trading.PlatformFeeBps,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
