// Adaptive crypto trading bot for Kraken spot markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires store/exchange/engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — execution coordinator: one scheduler tick drives all pairs, places and records orders
//	engine/trader.go     — per-pair controller: regime confirmations, strategy switching, switch budget
//	analysis/analyzer.go — classifies each pair's market regime from ADX/ATR/choppiness/slope
//	strategy/            — signal generators: mean reversion, SMA crossover, MACD, breakout, grid
//	market/ohlc.go       — per-pair committed-candle cache fed from the exchange OHLC endpoint
//	portfolio/           — quote-budget sizing across pairs and fee-aware P&L arithmetic
//	exchange/client.go   — signed Kraken REST client (ticker, OHLC, orders, ledger fees)
//	exchange/normalize.go — floors volume/price to pair rules, enforces exchange minimums
//	store/store.go       — SQLite ledger: trades, positions, strategy switches, market conditions
//	api/                 — read-only dashboard: snapshot + overview REST, WebSocket event stream
//
// How it trades:
//
//	Each pair's market regime is re-classified on an interval. The regime
//	maps to one of five strategies; a switch happens only after the new
//	regime is confirmed several times in a row and the per-day switch
//	budget allows it. The active strategy turns candles into buy/sell
//	signals; the coordinator sizes each entry from the shared quote
//	balance, validates it against the pair's order rules, and records
//	every fill, position, and switch durably.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kraken-adaptive/internal/api"
	"kraken-adaptive/internal/config"
	"kraken-adaptive/internal/engine"
	"kraken-adaptive/internal/exchange"
	"kraken-adaptive/internal/store"
)

func main() {
	// Credentials usually live in .env during development; absence is fine.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
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

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}

	client, err := exchange.NewClient(cfg.Exchange, cfg.DryRun, logger)
	if err != nil {
		logger.Error("failed to create exchange client", "error", err)
		os.Exit(1)
	}

	eng := engine.New(*cfg, client, st, logger)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, st, eng.Events(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		st.Close()
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("adaptive trader started",
		"pairs", cfg.Trading.Pairs,
		"interval_min", cfg.Trading.OHLCInterval,
		"sizing_mode", cfg.Portfolio.SizingMode,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Dashboard first so no reader sees a closing store, then the engine
	// (which closes the event channel), then the store.
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	eng.Stop()
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
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
