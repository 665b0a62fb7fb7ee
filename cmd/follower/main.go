// Trade Follower — mirrors one trading account's orders onto another.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires gateways onto the bus, waits for SIGINT/SIGTERM
//	follow/engine.go     — the follower: routes events, runs filters, builds and tracks child orders
//	follow/builder.go    — signal → order requests: multiplier, inversion, intraday split, volume split
//	follow/tracker.go    — working-order state machine: timeout cancel, price chase, loss accounting
//	follow/sync.go       — manual reconciliation planners (open/close legs, net delta, baseline)
//	market/              — symbol catalog + per-contract price cache (top of book, daily limits)
//	offset/converter.go  — rewrites closes into today/yesterday legs for SHFE/INE
//	gateway/rpc.go       — HTTP command client toward a gateway process (send, cancel, queries)
//	gateway/feed.go      — WebSocket event stream pump with auto-reconnect
//	bus/bus.go           — single-consumer event bus; all engine state mutates on one goroutine
//	store/store.go       — JSON/CSV persistence: settings, run data, history snapshots, trade exports
//
// Two gateway endpoints are configured: the source account provides the
// signal stream, the target account executes the mirrored orders. The
// engine itself never speaks a broker protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"follow-trader/internal/api"
	"follow-trader/internal/bus"
	"follow-trader/internal/config"
	"follow-trader/internal/follow"
	"follow-trader/internal/gateway"
	"follow-trader/internal/store"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FOLLOW_CONFIG"); p != "" {
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

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	b := bus.New(cfg.Bus.QueueSize, cfg.Bus.TimerInterval, logger)

	source := gateway.NewRPCGateway(cfg.Source.Name, cfg.Source.RPCURL, logger)
	target := gateway.NewRPCGateway(cfg.Target.Name, cfg.Target.RPCURL, logger)

	engine, err := follow.New(cfg, b, st, source, target, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx)

	sourceFeed := gateway.NewFeed(cfg.Source.Name, cfg.Source.WSURL, b, logger)
	targetFeed := gateway.NewFeed(cfg.Target.Name, cfg.Target.WSURL, b, logger)
	go sourceFeed.Run(ctx)
	go targetFeed.Run(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, engine, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("command server failed", "error", err)
			}
		}()
		logger.Info("command api started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	engine.Start()
	logger.Info("trade follower started",
		"source", cfg.Source.Name,
		"target", cfg.Target.Name,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop command server", "error", err)
		}
	}

	engine.Stop()
	cancel()
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
