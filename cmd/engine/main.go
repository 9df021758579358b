// Package main provides the entry point for the settlement-arbitrage
// trading engine: live minute-bar ingestion, signal generation, position
// tracking, and risk enforcement for Chinese stock-index futures.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/cnfutures"
	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/internal/logging"
	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/internal/position"
	"github.com/atlas-desktop/settlement-arbitrage/internal/risk"
	"github.com/atlas-desktop/settlement-arbitrage/internal/scheduler"
	"github.com/atlas-desktop/settlement-arbitrage/internal/strategy"
	"github.com/atlas-desktop/settlement-arbitrage/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting settlement-arbitrage engine",
		zap.Strings("symbols", cfg.Strategy.Symbols),
		zap.String("dataDir", cfg.DataDir),
		zap.String("metricsAddr", cfg.MetricsAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	provider := cnfutures.New(logger, m)

	store, err := data.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	handler := data.NewMinuteDataHandler(logger, provider, store, m)
	strat := strategy.New(logger, cfg.Strategy)
	positionMgr := position.New(logger, m)
	riskMgr := risk.New(logger, cfg.Risk, m)

	sink := webhook.New(logger)

	sched := scheduler.New(logger, provider, handler, strat, positionMgr, riskMgr, sink, m, cfg.Strategy)

	metricsSrv := startMetricsServer(logger, cfg.MetricsAddr, registry, ctx)

	sched.Start(ctx)
	logger.Info("engine running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	logger.Info("engine stopped")
}

func startMetricsServer(logger *zap.Logger, addr string, reg *prometheus.Registry, ctx context.Context) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
