// Package main provides the entry point for replaying the
// settlement-arbitrage strategy over historical daily bars and printing a
// performance report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/backtest"
	"github.com/atlas-desktop/settlement-arbitrage/internal/cnfutures"
	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/internal/logging"
	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/internal/vwap"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	startFlag := flag.String("start", "", "Replay start date (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "Replay end date (YYYY-MM-DD)")
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

	start, end, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid date range: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting backtest",
		zap.Strings("symbols", cfg.Strategy.Symbols),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	m := metrics.New(prometheus.NewRegistry())
	provider := cnfutures.New(logger, m)
	vwapCalc := vwap.NewCalculator(logger, provider, m)
	engine := backtest.New(logger, provider, vwapCalc)

	report, err := engine.Run(context.Background(), start, end, cfg.Strategy, cfg.Backtest)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal("failed to encode report", zap.Error(err))
	}
}

func parseRange(startFlag, endFlag string) (time.Time, time.Time, error) {
	end := time.Now()
	if endFlag != "" {
		parsed, err := time.Parse(dateLayout, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end date: %w", err)
		}
		end = parsed
	}

	start := end.AddDate(-1, 0, 0)
	if startFlag != "" {
		parsed, err := time.Parse(dateLayout, startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start date: %w", err)
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s must be before end date %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	return start, end, nil
}
