// Package main runs a portfolio backtest from a config file and writes the
// resulting ledger, orders, fills, trades, and summary to disk.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/backtester/internal/backtester"
	"github.com/atlas-desktop/backtester/internal/config"
	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/internal/metrics"
	"github.com/atlas-desktop/backtester/internal/report"
	"github.com/atlas-desktop/backtester/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dataPath := flag.String("data", "", "Price table JSON (overrides config)")
	strategyName := flag.String("strategy", "", "Strategy name (overrides config)")
	outputDir := flag.String("out", "", "Report output directory (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics-addr", "", "Optional Prometheus listen address, e.g. :9090")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if *strategyName != "" {
		cfg.Strategy.Name = *strategyName
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	logger.Info("Starting backtest",
		zap.String("strategy", cfg.Strategy.Name),
		zap.String("data", cfg.Data.Path),
		zap.Float64("initialCash", cfg.Backtest.InitialCash),
	)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	store, err := loadStore(logger, cfg)
	if err != nil {
		logger.Fatal("Failed to load price data", zap.Error(err))
	}
	logger.Info("Price data loaded",
		zap.Int("bars", store.NumBars()),
		zap.Strings("symbols", store.Symbols()),
	)

	registry := strategy.NewRegistry(logger)
	strat, err := registry.Create(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		logger.Fatal("Failed to create strategy",
			zap.String("name", cfg.Strategy.Name),
			zap.Strings("available", registry.Names()),
			zap.Error(err),
		)
	}

	costModel, err := backtester.NewBpsCost(cfg.Costs.FeesBps, cfg.Costs.SlippageBps)
	if err != nil {
		logger.Fatal("Invalid cost config", zap.Error(err))
	}

	engine := backtester.NewEngine(logger, store, nil, costModel)
	result, err := engine.Run(ctx, cfg.Backtest, strat)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	calc := metrics.NewCalculator(logger)
	var summaryOut *metrics.Summary
	summary, err := calc.Summarize(result.Ledger, cfg.RiskFree)
	if err != nil {
		logger.Warn("Equity curve not summarizable", zap.Error(err))
	} else {
		summaryOut = &summary
		logger.Info("Performance summary",
			zap.Float64("totalReturn", summary.TotalReturn),
			zap.Float64("cagr", summary.CAGR),
			zap.Float64("annualVol", summary.AnnualVol),
			zap.Float64("sharpe", summary.Sharpe),
			zap.Float64("maxDrawdown", summary.MaxDrawdown),
		)
	}

	tradeStats := calc.Trades(result.Trades)
	logger.Info("Trade summary",
		zap.Int("trades", tradeStats.TotalTrades),
		zap.Float64("winRate", tradeStats.WinRate),
		zap.Float64("profitFactor", tradeStats.ProfitFactor),
		zap.Duration("avgHolding", tradeStats.AvgHoldingTime),
	)

	if len(result.Trades) > 0 {
		mc := metrics.NewMonteCarloSimulator(logger, cfg.MonteCarlo)
		mc.Run(result.Trades, cfg.Backtest.InitialCash)
	}

	writer := report.NewWriter(logger)
	if err := writer.WriteAll(cfg.OutputDir, result, summaryOut); err != nil {
		logger.Fatal("Failed to write reports", zap.Error(err))
	}

	logger.Info("Backtest complete",
		zap.Int("barsProcessed", result.BarsProcessed),
		zap.Duration("duration", result.Duration),
		zap.String("outputDir", cfg.OutputDir),
	)
}

func loadStore(logger *zap.Logger, cfg *config.RunConfig) (*data.Store, error) {
	if cfg.Data.Path != "" {
		return data.LoadJSON(logger, cfg.Data.Path)
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return data.GenerateSample(logger, cfg.Data.Symbols, start, 24*time.Hour, cfg.Data.SampleBars, cfg.Data.SampleSeed)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
