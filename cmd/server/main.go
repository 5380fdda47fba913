// Package main provides the entry point for the pyramid trading backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantavest/pyramid-backend/internal/api"
	"github.com/quantavest/pyramid-backend/internal/config"
	"github.com/quantavest/pyramid-backend/internal/gateway"
	"github.com/quantavest/pyramid-backend/internal/ledger"
	"github.com/quantavest/pyramid-backend/internal/market"
	"github.com/quantavest/pyramid-backend/internal/metrics"
	"github.com/quantavest/pyramid-backend/internal/runner"
	"github.com/quantavest/pyramid-backend/internal/store"
	"github.com/quantavest/pyramid-backend/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	simulate := flag.Bool("sim", false, "Force simulation mode (synthetic candles, paper orders)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	simulated := *simulate || cfg.Exchange.Simulated()

	logger.Info("Starting pyramid trading backend",
		zap.String("symbol", cfg.Strategy.Symbol),
		zap.Duration("interval", cfg.Strategy.CheckInterval),
		zap.Bool("simulated", simulated),
	)

	db, err := store.NewSQLite(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open account store", zap.Error(err))
	}
	defer db.Close()

	ldgr := ledger.New(logger, db)

	var src market.Source
	var gw gateway.Gateway
	if simulated {
		src = market.NewSimulatedSource(decimal.NewFromInt(50000))
		gw = gateway.NewPaperGateway(logger)
	} else {
		src = market.NewHuobiSource(logger, cfg.Exchange.RESTURL, cfg.Exchange.Timeout)
		gw = gateway.NewHuobiGateway(logger, cfg.Exchange.RESTURL,
			cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Timeout)
	}

	engine := strategy.New(logger, ldgr, src, gw, strategy.ConfigFrom(cfg.Strategy))
	m := metrics.New()

	server := api.NewServer(logger, cfg.Server, strategy.ConfigFrom(cfg.Strategy), ldgr, engine, m)

	loop := runner.New(logger, ldgr, engine, m, cfg.Strategy.CheckInterval, server.BroadcastReport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	// Stop the loop first so no mutation is cut off mid-account.
	loop.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
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
