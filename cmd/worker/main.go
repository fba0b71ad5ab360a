package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/app"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/dispatch"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
)

func main() {
	// Initialize logger first
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Parse command line flags
	scanID := flag.String("scan", "", "Run a single scan by ID and exit")
	planOnce := flag.Bool("plan-once", false, "Create due scheduled scans once and exit")
	plan := flag.Bool("plan", false, "Run the cadence planner alongside the consumer")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLogger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	engine, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			appLogger.WithError(err).Warn("Engine shutdown incomplete")
		}
	}()

	switch {
	case *scanID != "":
		runCtx := logger.SetScanID(ctx, *scanID)
		start := time.Now()
		if err := engine.Scans.RunScan(runCtx, *scanID); err != nil {
			appLogger.WithError(err).WithField(logger.FieldScanID, *scanID).Error("Scan did not complete")
			return
		}
		logger.With(logger.Fields{logger.FieldScanID: *scanID}).
			WithDuration(time.Since(start)).
			Info(ctx, "Scan completed")

	case *planOnce:
		stats, err := engine.Planner.PlanDueScans(ctx, time.Now())
		if err != nil {
			appLogger.WithError(err).Error("Planning failed")
			return
		}
		appLogger.WithFields(logger.Fields{
			"checked": stats.Checked,
			"created": stats.Created,
			"skipped": stats.Skipped,
			"failed":  stats.Failed,
		}).Info("Planning completed")

	default:
		if cfg.Dispatch.Mode != dispatch.ModeAMQP {
			appLogger.Error("Worker consumption requires dispatch.mode=amqp; use -scan or -plan-once otherwise")
			return
		}
		if *plan {
			go engine.Planner.Run(ctx, cfg.Scan.PlannerInterval)
		}
		consume(ctx, cfg, engine, appLogger)
	}
}

func consume(ctx context.Context, cfg *config.Config, engine *app.App, log *logger.Logger) {
	consumer, err := dispatch.NewConsumer(&cfg.Dispatch, engine.Scans, log)
	if err != nil {
		log.WithError(err).Error("Failed to start consumer")
		return
	}
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Consumer stopped")
		return
	}
	log.Info("Worker stopped")
}
