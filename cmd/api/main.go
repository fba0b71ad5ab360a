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

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/app"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	runPlanner := flag.Bool("planner", false, "Also run the cadence planner in this process")
	flag.Parse()

	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize engine")
	}

	if *runPlanner {
		go engine.Planner.Run(ctx, cfg.Scan.PlannerInterval)
	}

	// Setup router
	router := api.SetupRouter(&api.Services{
		Campaigns:    engine.Campaigns,
		Scans:        engine.Scans,
		Reference:    engine.Reference,
		HealthChecks: engine.HealthChecks(),
		Scheduler:    engine.Scheduler,
		Cache:        engine.Cache,
	}, &cfg.Server, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":     cfg.Server.Port,
			"mode":     cfg.Server.Mode,
			"dispatch": cfg.Dispatch.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Interrupt inline scans and wait for them to record their outcome
	cancel()
	if err := engine.Close(); err != nil {
		appLogger.WithError(err).Warn("Engine shutdown incomplete")
	}

	appLogger.Info("Server exited")
}
