// Package app wires configuration into the running engine. Both binaries
// build the same object graph and differ only in how scans are dispatched
// and driven.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api/handler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/dispatch"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/ranking"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/storage"
)

const cachePurgeInterval = 10 * time.Minute

// App holds the shared engine components of one process.
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *gorm.DB
	Scheduler *scheduler.Scheduler
	Cache     *cache.Cache

	Campaigns *service.CampaignService
	Scans     *service.ScanService
	Reference *service.ReferenceService
	Planner   *service.Planner

	// Dispatcher is set by Build according to the dispatch mode.
	Dispatcher service.Dispatcher

	closers []func() error
}

// Build wires the engine. ctx bounds inline scans and background upkeep;
// cancelling it interrupts them.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	campaignRepo := repository.NewCampaignRepository(db)
	scanRepo := repository.NewScanRepository(db)

	// Cache tier
	var store cache.Store
	switch cfg.Cache.Store {
	case "database":
		cacheRepo := repository.NewCacheRepository(db)
		store = cacheRepo
		go purgeCache(ctx, cacheRepo, log)
	default:
		store = cache.NewMemoryStore(cfg.Cache.MaxEntries)
	}
	a.Cache = cache.New(store, &cache.Config{SingleFlight: cfg.Cache.SingleFlight}, log)

	a.Scheduler = scheduler.New(
		scheduler.FromConfig(cfg.Scheduler.Classes),
		scheduler.WithClassifier(provider.IsRetryable),
		scheduler.WithLogger(log),
	)

	providerClient := provider.NewClient(&provider.Config{
		BaseURL:  cfg.Provider.BaseURL,
		Login:    cfg.Provider.Login,
		Password: cfg.Provider.Password,
		Timeout:  cfg.Provider.Timeout,
	})
	if cfg.Provider.Login == "" {
		log.Warn("Provider credentials are not configured; lookups will be rejected")
	}

	rankingClient := ranking.NewClient(providerClient, a.Scheduler, a.Cache, log, &ranking.Config{
		Mode:         cfg.Provider.Mode,
		LanguageCode: cfg.Provider.LanguageCode,
		Device:       cfg.Provider.Device,
		DefaultDepth: cfg.Provider.SearchDepth,
		PollInterval: cfg.Provider.PollInterval,
		MaxPolls:     cfg.Provider.MaxPolls,
		SerpTTL:      cfg.Cache.SerpTTL,
	})

	exporter, err := newExporter(ctx, &cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Scans = service.NewScanService(campaignRepo, scanRepo, rankingClient, exporter, log, &service.ScanConfig{
		MaxFanOut:          cfg.Scan.MaxFanOut,
		CancelPollInterval: cfg.Scan.CancelPollInterval,
		DrainTimeout:       cfg.Scan.DrainTimeout,
	})

	switch cfg.Dispatch.Mode {
	case dispatch.ModeAMQP:
		publisher, err := dispatch.NewPublisher(&cfg.Dispatch)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize scan queue: %w", err)
		}
		a.Dispatcher = publisher
		a.closers = append(a.closers, publisher.Close)
	default:
		inline := dispatch.NewInline(ctx, a.Scans, log)
		a.Dispatcher = inline
		a.closers = append(a.closers, func() error {
			return inline.Close(cfg.Scan.DrainTimeout + 30*time.Second)
		})
	}

	a.Campaigns = service.NewCampaignService(campaignRepo, a.Scans, a.Dispatcher, log, &service.CampaignDefaults{
		GridSize:    cfg.Scan.DefaultGridSize,
		RadiusMiles: cfg.Scan.DefaultRadiusMiles,
		SearchDepth: cfg.Provider.SearchDepth,
	})
	a.Planner = service.NewPlanner(campaignRepo, scanRepo, a.Campaigns, log)
	a.Reference = service.NewReferenceService(providerClient, a.Scheduler, a.Cache, cache.TTLs{
		Reference: cfg.Cache.ReferenceTTL,
		Keywords:  cfg.Cache.KeywordsTTL,
	}, log)

	return a, nil
}

// HealthChecks returns the dependency checks served on /health.
func (a *App) HealthChecks() map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// Close releases resources in reverse order of creation. Inline scans are
// waited for, bounded by the drain timeout.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newExporter(ctx context.Context, cfg *config.StorageConfig, log *logger.Logger) (service.SnapshotExporter, error) {
	objectStorage, err := storage.New(cfg)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if b, ok := objectStorage.(interface{ EnsureBucket(context.Context) error }); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("Failed to ensure snapshot bucket")
		}
	}
	log.WithField("bucket", cfg.Bucket).Info("Scan snapshot export enabled")
	return storage.NewSnapshotExporter(objectStorage, cfg.Prefix), nil
}

func purgeCache(ctx context.Context, repo *repository.CacheRepository, log *logger.Logger) {
	ticker := time.NewTicker(cachePurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to purge expired cache entries")
				continue
			}
			if n > 0 {
				log.WithField(logger.FieldCount, n).Debug("Purged expired cache entries")
			}
		}
	}
}
