package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api/handler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api/middleware"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

// Services are the dependencies the routes are served from.
type Services struct {
	Campaigns    *service.CampaignService
	Scans        *service.ScanService
	Reference    *service.ReferenceService
	HealthChecks map[string]handler.HealthCheck

	// Scheduler and Cache are optional; their counters are reported on /health.
	Scheduler *scheduler.Scheduler
	Cache     *cache.Cache
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	health := handler.HealthSources{Checks: svc.HealthChecks, Running: svc.Scans.Running}
	if svc.Scheduler != nil {
		health.Limiters = svc.Scheduler.Stats
	}
	if svc.Cache != nil {
		health.Cache = svc.Cache.Stats
	}
	healthHandler := handler.NewHealthHandler(health)
	campaignHandler := handler.NewCampaignHandler(svc.Campaigns, svc.Scans)
	scanHandler := handler.NewScanHandler(svc.Scans)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Campaigns
		v1.POST("/campaigns", campaignHandler.CreateCampaign)
		v1.GET("/campaigns", campaignHandler.ListCampaigns)
		v1.GET("/campaigns/:id", campaignHandler.GetCampaign)
		v1.PUT("/campaigns/:id/status", campaignHandler.UpdateStatus)
		v1.POST("/campaigns/:id/scans", campaignHandler.TriggerScan)
		v1.GET("/campaigns/:id/scans", campaignHandler.ScanHistory)

		// Scans
		v1.GET("/scans/:id", scanHandler.GetScan)
		v1.POST("/scans/:id/cancel", scanHandler.CancelScan)
		v1.GET("/scans/:id/results", scanHandler.Results)
		v1.GET("/scans/:id/competitors", scanHandler.Competitors)

		// Reference data
		if svc.Reference != nil {
			referenceHandler := handler.NewReferenceHandler(svc.Reference)
			v1.GET("/reference/locations", referenceHandler.Locations)
			v1.POST("/reference/search-volume", referenceHandler.SearchVolume)
		}
	}

	return r
}
