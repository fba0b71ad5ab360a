package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthSources feed the health response. Nil fields are left out.
type HealthSources struct {
	Checks   map[string]HealthCheck
	Running  func() int
	Limiters func() map[string]scheduler.LimiterStats
	Cache    func() cache.Stats
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	src HealthSources
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(src HealthSources) *HealthHandler {
	return &HealthHandler{src: src}
}

// Health returns the health status of the service along with scheduler and
// cache counters.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.src.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.src.Running != nil {
		body["running_scans"] = h.src.Running()
	}
	if h.src.Limiters != nil {
		body["limiters"] = h.src.Limiters()
	}
	if h.src.Cache != nil {
		body["cache"] = h.src.Cache()
	}
	c.JSON(status, body)
}
