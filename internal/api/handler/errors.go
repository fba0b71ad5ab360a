package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api/middleware"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

// respondError maps service errors onto HTTP statuses. Unexpected errors
// are logged and reported without detail.
func respondError(c *gin.Context, err error) {
	var ve *service.ValidationError
	var pe *provider.Error
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	case errors.Is(err, service.ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
	case errors.Is(err, service.ErrScanActive):
		c.JSON(http.StatusConflict, gin.H{"error": "Campaign already has a scan in progress"})
	case errors.Is(err, service.ErrScanTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Scan has already finished"})
	case errors.As(err, &pe):
		middleware.GetLogger(c).WithError(err).Warn("Provider request failed")
		status := http.StatusBadGateway
		if pe.Kind == provider.KindRateLimited {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Upstream provider error", "kind": pe.Kind})
	default:
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
