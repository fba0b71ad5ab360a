package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

// ScanHandler serves scan polling and result endpoints.
type ScanHandler struct {
	scans *service.ScanService
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(scans *service.ScanService) *ScanHandler {
	return &ScanHandler{scans: scans}
}

// GetScan handles GET /api/v1/scans/:id.
func (h *ScanHandler) GetScan(c *gin.Context) {
	progress, err := h.scans.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// CancelScan handles POST /api/v1/scans/:id/cancel.
func (h *ScanHandler) CancelScan(c *gin.Context) {
	if err := h.scans.CancelScan(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scan_id": c.Param("id"), "cancel_requested": true})
}

// Results handles GET /api/v1/scans/:id/results.
func (h *ScanHandler) Results(c *gin.Context) {
	results, err := h.scans.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if results == nil {
		results = []domain.GridPointResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Competitors handles GET /api/v1/scans/:id/competitors.
func (h *ScanHandler) Competitors(c *gin.Context) {
	stats, err := h.scans.Competitors(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if stats == nil {
		stats = []domain.CompetitorStat{}
	}
	c.JSON(http.StatusOK, gin.H{"competitors": stats})
}
