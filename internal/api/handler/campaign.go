package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CampaignHandler handles campaign endpoints and scan triggering.
type CampaignHandler struct {
	campaigns *service.CampaignService
	scans     *service.ScanService
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(campaigns *service.CampaignService, scans *service.ScanService) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, scans: scans}
}

// CreateCampaignRequest is the body of POST /api/v1/campaigns. Zero grid
// fields fall back to the configured defaults.
type CreateCampaignRequest struct {
	OwnerID      string   `json:"owner_id"`
	BusinessName string   `json:"business_name" binding:"required"`
	Domain       string   `json:"domain"`
	PlaceID      string   `json:"place_id"`
	CID          string   `json:"cid"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	RadiusMiles  float64  `json:"radius_miles"`
	GridSize     int      `json:"grid_size"`
	Keywords     []string `json:"keywords" binding:"required"`
	Cadence      string   `json:"cadence"`
	SearchType   string   `json:"search_type"`
	SearchDepth  int      `json:"search_depth"`
	LanguageCode string   `json:"language_code"`
	Device       string   `json:"device"`
}

func (r *CreateCampaignRequest) campaign() *domain.Campaign {
	return &domain.Campaign{
		OwnerID:      r.OwnerID,
		BusinessName: r.BusinessName,
		Domain:       r.Domain,
		PlaceID:      r.PlaceID,
		CID:          r.CID,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		RadiusMiles:  r.RadiusMiles,
		GridSize:     r.GridSize,
		Keywords:     domain.StringArray(r.Keywords),
		Cadence:      domain.Cadence(r.Cadence),
		SearchType:   domain.SearchType(r.SearchType),
		SearchDepth:  r.SearchDepth,
		LanguageCode: r.LanguageCode,
		Device:       r.Device,
	}
}

// UpdateStatusRequest is the body of PUT /api/v1/campaigns/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreateCampaign handles POST /api/v1/campaigns.
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	campaign := req.campaign()
	if err := h.campaigns.CreateCampaign(c.Request.Context(), campaign); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// ListCampaigns handles GET /api/v1/campaigns.
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	limit, offset := pagination(c)
	campaigns, err := h.campaigns.ListCampaigns(c.Request.Context(), c.Query("owner_id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	c.JSON(http.StatusOK, gin.H{
		"campaigns": campaigns,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetCampaign handles GET /api/v1/campaigns/:id.
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	campaign, err := h.campaigns.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// UpdateStatus handles PUT /api/v1/campaigns/:id/status.
func (h *CampaignHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.campaigns.SetStatus(c.Request.Context(), c.Param("id"), domain.CampaignStatus(req.Status)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

// TriggerScan handles POST /api/v1/campaigns/:id/scans. The scan runs in
// the background; clients poll GET /api/v1/scans/:id.
func (h *CampaignHandler) TriggerScan(c *gin.Context) {
	scan, err := h.campaigns.TriggerScan(c.Request.Context(), c.Param("id"), domain.ScanTriggerManual)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"scan_id":      scan.ID,
		"status":       scan.Status,
		"total_points": scan.TotalPoints,
	})
}

// ScanHistory handles GET /api/v1/campaigns/:id/scans.
func (h *CampaignHandler) ScanHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > maxPageSize {
		limit = 20
	}
	scans, err := h.scans.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if scans == nil {
		scans = []domain.GridScan{}
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans})
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
