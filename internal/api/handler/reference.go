package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

// ReferenceHandler exposes provider reference data.
type ReferenceHandler struct {
	reference *service.ReferenceService
}

func NewReferenceHandler(reference *service.ReferenceService) *ReferenceHandler {
	return &ReferenceHandler{reference: reference}
}

// SearchVolumeRequest is the body of POST /api/v1/reference/search-volume.
type SearchVolumeRequest struct {
	Keywords     []string `json:"keywords" binding:"required"`
	LocationCode int      `json:"location_code" binding:"required"`
	LanguageCode string   `json:"language_code"`
}

// Locations handles GET /api/v1/reference/locations?country=US.
func (h *ReferenceHandler) Locations(c *gin.Context) {
	locations, err := h.reference.Locations(c.Request.Context(), c.DefaultQuery("country", "US"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations})
}

// SearchVolume handles POST /api/v1/reference/search-volume.
func (h *ReferenceHandler) SearchVolume(c *gin.Context) {
	var req SearchVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.LanguageCode == "" {
		req.LanguageCode = "en"
	}

	volumes, err := h.reference.SearchVolume(c.Request.Context(), req.Keywords, req.LocationCode, req.LanguageCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volumes": volumes})
}
