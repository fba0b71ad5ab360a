package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/grid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
)

const (
	maxKeywords    = 50
	maxSearchDepth = 100
	maxRadiusMiles = 50
)

// CampaignDefaults fills fields a new campaign leaves empty.
type CampaignDefaults struct {
	GridSize    int
	RadiusMiles float64
	SearchDepth int
}

// CampaignService manages campaigns and triggers their scans.
type CampaignService struct {
	campaigns  CampaignStore
	scans      *ScanService
	dispatcher Dispatcher
	defaults   CampaignDefaults
	logger     *logger.Logger
}

// NewCampaignService creates a campaign service.
func NewCampaignService(campaigns CampaignStore, scans *ScanService, dispatcher Dispatcher, log *logger.Logger, defaults *CampaignDefaults) *CampaignService {
	d := CampaignDefaults{GridSize: 7, RadiusMiles: 5, SearchDepth: 20}
	if defaults != nil {
		if defaults.GridSize > 0 {
			d.GridSize = defaults.GridSize
		}
		if defaults.RadiusMiles > 0 {
			d.RadiusMiles = defaults.RadiusMiles
		}
		if defaults.SearchDepth > 0 {
			d.SearchDepth = defaults.SearchDepth
		}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &CampaignService{campaigns: campaigns, scans: scans, dispatcher: dispatcher, defaults: d, logger: log}
}

func (s *CampaignService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateCampaign applies defaults, validates and stores a new campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	c.ID = ""
	c.BusinessName = strings.TrimSpace(c.BusinessName)
	c.Keywords = domain.StringArray(CleanKeywords(c.Keywords))
	if c.GridSize == 0 {
		c.GridSize = s.defaults.GridSize
	}
	if c.RadiusMiles == 0 {
		c.RadiusMiles = s.defaults.RadiusMiles
	}
	if c.SearchDepth == 0 {
		c.SearchDepth = s.defaults.SearchDepth
	}
	if c.Cadence == "" {
		c.Cadence = domain.CadenceWeekly
	}
	if c.SearchType == "" {
		c.SearchType = domain.SearchTypeMaps
	}
	if c.Status == "" {
		c.Status = domain.CampaignStatusActive
	}

	if err := ValidateCampaign(c); err != nil {
		return err
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCampaignID: c.ID,
		"grid_size":            c.GridSize,
		"keywords":             len(c.Keywords),
	}).Info("Campaign created")
	return nil
}

// GetCampaign returns a campaign by ID.
func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("campaign %s: %w", id, ErrCampaignNotFound)
		}
		return nil, err
	}
	return c, nil
}

// ListCampaigns lists campaigns, optionally filtered by owner.
func (s *CampaignService) ListCampaigns(ctx context.Context, ownerID string, limit, offset int) ([]domain.Campaign, error) {
	return s.campaigns.List(ctx, ownerID, limit, offset)
}

// SetStatus pauses, resumes or archives a campaign.
func (s *CampaignService) SetStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	switch status {
	case domain.CampaignStatusActive, domain.CampaignStatusPaused, domain.CampaignStatusArchived:
	default:
		return invalid("status", "unknown status %q", status)
	}
	if err := s.campaigns.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("campaign %s: %w", id, ErrCampaignNotFound)
		}
		return err
	}
	return nil
}

// TriggerScan creates a scan for the campaign and hands it to the
// dispatcher. Validation problems surface before any scan is created.
func (s *CampaignService) TriggerScan(ctx context.Context, campaignID string, trigger domain.ScanTrigger) (*domain.GridScan, error) {
	scan, err := s.scans.CreateScan(ctx, campaignID, trigger)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, scan.ID); err != nil {
		s.log(ctx).WithField(logger.FieldScanID, scan.ID).WithError(err).Error("Failed to dispatch scan")
		_ = s.scans.abort(ctx, scan, fmt.Errorf("dispatch: %w", err), domain.ScanCounters{})
		return nil, fmt.Errorf("failed to dispatch scan: %w", err)
	}
	return scan, nil
}

// ValidateCampaign rejects campaigns that cannot produce a scan.
func ValidateCampaign(c *domain.Campaign) error {
	if strings.TrimSpace(c.BusinessName) == "" {
		return invalid("business_name", "is required")
	}
	if c.Latitude == 0 && c.Longitude == 0 {
		return invalid("location", "campaign is missing coordinates")
	}
	spec := grid.Spec{
		Center:      grid.Coordinate{Lat: c.Latitude, Lng: c.Longitude},
		RadiusMiles: c.RadiusMiles,
		Size:        c.GridSize,
	}
	if err := spec.Validate(); err != nil {
		return invalid("grid", "%v", err)
	}
	if c.RadiusMiles > maxRadiusMiles {
		return invalid("radius_miles", "must be at most %d", maxRadiusMiles)
	}

	keywords := CleanKeywords(c.Keywords)
	if len(keywords) == 0 {
		return invalid("keywords", "at least one keyword is required")
	}
	if len(keywords) > maxKeywords {
		return invalid("keywords", "at most %d keywords are allowed", maxKeywords)
	}

	if c.Cadence != "" && c.Cadence.Interval() == 0 {
		return invalid("cadence", "unknown cadence %q", c.Cadence)
	}
	switch c.SearchType {
	case "", domain.SearchTypeMaps, domain.SearchTypeOrganic:
	default:
		return invalid("search_type", "unknown search type %q", c.SearchType)
	}
	if c.SearchDepth < 0 || c.SearchDepth > maxSearchDepth {
		return invalid("search_depth", "must be between 1 and %d", maxSearchDepth)
	}
	return nil
}

// CleanKeywords trims keywords, collapses inner whitespace and drops
// empties and case-insensitive duplicates, keeping first-seen order.
func CleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, kw := range in {
		kw = strings.Join(strings.Fields(kw), " ")
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}
