package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
)

const maxVolumeKeywords = 100

// ReferenceProvider is the reference-data part of the provider API.
type ReferenceProvider interface {
	Locations(ctx context.Context, countryISO string) ([]provider.Location, error)
	SearchVolume(ctx context.Context, keywords []string, locationCode int, languageCode string) ([]provider.KeywordVolume, error)
}

// ReferenceService serves slow-changing provider data through the shared
// cache and scheduler.
type ReferenceService struct {
	provider  ReferenceProvider
	scheduler *scheduler.Scheduler
	cache     *cache.Cache
	ttls      cache.TTLs
	logger    *logger.Logger
}

// NewReferenceService creates a reference data service.
func NewReferenceService(p ReferenceProvider, sched *scheduler.Scheduler, c *cache.Cache, ttls cache.TTLs, log *logger.Logger) *ReferenceService {
	def := cache.DefaultTTLs()
	if ttls.Reference <= 0 {
		ttls.Reference = def.Reference
	}
	if ttls.Keywords <= 0 {
		ttls.Keywords = def.Keywords
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &ReferenceService{provider: p, scheduler: sched, cache: c, ttls: ttls, logger: log}
}

// Locations returns the location table of a country.
func (s *ReferenceService) Locations(ctx context.Context, countryISO string) ([]provider.Location, error) {
	iso := strings.ToUpper(strings.TrimSpace(countryISO))
	if len(iso) != 2 {
		return nil, invalid("country", "expected a two-letter ISO code, got %q", countryISO)
	}

	key := cache.Key("locations", iso)
	locations, _, err := cache.GetOrFetch(ctx, s.cache, key, s.ttls.Reference,
		func(ctx context.Context) ([]provider.Location, error) {
			return scheduler.Do(ctx, s.scheduler, config.ClassGeneral, func(ctx context.Context) ([]provider.Location, error) {
				return s.provider.Locations(ctx, iso)
			})
		})
	if err != nil {
		return nil, err
	}
	return locations, nil
}

// SearchVolume returns monthly search volumes for keywords in a location.
// The keyword set is normalized so reordered requests share a cache entry.
func (s *ReferenceService) SearchVolume(ctx context.Context, keywords []string, locationCode int, languageCode string) ([]provider.KeywordVolume, error) {
	cleaned := CleanKeywords(keywords)
	if len(cleaned) == 0 {
		return nil, invalid("keywords", "at least one keyword is required")
	}
	if len(cleaned) > maxVolumeKeywords {
		return nil, invalid("keywords", "at most %d keywords per request", maxVolumeKeywords)
	}
	if locationCode <= 0 {
		return nil, invalid("location_code", "is required")
	}

	parts := make([]string, len(cleaned))
	for i, kw := range cleaned {
		parts[i] = strings.ToLower(kw)
	}
	sort.Strings(parts)
	key := cache.Key("volume", strconv.Itoa(locationCode), languageCode, strings.Join(parts, "\n"))

	start := time.Now()
	volumes, cached, err := cache.GetOrFetch(ctx, s.cache, key, s.ttls.Keywords,
		func(ctx context.Context) ([]provider.KeywordVolume, error) {
			return scheduler.Do(ctx, s.scheduler, config.ClassKeywords, func(ctx context.Context) ([]provider.KeywordVolume, error) {
				return s.provider.SearchVolume(ctx, cleaned, locationCode, languageCode)
			})
		})
	if err != nil {
		return nil, err
	}

	logger.With(logger.Fields{"cached": cached}).
		WithCount(len(volumes)).
		WithDuration(time.Since(start)).
		Debug(ctx, "Search volume resolved")
	return volumes, nil
}
