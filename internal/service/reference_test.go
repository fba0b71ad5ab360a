package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReferenceProvider struct {
	mu            sync.Mutex
	locationCalls int
	volumeCalls   int
	lastKeywords  []string
}

func (f *fakeReferenceProvider) Locations(_ context.Context, iso string) ([]provider.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locationCalls++
	return []provider.Location{{Code: 2840, Name: "United States", CountryISO: iso, Type: "Country"}}, nil
}

func (f *fakeReferenceProvider) SearchVolume(_ context.Context, keywords []string, _ int, _ string) ([]provider.KeywordVolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumeCalls++
	f.lastKeywords = keywords
	out := make([]provider.KeywordVolume, len(keywords))
	for i, kw := range keywords {
		v := 100 * (i + 1)
		out[i] = provider.KeywordVolume{Keyword: kw, SearchVolume: &v}
	}
	return out, nil
}

func newTestReferenceService(p ReferenceProvider) *ReferenceService {
	classes := map[string]scheduler.LimiterConfig{}
	for _, class := range config.RequiredClasses {
		classes[class] = scheduler.LimiterConfig{
			MaxConcurrent: 2,
			Timeout:       time.Second,
			Backoff:       scheduler.BackoffPolicy{MaxAttempts: 1},
		}
	}
	sched := scheduler.New(classes, scheduler.WithClassifier(provider.IsRetryable))
	c := cache.New(cache.NewMemoryStore(100), &cache.Config{SingleFlight: true}, nil)
	return NewReferenceService(p, sched, c, cache.TTLs{}, nil)
}

func TestReferenceService_LocationsAreCached(t *testing.T) {
	p := &fakeReferenceProvider{}
	svc := newTestReferenceService(p)
	ctx := context.Background()

	locs, err := svc.Locations(ctx, "us")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "US", locs[0].CountryISO)

	_, err = svc.Locations(ctx, " US ")
	require.NoError(t, err)
	assert.Equal(t, 1, p.locationCalls)

	_, err = svc.Locations(ctx, "USA")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReferenceService_SearchVolume(t *testing.T) {
	p := &fakeReferenceProvider{}
	svc := newTestReferenceService(p)
	ctx := context.Background()

	vols, err := svc.SearchVolume(ctx, []string{"dentist", "Dentist", "dental implants"}, 2840, "en")
	require.NoError(t, err)
	assert.Len(t, vols, 2)
	assert.Equal(t, []string{"dentist", "dental implants"}, p.lastKeywords)

	// same set in another order hits the cache
	_, err = svc.SearchVolume(ctx, []string{"dental implants", "dentist"}, 2840, "en")
	require.NoError(t, err)
	assert.Equal(t, 1, p.volumeCalls)

	_, err = svc.SearchVolume(ctx, []string{"dentist"}, 0, "en")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SearchVolume(ctx, nil, 2840, "en")
	assert.ErrorIs(t, err, ErrValidation)
}
