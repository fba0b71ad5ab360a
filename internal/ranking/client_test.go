package ranking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/grid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	live     int
	posts    int
	gets     int
	notReady int
	items    []provider.Item
	errs     []error
}

func (f *fakeProvider) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeProvider) LiveSearch(ctx context.Context, q provider.SerpQuery) (*provider.SerpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live++
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &provider.SerpResult{Keyword: q.Keyword, Items: f.items}, nil
}

func (f *fakeProvider) PostTask(ctx context.Context, q provider.SerpQuery) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	return "task-1", nil
}

func (f *fakeProvider) GetTask(ctx context.Context, t domain.SearchType, id string) (*provider.SerpResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.gets <= f.notReady {
		return nil, false, nil
	}
	return &provider.SerpResult{Items: f.items}, true, nil
}

func testScheduler(attempts int) *scheduler.Scheduler {
	classes := map[string]scheduler.LimiterConfig{}
	for _, class := range config.RequiredClasses {
		classes[class] = scheduler.LimiterConfig{
			MaxConcurrent: 4,
			Timeout:       time.Second,
			Backoff:       scheduler.BackoffPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 1},
		}
	}
	return scheduler.New(classes, scheduler.WithClassifier(provider.IsRetryable))
}

func rating(v float64, votes int) *provider.Rating {
	return &provider.Rating{Value: &v, VotesCount: votes}
}

func mapsItems(n int) []provider.Item {
	items := make([]provider.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, provider.MapsItem{
			RankGroup: i,
			Title:     fmt.Sprintf("Business %d", i),
			PlaceID:   fmt.Sprintf("P%d", i),
			Rating:    rating(4.0, i*10),
		})
	}
	return items
}

func newTestClient(p SerpProvider, attempts int, cfg *Config) *Client {
	return NewClient(p, testScheduler(attempts), cache.New(cache.NewMemoryStore(100), nil, nil), nil, cfg)
}

func TestLookupRanking_FindsTargetAndCapsEntities(t *testing.T) {
	items := mapsItems(30)
	items = append([]provider.Item{provider.OrganicItem{Title: "Not a map result"}}, items...)
	p := &fakeProvider{items: items}
	client := newTestClient(p, 1, &Config{DefaultDepth: 40})

	obs, err := client.LookupRanking(context.Background(), Lookup{
		Coordinate: grid.Coordinate{Lat: 30, Lng: -97},
		Keyword:    "dentist",
		SearchType: domain.SearchTypeMaps,
		Target:     Target{PlaceID: "P25"},
	})
	require.NoError(t, err)

	require.NotNil(t, obs.TargetRank)
	assert.Equal(t, 25, *obs.TargetRank)
	assert.Len(t, obs.TopEntities, MaxTopEntities)
	assert.Equal(t, "Business 1", obs.TopEntities[0].Name)
	assert.Equal(t, 1, obs.TopEntities[0].Rank)
	assert.Equal(t, 1, obs.APICalls)
	assert.False(t, obs.CacheHit)
}

func TestLookupRanking_NotFoundWithinDepth(t *testing.T) {
	p := &fakeProvider{items: mapsItems(30)}
	client := newTestClient(p, 1, &Config{DefaultDepth: 20})

	obs, err := client.LookupRanking(context.Background(), Lookup{
		Keyword: "dentist",
		Target:  Target{PlaceID: "P25"},
	})
	require.NoError(t, err)
	assert.Nil(t, obs.TargetRank)
}

func TestLookupRanking_MatchRules(t *testing.T) {
	items := []provider.Item{
		provider.OrganicItem{Title: "Yelp list", Domain: "yelp.com"},
		provider.LocalPackItem{Title: "Bright Smiles Dental Austin", CID: "777"},
		provider.OrganicItem{Title: "Home", Domain: "www.BrightSmiles.com"},
		provider.MapsItem{Title: "ignored in organic"},
	}

	tests := []struct {
		name   string
		target Target
		want   *int
	}{
		{"by domain ignoring www and case", Target{Domain: "https://brightsmiles.com/"}, intPtr(3)},
		{"by name substring", Target{Name: "bright smiles"}, intPtr(2)},
		{"by cid", Target{CID: "777"}, intPtr(2)},
		{"no match", Target{Name: "Other Clinic", Domain: "other.com"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(&fakeProvider{items: items}, 1, nil)
			obs, err := client.LookupRanking(context.Background(), Lookup{
				Keyword:    "dentist",
				SearchType: domain.SearchTypeOrganic,
				Target:     tt.target,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, obs.TargetRank)
			assert.Len(t, obs.TopEntities, 3)
		})
	}
}

func TestLookupRanking_CacheSharedAcrossTargets(t *testing.T) {
	p := &fakeProvider{items: mapsItems(5)}
	client := newTestClient(p, 1, nil)
	ctx := context.Background()
	coord := grid.Coordinate{Lat: 30.1, Lng: -97.2}

	first, err := client.LookupRanking(ctx, Lookup{Coordinate: coord, Keyword: "Dentist", Target: Target{PlaceID: "P2"}})
	require.NoError(t, err)
	second, err := client.LookupRanking(ctx, Lookup{Coordinate: coord, Keyword: "dentist ", Target: Target{PlaceID: "P4"}})
	require.NoError(t, err)

	assert.Equal(t, 1, p.live)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 0, second.APICalls)
	assert.Equal(t, 2, *first.TargetRank)
	assert.Equal(t, 4, *second.TargetRank)
	assert.True(t, second.TopEntities[3].IsTarget)
	assert.False(t, second.TopEntities[1].IsTarget)
}

func TestLookupRanking_CountsRetriedCalls(t *testing.T) {
	rateLimited := &provider.Error{Kind: provider.KindRateLimited, HTTPStatus: 429}
	p := &fakeProvider{items: mapsItems(3), errs: []error{rateLimited, rateLimited}}
	client := newTestClient(p, 3, nil)

	obs, err := client.LookupRanking(context.Background(), Lookup{Keyword: "dentist"})
	require.NoError(t, err)
	assert.Equal(t, 3, obs.APICalls)
}

func TestLookupRanking_PaymentRequiredIsNotRetried(t *testing.T) {
	p := &fakeProvider{errs: []error{&provider.Error{Kind: provider.KindPaymentRequired, Code: 40200}}}
	client := newTestClient(p, 3, nil)

	obs, err := client.LookupRanking(context.Background(), Lookup{Keyword: "dentist"})
	require.Error(t, err)
	assert.True(t, provider.IsFatal(err))
	assert.Equal(t, 1, p.live)
	assert.Equal(t, 1, obs.APICalls)
}

func TestLookupRanking_StandardModePollsTask(t *testing.T) {
	p := &fakeProvider{items: mapsItems(3), notReady: 2}
	client := newTestClient(p, 1, &Config{Mode: ModeStandard, PollInterval: time.Millisecond, MaxPolls: 5})

	obs, err := client.LookupRanking(context.Background(), Lookup{Keyword: "dentist", Target: Target{PlaceID: "P3"}})
	require.NoError(t, err)
	assert.Equal(t, 1, p.posts)
	assert.Equal(t, 3, p.gets)
	assert.Equal(t, 4, obs.APICalls)
	assert.Equal(t, 3, *obs.TargetRank)
}

func TestLookupRanking_StandardModeGivesUpAfterMaxPolls(t *testing.T) {
	p := &fakeProvider{notReady: 100}
	client := newTestClient(p, 1, &Config{Mode: ModeStandard, PollInterval: time.Millisecond, MaxPolls: 2})

	_, err := client.LookupRanking(context.Background(), Lookup{Keyword: "dentist"})
	require.Error(t, err)
	assert.Equal(t, provider.KindTransient, provider.KindOf(err))
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.com/path?q=1": "example.com",
		"WWW.example.com":                  "example.com",
		"example.com.":                     "example.com",
		"  ":                               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func intPtr(v int) *int { return &v }
