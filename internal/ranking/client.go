// Package ranking turns geo-located searches into ranking observations and
// aggregates a scan's observations into competitor standings.
package ranking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/grid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
)

// MaxTopEntities bounds the competitor list kept per observation.
const MaxTopEntities = 20

// Provider modes.
const (
	ModeLive     = "live"
	ModeStandard = "standard"
)

// SerpProvider is the subset of the provider API the client needs.
type SerpProvider interface {
	LiveSearch(ctx context.Context, q provider.SerpQuery) (*provider.SerpResult, error)
	PostTask(ctx context.Context, q provider.SerpQuery) (string, error)
	GetTask(ctx context.Context, searchType domain.SearchType, taskID string) (*provider.SerpResult, bool, error)
}

// Config holds configuration for the ranking client.
type Config struct {
	Mode         string
	LanguageCode string
	Device       string
	DefaultDepth int
	PollInterval time.Duration
	MaxPolls     int
	SerpTTL      time.Duration
}

// Lookup is one (coordinate, keyword) query for a target.
type Lookup struct {
	Coordinate   grid.Coordinate
	Keyword      string
	SearchType   domain.SearchType
	Depth        int
	LanguageCode string
	Device       string
	Target       Target
	SkipCache    bool
}

// Observation is the normalized outcome of a lookup. TargetRank is nil when
// the target was not found within the search depth.
type Observation struct {
	TargetRank  *int
	TopEntities []domain.RankedEntity
	APICalls    int
	CacheHit    bool
}

// Client issues rank lookups through the shared cache and scheduler.
type Client struct {
	provider  SerpProvider
	scheduler *scheduler.Scheduler
	cache     *cache.Cache
	cfg       Config
	logger    *logger.Logger
}

// NewClient creates a ranking client.
func NewClient(p SerpProvider, sched *scheduler.Scheduler, c *cache.Cache, log *logger.Logger, cfg *Config) *Client {
	out := Config{
		Mode:         ModeLive,
		DefaultDepth: 20,
		PollInterval: 5 * time.Second,
		MaxPolls:     24,
		SerpTTL:      cache.DefaultTTLs().Serp,
	}
	if cfg != nil {
		if cfg.Mode != "" {
			out.Mode = cfg.Mode
		}
		out.LanguageCode = cfg.LanguageCode
		out.Device = cfg.Device
		if cfg.DefaultDepth > 0 {
			out.DefaultDepth = cfg.DefaultDepth
		}
		if cfg.PollInterval > 0 {
			out.PollInterval = cfg.PollInterval
		}
		if cfg.MaxPolls > 0 {
			out.MaxPolls = cfg.MaxPolls
		}
		if cfg.SerpTTL > 0 {
			out.SerpTTL = cfg.SerpTTL
		}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Client{provider: p, scheduler: sched, cache: c, cfg: out, logger: log}
}

func (c *Client) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// LookupRanking resolves the target's rank and the top entities at one
// coordinate for one keyword. A malformed or empty provider response yields
// an observation with a nil rank and no entities.
func (c *Client) LookupRanking(ctx context.Context, l Lookup) (*Observation, error) {
	q := c.query(l)
	key := cache.Key("serp",
		string(q.SearchType),
		coordinateKey(l.Coordinate),
		strings.ToLower(strings.TrimSpace(q.Keyword)),
		strconv.Itoa(q.Depth),
		q.LanguageCode,
		q.Device,
	)

	var calls atomic.Int64
	entities, cached, err := cache.GetOrFetch(ctx, c.cache, key, c.cfg.SerpTTL,
		func(ctx context.Context) ([]domain.RankedEntity, error) {
			res, err := c.fetch(ctx, q, &calls)
			if err != nil {
				return nil, err
			}
			if res == nil {
				return []domain.RankedEntity{}, nil
			}
			return normalize(res.Items, q.SearchType, q.Depth), nil
		},
		cache.SkipCache(l.SkipCache),
	)
	if err != nil {
		return &Observation{APICalls: int(calls.Load())}, err
	}

	obs := &Observation{
		TopEntities: make([]domain.RankedEntity, 0, min(len(entities), MaxTopEntities)),
		APICalls:    int(calls.Load()),
		CacheHit:    cached,
	}
	for _, e := range entities {
		isTarget := l.Target.Matches(e)
		if isTarget && obs.TargetRank == nil {
			rank := e.Rank
			obs.TargetRank = &rank
		}
		if len(obs.TopEntities) < MaxTopEntities {
			e.IsTarget = isTarget
			obs.TopEntities = append(obs.TopEntities, e)
		}
	}
	return obs, nil
}

func (c *Client) query(l Lookup) provider.SerpQuery {
	q := provider.SerpQuery{
		Keyword:      l.Keyword,
		Lat:          l.Coordinate.Lat,
		Lng:          l.Coordinate.Lng,
		SearchType:   l.SearchType,
		Depth:        l.Depth,
		LanguageCode: firstNonEmpty(l.LanguageCode, c.cfg.LanguageCode),
		Device:       firstNonEmpty(l.Device, c.cfg.Device),
	}
	if q.SearchType == "" {
		q.SearchType = domain.SearchTypeMaps
	}
	if q.Depth <= 0 {
		q.Depth = c.cfg.DefaultDepth
	}
	return q
}

// fetch performs the provider exchange for q. Every attempt the scheduler
// makes is counted in calls.
func (c *Client) fetch(ctx context.Context, q provider.SerpQuery, calls *atomic.Int64) (*provider.SerpResult, error) {
	if c.cfg.Mode == ModeStandard {
		return c.fetchTask(ctx, q, calls)
	}

	return scheduler.Do(ctx, c.scheduler, liveClass(q.SearchType), func(ctx context.Context) (*provider.SerpResult, error) {
		calls.Add(1)
		return c.provider.LiveSearch(ctx, q)
	})
}

func (c *Client) fetchTask(ctx context.Context, q provider.SerpQuery, calls *atomic.Int64) (*provider.SerpResult, error) {
	taskID, err := scheduler.Do(ctx, c.scheduler, config.ClassGeneral, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return c.provider.PostTask(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	for poll := 1; poll <= c.cfg.MaxPolls; poll++ {
		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		var ready bool
		res, err := scheduler.Do(ctx, c.scheduler, config.ClassTaskPolling, func(ctx context.Context) (*provider.SerpResult, error) {
			calls.Add(1)
			r, ok, err := c.provider.GetTask(ctx, q.SearchType, taskID)
			ready = ok
			return r, err
		})
		if err != nil {
			return nil, err
		}
		if ready {
			return res, nil
		}
		c.log(ctx).WithFields(logger.Fields{
			"task_id":           taskID,
			logger.FieldAttempt: poll,
		}).Debug("Task not ready yet")
	}

	return nil, &provider.Error{
		Kind:    provider.KindTransient,
		Message: fmt.Sprintf("task %s not ready after %d polls", taskID, c.cfg.MaxPolls),
	}
}

func liveClass(t domain.SearchType) string {
	if t == domain.SearchTypeOrganic {
		return config.ClassGeneral
	}
	return config.ClassMaps
}

// coordinateKey fixes the coordinate precision used in cache keys so the same
// physical point always maps to the same key.
func coordinateKey(c grid.Coordinate) string {
	return fmt.Sprintf("%.7f,%.7f", c.Lat, c.Lng)
}
