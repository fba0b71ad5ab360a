package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// BackoffPolicy controls retries of one endpoint class.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Delay returns the wait before the attempt that follows attempt n (1-based).
func (p BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// LimiterConfig is the throughput budget of one endpoint class.
type LimiterConfig struct {
	MaxConcurrent   int
	MinTime         time.Duration
	Reservoir       int // 0 disables the reservoir
	RefreshInterval time.Duration
	Timeout         time.Duration
	Backoff         BackoffPolicy
}

// LimiterStats is a point-in-time snapshot of a limiter.
type LimiterStats struct {
	Inflight   int64 `json:"inflight"`
	Dispatched int64 `json:"dispatched"`
	Retries    int64 `json:"retries"`
	Failures   int64 `json:"failures"`
	Stopped    int64 `json:"stopped"`
}

// Limiter gates dispatches for one endpoint class. The reservoir is enforced
// as a sliding window: a dispatch slot is only handed out when fewer than
// Reservoir slots fall within the preceding RefreshInterval.
type Limiter struct {
	class string
	cfg   LimiterConfig
	sem   *semaphore.Weighted

	mu     sync.Mutex
	last   time.Time
	window []time.Time // most recent reservations, oldest first, at most Reservoir long

	inflight   atomic.Int64
	dispatched atomic.Int64
	retries    atomic.Int64
	failures   atomic.Int64
	stopped    atomic.Int64
}

func newLimiter(class string, cfg LimiterConfig) *Limiter {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Backoff.MaxAttempts < 1 {
		cfg.Backoff.MaxAttempts = 1
	}
	return &Limiter{
		class:  class,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		window: make([]time.Time, 0, max(cfg.Reservoir, 0)),
	}
}

// Class returns the endpoint class this limiter serves.
func (l *Limiter) Class() string {
	return l.class
}

// Config returns the limiter's budget.
func (l *Limiter) Config() LimiterConfig {
	return l.cfg
}

// Stats returns counters for monitoring.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Inflight:   l.inflight.Load(),
		Dispatched: l.dispatched.Load(),
		Retries:    l.retries.Load(),
		Failures:   l.failures.Load(),
		Stopped:    l.stopped.Load(),
	}
}

// reserve books the earliest dispatch time allowed by spacing and reservoir.
// Reservations are handed out in non-decreasing order.
func (l *Limiter) reserve(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := now
	if !l.last.IsZero() {
		if next := l.last.Add(l.cfg.MinTime); next.After(at) {
			at = next
		}
	}
	if l.cfg.Reservoir > 0 && len(l.window) == l.cfg.Reservoir {
		if refill := l.window[0].Add(l.cfg.RefreshInterval); refill.After(at) {
			at = refill
		}
		l.window = append(l.window[:0], l.window[1:]...)
	}
	if l.cfg.Reservoir > 0 {
		l.window = append(l.window, at)
	}
	l.last = at
	return at
}

// acquire blocks until a concurrency slot and a dispatch slot are both held.
// The caller must call release once the operation returns.
func (l *Limiter) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	at := l.reserve(time.Now())
	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.sem.Release(1)
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		l.sem.Release(1)
		return err
	}

	l.inflight.Add(1)
	l.dispatched.Add(1)
	return nil
}

// releaseUnused returns a slot that was acquired but never dispatched.
func (l *Limiter) releaseUnused() {
	l.inflight.Add(-1)
	l.dispatched.Add(-1)
	l.sem.Release(1)
}

func (l *Limiter) release() {
	l.inflight.Add(-1)
	l.sem.Release(1)
}
