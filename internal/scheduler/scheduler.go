// Package scheduler gates every provider call through a per-endpoint-class
// limiter and retries retryable failures with exponential backoff.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
)

var (
	ErrUnknownClass = errors.New("unknown endpoint class")

	// ErrTimeout marks an attempt that exceeded the class timeout while the
	// caller's context was still live. It is always retryable.
	ErrTimeout = errors.New("provider call timed out")

	// ErrDispatchStopped is returned for a call dropped before it reached the
	// provider because its abort context was done. It matches context.Canceled.
	ErrDispatchStopped = fmt.Errorf("dispatch stopped: %w", context.Canceled)
)

type abortKey struct{}

// WithAbort attaches abort to ctx. Once abort is done, calls scheduled with the
// returned context stop waiting for capacity and are never dispatched. A call
// already running keeps ctx and is not interrupted.
func WithAbort(ctx, abort context.Context) context.Context {
	return context.WithValue(ctx, abortKey{}, abort)
}

func aborted(ctx context.Context) bool {
	a, ok := ctx.Value(abortKey{}).(context.Context)
	return ok && a.Err() != nil
}

// waitContext is ctx, additionally cancelled once the abort context attached
// to ctx is done.
func waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	a, ok := ctx.Value(abortKey{}).(context.Context)
	if !ok {
		return ctx, func() {}
	}
	w, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a, cancel)
	return w, func() {
		stop()
		cancel()
	}
}

// Classifier reports whether a failed attempt may be retried.
type Classifier func(error) bool

// Scheduler owns one Limiter per endpoint class. A single instance is shared
// by every scan in the process so the provider budget is global.
type Scheduler struct {
	limiters  map[string]*Limiter
	retryable Classifier
	logger    *logger.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClassifier sets the retry classifier. Without one only timeouts retry.
func WithClassifier(c Classifier) Option {
	return func(s *Scheduler) {
		s.retryable = c
	}
}

// WithLogger sets the fallback logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = log
	}
}

// New creates a Scheduler with one limiter per entry in classes.
func New(classes map[string]LimiterConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		limiters:  make(map[string]*Limiter, len(classes)),
		retryable: func(error) bool { return false },
		logger:    logger.GetDefault(),
	}
	for class, cfg := range classes {
		s.limiters[class] = newLimiter(class, cfg)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig converts the configured class budgets into limiter configs.
func FromConfig(classes map[string]config.ClassConfig) map[string]LimiterConfig {
	out := make(map[string]LimiterConfig, len(classes))
	for class, c := range classes {
		out[class] = LimiterConfig{
			MaxConcurrent:   c.MaxConcurrent,
			MinTime:         c.MinTime,
			Reservoir:       c.Reservoir,
			RefreshInterval: c.RefreshInterval,
			Timeout:         c.Timeout,
			Backoff: BackoffPolicy{
				MaxAttempts: c.MaxAttempts,
				BaseDelay:   c.BaseDelay,
				Multiplier:  c.Multiplier,
				MaxDelay:    c.MaxDelay,
			},
		}
	}
	return out
}

func (s *Scheduler) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Limiter returns the limiter of a class.
func (s *Scheduler) Limiter(class string) (*Limiter, error) {
	l, ok := s.limiters[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return l, nil
}

// Classes returns the configured class names, sorted.
func (s *Scheduler) Classes() []string {
	names := make([]string, 0, len(s.limiters))
	for name := range s.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every limiter, keyed by class.
func (s *Scheduler) Stats() map[string]LimiterStats {
	out := make(map[string]LimiterStats, len(s.limiters))
	for class, l := range s.limiters {
		out[class] = l.Stats()
	}
	return out
}

// Schedule blocks until the class has capacity, then runs op under the class
// timeout. Retryable failures are retried per the class backoff policy; the
// last error is returned once attempts run out. See WithAbort for stopping
// waiting calls without interrupting running ones.
func (s *Scheduler) Schedule(ctx context.Context, class string, op func(ctx context.Context) error) error {
	l, err := s.Limiter(class)
	if err != nil {
		return err
	}

	waitCtx, stopWait := waitContext(ctx)
	defer stopWait()

	policy := l.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err = s.attempt(ctx, waitCtx, l, op)
		if err == nil {
			return nil
		}
		if waitCtx.Err() != nil || aborted(ctx) {
			return err
		}
		if attempt >= policy.MaxAttempts || !s.isRetryable(err) {
			l.failures.Add(1)
			return err
		}

		delay := policy.Delay(attempt)
		l.retries.Add(1)
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldClass:   class,
			logger.FieldAttempt: attempt,
			"retry_in_ms":       delay.Milliseconds(),
		}).WithError(err).Warn("Provider call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// attempt waits for capacity on waitCtx and runs op on ctx.
func (s *Scheduler) attempt(ctx, waitCtx context.Context, l *Limiter, op func(ctx context.Context) error) error {
	if err := l.acquire(waitCtx); err != nil {
		if ctx.Err() == nil {
			l.stopped.Add(1)
			return ErrDispatchStopped
		}
		return err
	}
	if aborted(ctx) {
		l.releaseUnused()
		l.stopped.Add(1)
		return ErrDispatchStopped
	}
	defer l.release()

	callCtx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	err := op(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, l.cfg.Timeout, err)
	}
	return err
}

func (s *Scheduler) isRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	return s.retryable(err)
}

// Do is Schedule for operations that produce a value.
func Do[T any](ctx context.Context, s *Scheduler, class string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.Schedule(ctx, class, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
