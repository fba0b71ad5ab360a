// Package dispatch hands created scans to a runner, either on a goroutine in
// the current process or through a RabbitMQ queue consumed by workers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

// Modes accepted in configuration.
const (
	ModeInline = "inline"
	ModeAMQP   = "amqp"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Runner executes one scan to a terminal state.
type Runner interface {
	RunScan(ctx context.Context, scanID string) error
}

// Job is the queued unit of work.
type Job struct {
	ScanID     string    `json:"scan_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DecodeJob parses a queued job body.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("malformed job: %w", err)
	}
	if job.ScanID == "" {
		return Job{}, errors.New("malformed job: missing scan_id")
	}
	return job, nil
}

// settled reports whether a RunScan error leaves nothing to retry: the scan
// reached a terminal state, is gone, or is already being run.
func settled(err error) bool {
	return err == nil ||
		errors.Is(err, service.ErrScanAborted) ||
		errors.Is(err, service.ErrScanTerminal) ||
		errors.Is(err, service.ErrScanNotFound) ||
		errors.Is(err, service.ErrScanRunning)
}

// Inline runs each dispatched scan on its own goroutine. Scans run under
// the base context, so cancelling it interrupts them.
type Inline struct {
	base   context.Context
	runner Runner
	logger *logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewInline creates an in-process dispatcher.
func NewInline(base context.Context, runner Runner, log *logger.Logger) *Inline {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Inline{base: base, runner: runner, logger: log}
}

// Dispatch starts the scan in the background. The request's logger fields
// carry over; its cancellation does not.
func (d *Inline) Dispatch(ctx context.Context, scanID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	runCtx := logger.FromContext(ctx).WithContext(d.base)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.RunScan(runCtx, scanID); err != nil && !settled(err) {
			logger.FromContext(runCtx).WithField(logger.FieldScanID, scanID).WithError(err).Error("Scan run failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched scan has returned.
func (d *Inline) Wait() {
	d.wg.Wait()
}

// Close stops accepting scans and waits for running ones up to timeout.
func (d *Inline) Close(timeout time.Duration) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		d.logger.WithField("timeout", timeout.String()).Warn("Scans still running at shutdown")
		return fmt.Errorf("scans still running after %s", timeout)
	}
}
