package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/grid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/provider"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/ranking"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/storage"
	"golang.org/x/sync/errgroup"
)

const finalizeTimeout = 30 * time.Second

var (
	errCancelRequested = errors.New("cancellation requested")
	errFinalize        = errors.New("finalize scan")
)

// ScanConfig holds configuration for the scan orchestrator.
type ScanConfig struct {
	// MaxFanOut bounds concurrently running lookups per scan. The scheduler
	// still enforces the provider limits across all scans.
	MaxFanOut int
	// CancelPollInterval is how often the store is checked for a
	// cancellation requested by another process. Zero disables polling.
	CancelPollInterval time.Duration
	// DrainTimeout bounds how long in-flight lookups may run after abort.
	DrainTimeout time.Duration
}

// ScanService runs grid scans: PENDING -> SCANNING -> COMPLETED | FAILED.
type ScanService struct {
	campaigns CampaignStore
	scans     ScanStore
	ranker    RankingClient
	exporter  SnapshotExporter
	logger    *logger.Logger
	cfg       ScanConfig
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// NewScanService creates a scan orchestrator. exporter may be nil.
func NewScanService(
	campaigns CampaignStore,
	scans ScanStore,
	ranker RankingClient,
	exporter SnapshotExporter,
	log *logger.Logger,
	cfg *ScanConfig,
) *ScanService {
	c := ScanConfig{MaxFanOut: 64, CancelPollInterval: 5 * time.Second, DrainTimeout: 90 * time.Second}
	if cfg != nil {
		if cfg.MaxFanOut > 0 {
			c.MaxFanOut = cfg.MaxFanOut
		}
		c.CancelPollInterval = cfg.CancelPollInterval
		if cfg.DrainTimeout > 0 {
			c.DrainTimeout = cfg.DrainTimeout
		}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &ScanService{
		campaigns: campaigns,
		scans:     scans,
		ranker:    ranker,
		exporter:  exporter,
		logger:    log,
		cfg:       c,
		now:       time.Now,
		running:   make(map[string]context.CancelCauseFunc),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *ScanService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateScan validates the campaign and inserts a PENDING scan for it. The
// grid geometry and keywords are copied onto the scan.
func (s *ScanService) CreateScan(ctx context.Context, campaignID string, trigger domain.ScanTrigger) (*domain.GridScan, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrCampaignNotFound)
		}
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusArchived {
		return nil, invalid("campaign", "archived campaigns cannot be scanned")
	}
	if err := ValidateCampaign(campaign); err != nil {
		return nil, err
	}

	active, err := s.scans.HasActiveScan(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active scans: %w", err)
	}
	if active {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrScanActive)
	}

	keywords := CleanKeywords(campaign.Keywords)
	if trigger == "" {
		trigger = domain.ScanTriggerManual
	}
	scan := &domain.GridScan{
		CampaignID:  campaign.ID,
		Trigger:     trigger,
		GridSize:    campaign.GridSize,
		RadiusMiles: campaign.RadiusMiles,
		Keywords:    domain.StringArray(keywords),
		TotalPoints: campaign.GridSize * campaign.GridSize * len(keywords),
	}
	if err := s.scans.CreateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldScanID:     scan.ID,
		logger.FieldCampaignID: campaign.ID,
		"trigger":              trigger,
		"total_points":         scan.TotalPoints,
	}).Info("Scan created")
	return scan, nil
}

type cell struct {
	keyword  string
	row, col int
}

// scanRun is the state shared by the lookups of one RunScan call.
type scanRun struct {
	scan     *domain.GridScan
	campaign *domain.Campaign
	target   ranking.Target
	tracker  *progressTracker
	abort    context.CancelCauseFunc
}

// RunScan executes a scan to a terminal state. Every (keyword, row, col)
// pair is attempted once, keyword-major then row-major. Per-pair failures
// are counted and the scan continues; a payment failure, an operator
// cancellation or a misconfigured campaign stop it with status FAILED.
//
// A scan found already SCANNING is resumed: cells with a stored result are
// skipped. Returns ErrScanAborted when the scan ended FAILED.
func (s *ScanService) RunScan(ctx context.Context, scanID string) error {
	ctx = logger.SetScanID(ctx, scanID)

	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("scan %s: %w", scanID, ErrScanNotFound)
		}
		return err
	}
	if scan.Status.IsTerminal() {
		return fmt.Errorf("scan %s is %s: %w", scanID, scan.Status, ErrScanTerminal)
	}
	ctx = logger.SetCampaignID(ctx, scan.CampaignID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !s.register(scanID, cancel) {
		return fmt.Errorf("scan %s: %w", scanID, ErrScanRunning)
	}
	defer s.unregister(scanID)

	if scan.CancelRequested {
		return s.abort(ctx, scan, errCancelRequested, domain.ScanCounters{})
	}

	campaign, err := s.campaigns.GetByID(ctx, scan.CampaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.abort(ctx, scan, invalid("campaign", "campaign %s no longer exists", scan.CampaignID), domain.ScanCounters{})
		}
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	points, err := grid.Generate(grid.Spec{
		Center:      grid.Coordinate{Lat: campaign.Latitude, Lng: campaign.Longitude},
		RadiusMiles: scan.RadiusMiles,
		Size:        scan.GridSize,
	})
	if err != nil {
		return s.abort(ctx, scan, invalid("grid", "%v", err), domain.ScanCounters{})
	}
	keywords := CleanKeywords(scan.Keywords)
	if len(keywords) == 0 {
		return s.abort(ctx, scan, invalid("keywords", "scan has no keywords"), domain.ScanCounters{})
	}
	total := len(points) * len(keywords)

	done := map[cell]bool{}
	switch scan.Status {
	case domain.ScanStatusPending:
		if err := s.scans.MarkScanning(ctx, scanID, total, s.now()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("scan %s: %w", scanID, ErrScanRunning)
			}
			return fmt.Errorf("failed to start scan: %w", err)
		}
	case domain.ScanStatusScanning:
		stored, err := s.scans.GetGridPointResults(ctx, scanID)
		if err != nil {
			return fmt.Errorf("failed to load stored results: %w", err)
		}
		for _, r := range stored {
			done[cell{r.Keyword, r.Row, r.Col}] = true
		}
		s.log(ctx).WithField(logger.FieldCount, len(done)).Info("Resuming scan")
	}

	s.log(ctx).WithFields(logger.Fields{
		"grid_size":    scan.GridSize,
		"keywords":     len(keywords),
		"total_points": total,
	}).Info("Scan started")
	startedAt := s.now()

	seed := domain.ScanCounters{
		Progress:        scan.Progress,
		PointsCompleted: len(done),
		APICalls:        scan.APICalls,
		CacheHits:       scan.CacheHits,
	}
	run := &scanRun{
		scan:     scan,
		campaign: campaign,
		target:   ranking.TargetFromCampaign(campaign),
		tracker:  newProgressTracker(total, seed),
		abort:    cancel,
	}
	written := s.writeProgress(context.WithoutCancel(ctx), scanID, run.tracker)

	if s.cfg.CancelPollInterval > 0 {
		go s.watchCancel(runCtx, scanID, cancel)
	}

	// Provider calls already dispatched outlive an abort by at most
	// DrainTimeout; calls still waiting for capacity are dropped at once.
	lookupCtx, stopLookups := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLookups()
	lookupCtx = scheduler.WithAbort(lookupCtx, runCtx)
	stopDrain := context.AfterFunc(runCtx, func() {
		time.AfterFunc(s.cfg.DrainTimeout, stopLookups)
	})
	defer stopDrain()

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxFanOut)
launch:
	for _, kw := range keywords {
		for _, p := range points {
			if done[cell{kw, p.Row, p.Col}] {
				continue
			}
			if runCtx.Err() != nil {
				break launch
			}
			g.Go(func() error {
				// aborted while waiting for a free slot
				if runCtx.Err() != nil {
					return nil
				}
				s.runPair(lookupCtx, run, kw, p)
				return nil
			})
		}
	}
	_ = g.Wait()
	run.tracker.close()
	<-written

	counters := run.tracker.snapshot()
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancelFinish()

	if runCtx.Err() != nil {
		return s.abort(finishCtx, scan, context.Cause(runCtx), counters)
	}
	return s.complete(finishCtx, run, counters, startedAt)
}

// runPair resolves and stores one (keyword, point) observation.
func (s *ScanService) runPair(ctx context.Context, run *scanRun, keyword string, p grid.Point) {
	ctx = logger.WithField(ctx, logger.FieldKeyword, keyword)
	fields := logger.Fields{"row": p.Row, "col": p.Col}

	obs, err := s.ranker.LookupRanking(ctx, ranking.Lookup{
		Coordinate:   p.Coordinate,
		Keyword:      keyword,
		SearchType:   run.campaign.SearchType,
		Depth:        run.campaign.SearchDepth,
		LanguageCode: run.campaign.LanguageCode,
		Device:       run.campaign.Device,
		Target:       run.target,
	})
	var (
		calls int
		hit   bool
	)
	if obs != nil {
		calls, hit = obs.APICalls, obs.CacheHit
	}
	if err != nil {
		if errors.Is(err, scheduler.ErrDispatchStopped) {
			return
		}
		if provider.IsFatal(err) {
			run.abort(err)
		}
		s.log(ctx).WithFields(fields).WithError(err).Warn("Grid point lookup failed")
		run.tracker.record(false, calls, hit)
		return
	}

	result := domain.GridPointResult{
		Keyword:     keyword,
		Row:         p.Row,
		Col:         p.Col,
		Latitude:    p.Lat,
		Longitude:   p.Lng,
		Rank:        obs.TargetRank,
		Competitors: domain.RankedEntities(obs.TopEntities),
	}
	if err := s.scans.SaveGridPointResults(ctx, run.scan.ID, []domain.GridPointResult{result}); err != nil {
		s.log(ctx).WithFields(fields).WithError(err).Error("Failed to save grid point result")
		run.tracker.record(false, calls, hit)
		return
	}
	run.tracker.record(true, calls, hit)
}

// complete aggregates the stored results and moves the scan to COMPLETED.
func (s *ScanService) complete(ctx context.Context, run *scanRun, c domain.ScanCounters, startedAt time.Time) error {
	scan := run.scan

	results, err := s.scans.GetGridPointResults(ctx, scan.ID)
	if err != nil {
		return s.abort(ctx, scan, fmt.Errorf("%w: %w", errFinalize, err), c)
	}

	var previous []domain.CompetitorStat
	prev, err := s.scans.GetPreviousCompletedScan(ctx, scan.CampaignID, scan.ID, scan.GridSize, scan.RadiusMiles)
	switch {
	case err == nil:
		previous, err = s.scans.GetCompetitorStats(ctx, prev.ID)
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to load previous competitor stats")
			previous = nil
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		s.log(ctx).WithError(err).Warn("Failed to load previous scan")
		prev = nil
	}

	summary := ranking.Aggregate(results, previous)
	if err := s.scans.SaveCompetitorStats(ctx, scan.ID, summary.Competitors); err != nil {
		return s.abort(ctx, scan, fmt.Errorf("%w: %w", errFinalize, err), c)
	}

	metrics := domain.ScanMetrics{
		AvgRank:         summary.AvgRank,
		ShareOfVoice:    summary.ShareOfVoice,
		TopCompetitor:   summary.TopCompetitor,
		PointsCompleted: c.PointsCompleted,
		FailedPoints:    c.FailedPoints,
		APICalls:        c.APICalls,
		CacheHits:       c.CacheHits,
	}
	if prev != nil {
		metrics.AvgRankChange = ranking.RankChange(prev.AvgRank, summary.AvgRank)
	}

	if err := s.scans.CompleteScan(ctx, scan.ID, metrics, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("scan %s: %w", scan.ID, ErrScanTerminal)
		}
		return s.abort(ctx, scan, fmt.Errorf("%w: %w", errFinalize, err), c)
	}

	logger.With(logger.Fields{
		"points_completed": c.PointsCompleted,
		"failed_points":    c.FailedPoints,
		"api_calls":        c.APICalls,
		"cache_hits":       c.CacheHits,
		"competitors":      len(summary.Competitors),
		logger.FieldStatus: domain.ScanStatusCompleted,
	}).WithDuration(s.now().Sub(startedAt)).Info(ctx, "Scan completed")

	s.export(ctx, run, results, summary.Competitors)
	return nil
}

// export archives the completed scan. Failures are logged only.
func (s *ScanService) export(ctx context.Context, run *scanRun, results []domain.GridPointResult, stats []domain.CompetitorStat) {
	if s.exporter == nil {
		return
	}
	scan, err := s.scans.GetScan(ctx, run.scan.ID)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to reload scan for export")
		return
	}
	url, err := s.exporter.ExportScan(ctx, &storage.ScanSnapshot{
		Scan:        scan,
		Campaign:    run.campaign,
		Results:     results,
		Competitors: stats,
	})
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to export scan snapshot")
		return
	}
	s.log(ctx).WithField("url", url).Info("Scan snapshot exported")
}

// abort moves the scan to FAILED with a message derived from cause.
func (s *ScanService) abort(ctx context.Context, scan *domain.GridScan, cause error, c domain.ScanCounters) error {
	msg := failureMessage(cause)
	if err := s.scans.FailScan(ctx, scan.ID, msg, c, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("scan %s: %w", scan.ID, ErrScanTerminal)
		}
		return fmt.Errorf("failed to mark scan failed: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		"points_completed": c.PointsCompleted,
		"failed_points":    c.FailedPoints,
		logger.FieldStatus: domain.ScanStatusFailed,
	}).WithError(cause).Error("Scan failed: " + msg)
	return fmt.Errorf("%w: %s: %w", ErrScanAborted, msg, cause)
}

// failureMessage maps an abort cause to the message shown to users. Raw
// provider codes never reach it.
func failureMessage(cause error) string {
	var ve *ValidationError
	switch {
	case errors.Is(cause, errCancelRequested):
		return "scan cancelled by operator request"
	case errors.As(cause, &ve):
		return "campaign misconfigured: " + ve.Error()
	case provider.KindOf(cause) == provider.KindPaymentRequired:
		return "provider account balance exhausted (payment required); scan stopped"
	case errors.Is(cause, errFinalize):
		return "scan results could not be finalized"
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return "scan interrupted before completion"
	default:
		return "scan failed due to an internal error"
	}
}

// CancelScan requests cancellation. A scan running in this process stops
// scheduling new lookups at once; one running elsewhere stops at its next
// cancel poll. A PENDING scan is failed immediately.
func (s *ScanService) CancelScan(ctx context.Context, scanID string) error {
	if err := s.scans.RequestCancel(ctx, scanID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("scan %s: %w", scanID, ErrScanNotFound)
		case errors.Is(err, repository.ErrConflict):
			return fmt.Errorf("scan %s: %w", scanID, ErrScanTerminal)
		}
		return err
	}

	s.mu.Lock()
	cancel, ok := s.running[scanID]
	s.mu.Unlock()
	if ok {
		cancel(errCancelRequested)
		s.log(ctx).WithField(logger.FieldScanID, scanID).Info("Scan cancellation signalled")
		return nil
	}

	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if scan.Status == domain.ScanStatusPending {
		if err := s.abort(ctx, scan, errCancelRequested, domain.ScanCounters{}); err != nil &&
			!errors.Is(err, ErrScanAborted) && !errors.Is(err, ErrScanTerminal) {
			return err
		}
	}
	return nil
}

func (s *ScanService) watchCancel(ctx context.Context, scanID string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(s.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := s.scans.IsCancelRequested(ctx, scanID)
			if err != nil {
				if ctx.Err() == nil {
					s.log(ctx).WithError(err).Debug("Cancel poll failed")
				}
				continue
			}
			if requested {
				cancel(errCancelRequested)
				return
			}
		}
	}
}

func (s *ScanService) register(scanID string, cancel context.CancelCauseFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[scanID]; ok {
		return false
	}
	s.running[scanID] = cancel
	return true
}

func (s *ScanService) unregister(scanID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, scanID)
}

// Running returns the number of scans executing in this process.
func (s *ScanService) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// writeProgress persists tracker snapshots until the tracker is closed.
// Snapshots are taken in order, so stored progress never decreases.
func (s *ScanService) writeProgress(ctx context.Context, scanID string, t *progressTracker) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		lastLogged := -1
		for range t.notify {
			c := t.snapshot()
			if err := s.scans.UpdateScanProgress(ctx, scanID, c); err != nil {
				s.log(ctx).WithError(err).Warn("Failed to update scan progress")
				continue
			}
			if step := c.Progress / 10; step > lastLogged {
				lastLogged = step
				s.log(ctx).WithFields(logger.Fields{
					logger.FieldProgress: c.Progress,
					"points_completed":   c.PointsCompleted,
					"failed_points":      c.FailedPoints,
				}).Debug("Scan progress")
			}
		}
	}()
	return done
}

// GetScan returns a scan by ID.
func (s *ScanService) GetScan(ctx context.Context, scanID string) (*domain.GridScan, error) {
	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("scan %s: %w", scanID, ErrScanNotFound)
		}
		return nil, err
	}
	return scan, nil
}

// Progress returns the polling view of a scan.
func (s *ScanService) Progress(ctx context.Context, scanID string) (domain.ScanProgress, error) {
	scan, err := s.GetScan(ctx, scanID)
	if err != nil {
		return domain.ScanProgress{}, err
	}
	return scan.ProgressView(), nil
}

// Results returns the stored grid point results of a scan.
func (s *ScanService) Results(ctx context.Context, scanID string) ([]domain.GridPointResult, error) {
	if _, err := s.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	return s.scans.GetGridPointResults(ctx, scanID)
}

// Competitors returns the competitor stats of a scan.
func (s *ScanService) Competitors(ctx context.Context, scanID string) ([]domain.CompetitorStat, error) {
	if _, err := s.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	return s.scans.GetCompetitorStats(ctx, scanID)
}

// History lists a campaign's scans, newest first.
func (s *ScanService) History(ctx context.Context, campaignID string, limit int) ([]domain.GridScan, error) {
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrCampaignNotFound)
		}
		return nil, err
	}
	return s.scans.ListByCampaign(ctx, campaignID, limit)
}

// progressTracker counts processed pairs of one scan.
type progressTracker struct {
	mu       sync.Mutex
	total    int
	counters domain.ScanCounters
	notify   chan struct{}
}

// newProgressTracker starts from the counters of a resumed scan. Progress
// never drops below the stored value; failed cells are attempted again, so
// FailedPoints starts at zero.
func newProgressTracker(total int, seed domain.ScanCounters) *progressTracker {
	t := &progressTracker{total: total, notify: make(chan struct{}, 1)}
	t.counters = seed
	t.counters.FailedPoints = 0
	t.counters.Progress = max(seed.Progress, percent(seed.PointsCompleted, total))
	return t
}

func (t *progressTracker) record(ok bool, calls int, cacheHit bool) {
	t.mu.Lock()
	if ok {
		t.counters.PointsCompleted++
	} else {
		t.counters.FailedPoints++
	}
	t.counters.APICalls += calls
	if cacheHit {
		t.counters.CacheHits++
	}
	if p := percent(t.counters.PointsCompleted+t.counters.FailedPoints, t.total); p > t.counters.Progress {
		t.counters.Progress = p
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *progressTracker) snapshot() domain.ScanCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// close must be called once no more pairs will be recorded.
func (t *progressTracker) close() {
	close(t.notify)
}

func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return n * 100 / total
}
