package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/ranking"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/storage"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory CampaignStore and ScanStore with the same
// status guards as the gorm repositories.
type memStore struct {
	mu        sync.Mutex
	seq       int
	campaigns map[string]*domain.Campaign
	scans     map[string]*domain.GridScan
	results   map[string][]domain.GridPointResult
	stats     map[string][]domain.CompetitorStat
	progress  map[string][]int
	saveErr   func(r domain.GridPointResult) error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[string]*domain.Campaign{},
		scans:     map[string]*domain.GridScan{},
		results:   map[string][]domain.GridPointResult{},
		stats:     map[string][]domain.CompetitorStat{},
		progress:  map[string][]int{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.nextID("campaign")
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) List(_ context.Context, ownerID string, limit, offset int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if ownerID == "" || c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListActive(_ context.Context) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignStatusActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memStore) CreateScan(_ context.Context, scan *domain.GridScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scan.ID == "" {
		scan.ID = m.nextID("scan")
	}
	scan.Status = domain.ScanStatusPending
	scan.Progress = 0
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now()
	}
	cp := *scan
	m.scans[scan.ID] = &cp
	return nil
}

// putScan stores a scan as-is, bypassing the PENDING reset.
func (m *memStore) putScan(scan domain.GridScan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[scan.ID] = &scan
}

func (m *memStore) GetScan(_ context.Context, id string) (*domain.GridScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", id, repository.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListByCampaign(_ context.Context, campaignID string, limit int) ([]domain.GridScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GridScan
	for _, s := range m.scans {
		if s.CampaignID == campaignID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestByCampaign(ctx context.Context, campaignID string) (*domain.GridScan, error) {
	scans, _ := m.ListByCampaign(ctx, campaignID, 1)
	if len(scans) == 0 {
		return nil, repository.ErrNotFound
	}
	return &scans[0], nil
}

func (m *memStore) HasActiveScan(_ context.Context, campaignID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scans {
		if s.CampaignID == campaignID && !s.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkScanning(_ context.Context, id string, totalPoints int, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok || s.Status != domain.ScanStatusPending {
		return repository.ErrConflict
	}
	s.Status = domain.ScanStatusScanning
	s.TotalPoints = totalPoints
	s.StartedAt = &startedAt
	return nil
}

func (m *memStore) UpdateScanProgress(_ context.Context, id string, c domain.ScanCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok || s.Status != domain.ScanStatusScanning || c.Progress < s.Progress {
		return nil
	}
	s.Progress = c.Progress
	s.PointsCompleted = c.PointsCompleted
	s.FailedPoints = c.FailedPoints
	s.APICalls = c.APICalls
	s.CacheHits = c.CacheHits
	m.progress[id] = append(m.progress[id], c.Progress)
	return nil
}

func (m *memStore) SaveGridPointResults(_ context.Context, scanID string, results []domain.GridPointResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if m.saveErr != nil {
			if err := m.saveErr(r); err != nil {
				return err
			}
		}
		r.ScanID = scanID
		m.results[scanID] = append(m.results[scanID], r)
	}
	return nil
}

func (m *memStore) GetGridPointResults(_ context.Context, scanID string) ([]domain.GridPointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GridPointResult(nil), m.results[scanID]...), nil
}

func (m *memStore) SaveCompetitorStats(_ context.Context, scanID string, stats []domain.CompetitorStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[scanID] = append([]domain.CompetitorStat(nil), stats...)
	return nil
}

func (m *memStore) GetCompetitorStats(_ context.Context, scanID string) ([]domain.CompetitorStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CompetitorStat(nil), m.stats[scanID]...), nil
}

func (m *memStore) CompleteScan(_ context.Context, id string, mt domain.ScanMetrics, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok || s.Status != domain.ScanStatusScanning {
		return repository.ErrConflict
	}
	s.Status = domain.ScanStatusCompleted
	s.Progress = 100
	s.AvgRank = mt.AvgRank
	s.ShareOfVoice = mt.ShareOfVoice
	s.TopCompetitor = mt.TopCompetitor
	s.AvgRankChange = mt.AvgRankChange
	s.PointsCompleted = mt.PointsCompleted
	s.FailedPoints = mt.FailedPoints
	s.APICalls = mt.APICalls
	s.CacheHits = mt.CacheHits
	s.CompletedAt = &completedAt
	return nil
}

func (m *memStore) FailScan(_ context.Context, id, message string, c domain.ScanCounters, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok || s.Status.IsTerminal() {
		return repository.ErrConflict
	}
	s.Status = domain.ScanStatusFailed
	s.ErrorMessage = message
	s.PointsCompleted = c.PointsCompleted
	s.FailedPoints = c.FailedPoints
	s.APICalls = c.APICalls
	s.CacheHits = c.CacheHits
	s.CompletedAt = &failedAt
	return nil
}

func (m *memStore) GetPreviousCompletedScan(_ context.Context, campaignID, excludeID string, gridSize int, radiusMiles float64) (*domain.GridScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.GridScan
	for _, s := range m.scans {
		if s.CampaignID != campaignID || s.ID == excludeID || s.Status != domain.ScanStatusCompleted ||
			s.GridSize != gridSize || s.RadiusMiles != radiusMiles || s.CompletedAt == nil {
			continue
		}
		if best == nil || s.CompletedAt.After(*best.CompletedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status.IsTerminal() {
		return repository.ErrConflict
	}
	s.CancelRequested = true
	return nil
}

func (m *memStore) IsCancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	return s.CancelRequested, nil
}

func (m *memStore) progressHistory(id string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress[id]...)
}

// fakeRanker answers lookups with fn; n is the 1-based call number.
type fakeRanker struct {
	mu      sync.Mutex
	lookups []string
	fn      func(ctx context.Context, l ranking.Lookup, n int) (*ranking.Observation, error)
}

func (f *fakeRanker) LookupRanking(ctx context.Context, l ranking.Lookup) (*ranking.Observation, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, fmt.Sprintf("%s|%.7f|%.7f", l.Keyword, l.Coordinate.Lat, l.Coordinate.Lng))
	n := len(f.lookups)
	f.mu.Unlock()
	return f.fn(ctx, l, n)
}

func (f *fakeRanker) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lookups...)
}

func (f *fakeRanker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups)
}

type fakeExporter struct {
	mu    sync.Mutex
	snaps []*storage.ScanSnapshot
}

func (f *fakeExporter) ExportScan(_ context.Context, snap *storage.ScanSnapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return "mem://" + snap.Scan.ID, nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, scanID string) error {
	args := m.Called(ctx, scanID)
	return args.Error(0)
}
