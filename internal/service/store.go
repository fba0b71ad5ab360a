package service

import (
	"context"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/ranking"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/storage"
)

// CampaignStore is the campaign persistence the services depend on.
// repository.CampaignRepository implements it.
type CampaignStore interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Campaign, error)
	ListActive(ctx context.Context) ([]domain.Campaign, error)
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
}

// ScanStore is the scan persistence the orchestrator depends on. It decides
// how state is stored; the orchestrator decides what is stored and when.
// repository.ScanRepository implements it.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *domain.GridScan) error
	GetScan(ctx context.Context, id string) (*domain.GridScan, error)
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.GridScan, error)
	LatestByCampaign(ctx context.Context, campaignID string) (*domain.GridScan, error)
	HasActiveScan(ctx context.Context, campaignID string) (bool, error)
	MarkScanning(ctx context.Context, id string, totalPoints int, startedAt time.Time) error
	UpdateScanProgress(ctx context.Context, id string, c domain.ScanCounters) error
	SaveGridPointResults(ctx context.Context, scanID string, results []domain.GridPointResult) error
	GetGridPointResults(ctx context.Context, scanID string) ([]domain.GridPointResult, error)
	SaveCompetitorStats(ctx context.Context, scanID string, stats []domain.CompetitorStat) error
	GetCompetitorStats(ctx context.Context, scanID string) ([]domain.CompetitorStat, error)
	CompleteScan(ctx context.Context, id string, m domain.ScanMetrics, completedAt time.Time) error
	FailScan(ctx context.Context, id, message string, c domain.ScanCounters, failedAt time.Time) error
	GetPreviousCompletedScan(ctx context.Context, campaignID, excludeID string, gridSize int, radiusMiles float64) (*domain.GridScan, error)
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

// RankingClient resolves one (coordinate, keyword) observation.
// ranking.Client implements it.
type RankingClient interface {
	LookupRanking(ctx context.Context, l ranking.Lookup) (*ranking.Observation, error)
}

// SnapshotExporter archives completed scans. storage.SnapshotExporter
// implements it.
type SnapshotExporter interface {
	ExportScan(ctx context.Context, snap *storage.ScanSnapshot) (string, error)
}

// Dispatcher hands a created scan to a runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, scanID string) error
}
