package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when a scan is not in the state a transition requires.
var ErrConflict = errors.New("scan state conflict")

const resultBatchSize = 200

// ScanRepository persists grid scans, their point results and competitor stats.
// Status transitions are guarded in SQL so a terminal scan is never mutated.
type ScanRepository struct {
	db *gorm.DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// CreateScan inserts a new scan in PENDING with progress 0.
func (r *ScanRepository) CreateScan(ctx context.Context, scan *domain.GridScan) error {
	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}
	scan.Status = domain.ScanStatusPending
	scan.Progress = 0
	return r.db.WithContext(ctx).Create(scan).Error
}

// GetScan retrieves a scan by ID.
func (r *ScanRepository) GetScan(ctx context.Context, id string) (*domain.GridScan, error) {
	var scan domain.GridScan
	if err := r.db.WithContext(ctx).First(&scan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &scan, nil
}

// ListByCampaign returns a campaign's scans, newest first.
func (r *ScanRepository) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.GridScan, error) {
	var scans []domain.GridScan
	q := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&scans).Error; err != nil {
		return nil, err
	}
	return scans, nil
}

// LatestByCampaign returns the most recently created scan of a campaign.
func (r *ScanRepository) LatestByCampaign(ctx context.Context, campaignID string) (*domain.GridScan, error) {
	var scan domain.GridScan
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		First(&scan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("campaign %s has no scans: %w", campaignID, ErrNotFound)
		}
		return nil, err
	}
	return &scan, nil
}

// HasActiveScan reports whether the campaign has a PENDING or SCANNING scan.
func (r *ScanRepository) HasActiveScan(ctx context.Context, campaignID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]domain.ScanStatus{domain.ScanStatusPending, domain.ScanStatusScanning}).
		Count(&count).Error
	return count > 0, err
}

// MarkScanning moves a PENDING scan to SCANNING.
func (r *ScanRepository) MarkScanning(ctx context.Context, id string, totalPoints int, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("id = ? AND status = ?", id, domain.ScanStatusPending).
		Updates(map[string]interface{}{
			"status":       domain.ScanStatusScanning,
			"total_points": totalPoints,
			"started_at":   startedAt,
			"progress":     0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scan %s is not pending: %w", id, ErrConflict)
	}
	return nil
}

// UpdateScanProgress records counters for a SCANNING scan. Updates that would
// move progress backwards are ignored.
func (r *ScanRepository) UpdateScanProgress(ctx context.Context, id string, c domain.ScanCounters) error {
	return r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("id = ? AND status = ? AND progress <= ?", id, domain.ScanStatusScanning, c.Progress).
		Updates(map[string]interface{}{
			"progress":         c.Progress,
			"points_completed": c.PointsCompleted,
			"failed_points":    c.FailedPoints,
			"api_calls":        c.APICalls,
			"cache_hits":       c.CacheHits,
		}).Error
}

// SaveGridPointResults inserts point results. A cell already stored for the
// scan is left untouched.
func (r *ScanRepository) SaveGridPointResults(ctx context.Context, scanID string, results []domain.GridPointResult) error {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		results[i].ScanID = scanID
		if results[i].ID == "" {
			results[i].ID = uuid.New().String()
		}
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(results, resultBatchSize).Error
}

// GetGridPointResults returns a scan's results in keyword, row, column order.
func (r *ScanRepository) GetGridPointResults(ctx context.Context, scanID string) ([]domain.GridPointResult, error) {
	var results []domain.GridPointResult
	err := r.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("keyword ASC, grid_row ASC, grid_col ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SaveCompetitorStats replaces the competitor stats of a scan.
func (r *ScanRepository) SaveCompetitorStats(ctx context.Context, scanID string, stats []domain.CompetitorStat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_id = ?", scanID).Delete(&domain.CompetitorStat{}).Error; err != nil {
			return err
		}
		if len(stats) == 0 {
			return nil
		}
		for i := range stats {
			stats[i].ScanID = scanID
			if stats[i].ID == "" {
				stats[i].ID = uuid.New().String()
			}
		}
		return tx.CreateInBatches(stats, resultBatchSize).Error
	})
}

// GetCompetitorStats returns a scan's competitor stats by share of voice.
func (r *ScanRepository) GetCompetitorStats(ctx context.Context, scanID string) ([]domain.CompetitorStat, error) {
	var stats []domain.CompetitorStat
	err := r.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("share_of_voice DESC, avg_rank ASC, identity ASC").
		Find(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CompleteScan finalizes a SCANNING scan with its summary metrics.
func (r *ScanRepository) CompleteScan(ctx context.Context, id string, m domain.ScanMetrics, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("id = ? AND status = ?", id, domain.ScanStatusScanning).
		Updates(map[string]interface{}{
			"status":           domain.ScanStatusCompleted,
			"progress":         100,
			"avg_rank":         m.AvgRank,
			"share_of_voice":   m.ShareOfVoice,
			"top_competitor":   m.TopCompetitor,
			"avg_rank_change":  m.AvgRankChange,
			"points_completed": m.PointsCompleted,
			"failed_points":    m.FailedPoints,
			"api_calls":        m.APICalls,
			"cache_hits":       m.CacheHits,
			"completed_at":     completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scan %s is not scanning: %w", id, ErrConflict)
	}
	return nil
}

// FailScan moves a non-terminal scan to FAILED.
func (r *ScanRepository) FailScan(ctx context.Context, id, message string, c domain.ScanCounters, failedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("id = ? AND status IN ?", id,
			[]domain.ScanStatus{domain.ScanStatusPending, domain.ScanStatusScanning}).
		Updates(map[string]interface{}{
			"status":           domain.ScanStatusFailed,
			"error_message":    message,
			"points_completed": c.PointsCompleted,
			"failed_points":    c.FailedPoints,
			"api_calls":        c.APICalls,
			"cache_hits":       c.CacheHits,
			"completed_at":     failedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scan %s is already terminal: %w", id, ErrConflict)
	}
	return nil
}

// GetPreviousCompletedScan returns the latest COMPLETED scan of the campaign
// with the same grid size and radius, excluding excludeID.
func (r *ScanRepository) GetPreviousCompletedScan(ctx context.Context, campaignID, excludeID string, gridSize int, radiusMiles float64) (*domain.GridScan, error) {
	var scan domain.GridScan
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND id <> ? AND status = ? AND grid_size = ? AND radius_miles = ?",
			campaignID, excludeID, domain.ScanStatusCompleted, gridSize, radiusMiles).
		Order("completed_at DESC").
		First(&scan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no previous scan for campaign %s: %w", campaignID, ErrNotFound)
		}
		return nil, err
	}
	return &scan, nil
}

// RequestCancel flags a non-terminal scan for cancellation.
func (r *ScanRepository) RequestCancel(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.GridScan{}).
		Where("id = ? AND status IN ?", id,
			[]domain.ScanStatus{domain.ScanStatusPending, domain.ScanStatusScanning}).
		Update("cancel_requested", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetScan(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("scan %s is already terminal: %w", id, ErrConflict)
	}
	return nil
}

// IsCancelRequested reports whether cancellation was requested for a scan.
func (r *ScanRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var scan domain.GridScan
	err := r.db.WithContext(ctx).Select("cancel_requested").First(&scan, "id = ?", id).Error
	if err != nil {
		return false, err
	}
	return scan.CancelRequested, nil
}
