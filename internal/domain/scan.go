package domain

import "time"

// ScanStatus represents the state of a grid scan.
// PENDING -> SCANNING -> COMPLETED | FAILED. COMPLETED and FAILED are terminal.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "PENDING"
	ScanStatusScanning  ScanStatus = "SCANNING"
	ScanStatusCompleted ScanStatus = "COMPLETED"
	ScanStatusFailed    ScanStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanTrigger records who started a scan.
type ScanTrigger string

const (
	ScanTriggerManual    ScanTrigger = "manual"
	ScanTriggerScheduled ScanTrigger = "scheduled"
)

// GridScan is one execution of the engine against a campaign. The grid
// geometry and keywords are copied from the campaign at creation time so
// later campaign edits never change what a scan measured.
type GridScan struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	CampaignID      string      `gorm:"type:text;not null;index:idx_grid_scans_campaign" json:"campaign_id"`
	Status          ScanStatus  `gorm:"type:text;index;default:PENDING" json:"status"`
	Trigger         ScanTrigger `gorm:"type:text;default:manual" json:"trigger"`
	Progress        int         `gorm:"default:0" json:"progress"`
	GridSize        int         `json:"grid_size"`
	RadiusMiles     float64     `json:"radius_miles"`
	Keywords        StringArray `gorm:"type:text" json:"keywords"`
	TotalPoints     int         `gorm:"default:0" json:"total_points"`
	PointsCompleted int         `gorm:"default:0" json:"points_completed"`
	FailedPoints    int         `gorm:"default:0" json:"failed_points"`
	APICalls        int         `gorm:"column:api_calls;default:0" json:"api_calls"`
	CacheHits       int         `gorm:"default:0" json:"cache_hits"`
	AvgRank         *float64    `json:"avg_rank"`
	ShareOfVoice    float64     `gorm:"default:0" json:"share_of_voice"`
	TopCompetitor   string      `gorm:"type:text" json:"top_competitor,omitempty"`
	AvgRankChange   *float64    `json:"avg_rank_change,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	CancelRequested bool        `gorm:"default:false" json:"cancel_requested"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for GridScan.
func (GridScan) TableName() string {
	return "grid_scans"
}

// ScanProgress is the polling view of a scan exposed to callers.
type ScanProgress struct {
	ScanID          string     `json:"scan_id"`
	Status          ScanStatus `json:"status"`
	Progress        int        `json:"progress"`
	PointsCompleted int        `json:"points_completed"`
	FailedPoints    int        `json:"failed_points"`
	TotalPoints     int        `json:"total_points"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// ProgressView builds the polling view of the scan.
func (s *GridScan) ProgressView() ScanProgress {
	return ScanProgress{
		ScanID:          s.ID,
		Status:          s.Status,
		Progress:        s.Progress,
		PointsCompleted: s.PointsCompleted,
		FailedPoints:    s.FailedPoints,
		TotalPoints:     s.TotalPoints,
		ErrorMessage:    s.ErrorMessage,
	}
}

// ScanMetrics is the summary written onto a scan when it completes.
type ScanMetrics struct {
	AvgRank         *float64
	ShareOfVoice    float64
	TopCompetitor   string
	AvgRankChange   *float64
	PointsCompleted int
	FailedPoints    int
	APICalls        int
	CacheHits       int
}

// ScanCounters is an incremental progress update.
type ScanCounters struct {
	Progress        int
	PointsCompleted int
	FailedPoints    int
	APICalls        int
	CacheHits       int
}
