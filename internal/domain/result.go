package domain

import "time"

// GridPointResult is one (row, col, keyword) observation within a scan.
// A nil Rank means the target was not found within the search depth.
type GridPointResult struct {
	ID          string         `gorm:"type:text;primaryKey" json:"id"`
	ScanID      string         `gorm:"type:text;not null;uniqueIndex:idx_point_results_cell" json:"scan_id"`
	Keyword     string         `gorm:"type:text;not null;uniqueIndex:idx_point_results_cell" json:"keyword"`
	Row         int            `gorm:"column:grid_row;uniqueIndex:idx_point_results_cell" json:"row"`
	Col         int            `gorm:"column:grid_col;uniqueIndex:idx_point_results_cell" json:"col"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Rank        *int           `json:"rank"`
	Competitors RankedEntities `gorm:"type:text" json:"competitors"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName returns the database table name for GridPointResult.
func (GridPointResult) TableName() string {
	return "grid_point_results"
}

// CompetitorStat is the scan-level summary for one distinct competing entity.
type CompetitorStat struct {
	ID              string   `gorm:"type:text;primaryKey" json:"id"`
	ScanID          string   `gorm:"type:text;not null;index" json:"scan_id"`
	Identity        string   `gorm:"type:text;not null" json:"identity"`
	BusinessName    string   `gorm:"type:text" json:"business_name"`
	ExternalID      string   `gorm:"type:text" json:"external_id,omitempty"`
	Domain          string   `gorm:"type:text" json:"domain,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	ReviewCount     int      `json:"review_count"`
	AvgRank         float64  `json:"avg_rank"`
	Appearances     int      `json:"appearances"`
	Top3Count       int      `gorm:"column:top3_count" json:"top3_count"`
	Top10Count      int      `gorm:"column:top10_count" json:"top10_count"`
	Top20Count      int      `gorm:"column:top20_count" json:"top20_count"`
	ShareOfVoice    float64  `json:"share_of_voice"`
	PreviousAvgRank *float64 `json:"previous_avg_rank,omitempty"`
	RankChange      *float64 `json:"rank_change,omitempty"`
}

// TableName returns the database table name for CompetitorStat.
func (CompetitorStat) TableName() string {
	return "competitor_stats"
}

// CacheEntry backs the database tier of the response cache.
type CacheEntry struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Value     []byte    `json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
