package domain

import "time"

// Cadence is how often a campaign is scanned automatically.
type Cadence string

const (
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// Interval returns the minimum age of the latest scan before another is due.
// Unknown cadences return 0.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceBiweekly:
		return 14 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// CampaignStatus represents the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusPaused   CampaignStatus = "PAUSED"
	CampaignStatusArchived CampaignStatus = "ARCHIVED"
)

// SearchType selects the kind of result list scanned at each grid point.
type SearchType string

const (
	SearchTypeMaps    SearchType = "maps"
	SearchTypeOrganic SearchType = "organic"
)

// Campaign is a tracked business and the geometry it is scanned over.
type Campaign struct {
	ID           string         `gorm:"type:text;primaryKey" json:"id"`
	OwnerID      string         `gorm:"type:text;index" json:"owner_id"`
	BusinessName string         `gorm:"type:text;not null" json:"business_name"`
	Domain       string         `gorm:"type:text" json:"domain,omitempty"`
	PlaceID      string         `gorm:"type:text" json:"place_id,omitempty"`
	CID          string         `gorm:"column:cid;type:text" json:"cid,omitempty"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	RadiusMiles  float64        `json:"radius_miles"`
	GridSize     int            `json:"grid_size"`
	Keywords     StringArray    `gorm:"type:text" json:"keywords"`
	Cadence      Cadence        `gorm:"type:text;default:weekly" json:"cadence"`
	Status       CampaignStatus `gorm:"type:text;index;default:ACTIVE" json:"status"`
	SearchType   SearchType     `gorm:"type:text;default:maps" json:"search_type"`
	SearchDepth  int            `json:"search_depth"`
	LanguageCode string         `gorm:"type:text" json:"language_code,omitempty"`
	Device       string         `gorm:"type:text" json:"device,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Campaign.
func (Campaign) TableName() string {
	return "campaigns"
}
