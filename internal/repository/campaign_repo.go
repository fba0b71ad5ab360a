package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"gorm.io/gorm"
)

// CampaignRepository handles campaign data operations.
type CampaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *gorm.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign, assigning an ID when none is set.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// GetByID retrieves a campaign by its ID.
// Returns:
//   - *domain.Campaign: campaign record if found.
//   - error: wraps ErrNotFound when no campaign has this ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// List returns campaigns newest first. An empty ownerID lists every owner.
func (r *CampaignRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ListActive returns every ACTIVE campaign.
func (r *CampaignRepository) ListActive(ctx context.Context) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.CampaignStatusActive).
		Order("created_at ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// UpdateStatus changes a campaign's lifecycle status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.Campaign{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}
