package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRepository is the database tier of the response cache. It lets cache
// entries survive restarts and be shared by the API and worker processes.
type CacheRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db, now: time.Now}
}

func (r *CacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry domain.CacheEntry
	err := r.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, r.now()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (r *CacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := r.now()
	entry := domain.CacheEntry{Key: key, Value: value, ExpiresAt: now.Add(ttl), CreatedAt: now}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "created_at"}),
	}).Create(&entry).Error
}

func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.CacheEntry{}).Error
}

// PurgeExpired removes expired entries and returns how many were deleted.
func (r *CacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now()).Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}
