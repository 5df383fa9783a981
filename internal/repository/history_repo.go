package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/internal/model"
)

type HistoryRepository struct {
	db        *gorm.DB
	retention time.Duration
}

// NewHistoryRepository retention <= 0 时不清理
func NewHistoryRepository(db *gorm.DB, retention time.Duration) *HistoryRepository {
	return &HistoryRepository{db: db, retention: retention}
}

// Append 写入一条记录并清理过期数据
func (r *HistoryRepository) Append(ctx context.Context, entry *model.HistoricalEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	if r.retention > 0 {
		if _, err := r.DeleteBefore(ctx, time.Now().Add(-r.retention)); err != nil {
			return err
		}
	}
	return nil
}

// ListByCategory 某类别 since 之后的记录，按时间正序
func (r *HistoryRepository) ListByCategory(ctx context.Context, category string, since time.Time) ([]*model.HistoricalEntry, error) {
	var entries []*model.HistoricalEntry
	err := r.db.WithContext(ctx).
		Where("category = ? AND timestamp >= ?", category, since).
		Order("timestamp ASC").
		Find(&entries).Error
	return entries, err
}

func (r *HistoryRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&model.HistoricalEntry{})
	return result.RowsAffected, result.Error
}

func (r *HistoryRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.HistoricalEntry{}).Count(&total).Error
	return total, err
}
