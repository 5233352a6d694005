package repository

import (
	"context"

	"gorm.io/gorm"

	"opay/internal/model"
)

type ReviewLogRepository struct {
	db *gorm.DB
}

func NewReviewLogRepository(db *gorm.DB) *ReviewLogRepository {
	return &ReviewLogRepository{db: db}
}

// Create 只追加
func (r *ReviewLogRepository) Create(ctx context.Context, tx *gorm.DB, log *model.ReviewLog) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(log).Error
}

func (r *ReviewLogRepository) ListByRequestNo(ctx context.Context, requestNo string) ([]*model.ReviewLog, error) {
	var logs []*model.ReviewLog
	err := r.db.WithContext(ctx).
		Where("request_no = ?", requestNo).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
