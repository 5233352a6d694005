package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opay/internal/model"
)

type FeePolicyRepository struct {
	db *gorm.DB
}

func NewFeePolicyRepository(db *gorm.DB) *FeePolicyRepository {
	return &FeePolicyRepository{db: db}
}

// ListByService 某业务下所有启用的策略（运营商级 + 默认 *）
func (r *FeePolicyRepository) ListByService(ctx context.Context, service string) ([]*model.FeePolicy, error) {
	var policies []*model.FeePolicy
	err := r.db.WithContext(ctx).
		Where("service = ? AND active = ?", service, true).
		Find(&policies).Error
	return policies, err
}

func (r *FeePolicyRepository) List(ctx context.Context) ([]*model.FeePolicy, error) {
	var policies []*model.FeePolicy
	err := r.db.WithContext(ctx).Order("service ASC, operator ASC").Find(&policies).Error
	return policies, err
}

// Upsert 按 (service, operator) 覆盖
func (r *FeePolicyRepository) Upsert(ctx context.Context, p *model.FeePolicy) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service"}, {Name: "operator"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"fee_type", "fee_value", "fee_min", "fee_max",
				"min_amount", "max_amount", "active", "updated_at",
			}),
		}).
		Create(p).Error
}
