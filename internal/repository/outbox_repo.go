package repository

import (
	"context"

	"gorm.io/gorm"

	"opay/internal/model"
)

// OutboxRepository 申请事件的本地消息表
//
// PENDING --发送成功--> SENT
// PENDING --重试耗尽--> FAILED --人工重放--> PENDING
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create tx 为空时单独写入；正常都在申请状态变更的事务里调用
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return r.listByStatus(ctx, model.OutboxStatusPending, limit)
}

func (r *OutboxRepository) GetFailedMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return r.listByStatus(ctx, model.OutboxStatusFailed, limit)
}

// 自增 id 即写入顺序，同一申请的事件按先后投递
func (r *OutboxRepository) listByStatus(ctx context.Context, status string, limit int) ([]*model.OutboxMessage, error) {
	var out []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{"status": model.OutboxStatusSent})
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{"retry_count": gorm.Expr("retry_count + 1")})
}

// MarkAsFailed 最后一次失败也计入重试次数
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      model.OutboxStatusFailed,
		"retry_count": gorm.Expr("retry_count + 1"),
	})
}

func (r *OutboxRepository) update(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// RequeueFailed 人工重放，只动 FAILED 的行，返回实际重放条数
func (r *OutboxRepository) RequeueFailed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id IN ? AND status = ?", ids, model.OutboxStatusFailed).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusPending,
			"retry_count": 0,
		})
	return res.RowsAffected, res.Error
}
