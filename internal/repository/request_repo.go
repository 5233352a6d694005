package repository

import (
	"context"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"opay/internal/model"
)

var (
	ErrRequestNotFound  = errors.New("申请不存在")
	ErrStatusInvalid    = errors.New("申请状态不合法")
	ErrDuplicateRequest = errors.New("重复请求")
)

const mysqlDuplicateEntry = 1062

// RequestRepository 各类资金申请共用的仓储
//
// 所有申请表都内嵌 model.RequestBase，状态流转、审核字段、分页查询完全一致
type RequestRepository[T any, PT model.Row[T]] struct {
	db *gorm.DB
}

func NewRequestRepository[T any, PT model.Row[T]](db *gorm.DB) *RequestRepository[T, PT] {
	return &RequestRepository[T, PT]{db: db}
}

func (r *RequestRepository[T, PT]) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Create 插入申请，request_id / request_no 冲突返回 ErrDuplicateRequest
func (r *RequestRepository[T, PT]) Create(ctx context.Context, tx *gorm.DB, row PT) error {
	err := r.conn(tx).WithContext(ctx).Create(row).Error
	if isDuplicate(err) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *RequestRepository[T, PT]) GetByRequestNo(ctx context.Context, requestNo string) (PT, error) {
	var row T
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return PT(&row), nil
}

// GetForUser 只能查到自己的申请，别人的单号按不存在处理
func (r *RequestRepository[T, PT]) GetForUser(ctx context.Context, userID, requestNo string) (PT, error) {
	var row T
	err := r.db.WithContext(ctx).
		Where("request_no = ? AND user_id = ?", requestNo, userID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return PT(&row), nil
}

// GetByRequestID 幂等查询，幂等键只在同一用户内有效，不存在返回 nil, nil
func (r *RequestRepository[T, PT]) GetByRequestID(ctx context.Context, userID, requestID string) (PT, error) {
	var row T
	err := r.db.WithContext(ctx).Where("user_id = ? AND request_id = ?", userID, requestID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return PT(&row), nil
}

// UpdateStatus CAS 更新状态：WHERE status = from，影响 0 行说明已被并发修改
func (r *RequestRepository[T, PT]) UpdateStatus(ctx context.Context, tx *gorm.DB, requestNo, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.conn(tx).WithContext(ctx).
		Model(PT(new(T))).
		Where("request_no = ? AND status = ?", requestNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// Review 带审核人信息的状态更新
func (r *RequestRepository[T, PT]) Review(ctx context.Context, tx *gorm.DB, requestNo, fromStatus, toStatus, adminID, note string) error {
	now := time.Now()
	return r.UpdateStatus(ctx, tx, requestNo, fromStatus, toStatus, map[string]interface{}{
		"reviewed_by": adminID,
		"review_note": note,
		"reviewed_at": &now,
	})
}

func (r *RequestRepository[T, PT]) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]PT, int64, error) {
	return r.list(ctx, r.db.Where("user_id = ?", userID), page, pageSize)
}

func (r *RequestRepository[T, PT]) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]PT, int64, error) {
	return r.list(ctx, r.db.Where("status = ?", status), page, pageSize)
}

func (r *RequestRepository[T, PT]) list(ctx context.Context, query *gorm.DB, page, pageSize int) ([]PT, int64, error) {
	var rows []PT
	var total int64

	query = query.WithContext(ctx).Model(PT(new(T)))

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error

	return rows, total, err
}

func (r *RequestRepository[T, PT]) CountByStatus(ctx context.Context, status string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(PT(new(T))).Where("status = ?", status).Count(&total).Error
	return total, err
}

// GetStale 指定状态下 updated_at 早于 before 的申请（补偿任务用）
func (r *RequestRepository[T, PT]) GetStale(ctx context.Context, status string, before time.Time, limit int) ([]PT, error) {
	var rows []PT
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GetCreatedBefore 指定状态下 created_at 早于 before 的申请（超时任务用）
func (r *RequestRepository[T, PT]) GetCreatedBefore(ctx context.Context, status string, before time.Time, limit int, scopes ...func(*gorm.DB) *gorm.DB) ([]PT, error) {
	var rows []PT
	err := r.db.WithContext(ctx).
		Scopes(scopes...).
		Where("status = ? AND created_at < ?", status, before).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
