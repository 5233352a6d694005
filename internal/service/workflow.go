package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opay/internal/metrics"
	"opay/internal/model"
	"opay/internal/repository"
)

// ============================================================================
// 申请流转
// ============================================================================
//
// 各类申请（充值、提现、订单、投注、侨汇、转账、礼品卡）共用同一套流程：
//
//   创建：幂等检查 -> 用户锁 -> 再次幂等检查 -> 事务{插入申请 + 写 outbox}
//   审核：审核锁 -> PENDING->APPROVING -> 调后端 -> 事务{APPROVING->APPROVED + outbox + 审核日志}
//                                        └─ 后端失败 -> APPROVING->PENDING + 审核日志
//
// 【关键点】
//  1. 状态更新全部是 CAS（WHERE status = from），并发审核只有一个成功
//  2. outbox 消息和状态变更在同一个事务里，事件不会丢也不会多发
//  3. 后端调用不在本地事务里：先占住 APPROVING 再调用，失败回退
//
// ============================================================================

// 事件类型
const (
	EventCreated   = "created"
	EventApproved  = "approved"
	EventRejected  = "rejected"
	EventCancelled = "cancelled"
	EventExpired   = "expired"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event outbox 消息体
type Event struct {
	Event     string          `json:"event"`
	Kind      string          `json:"kind"`
	RequestNo string          `json:"request_no"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Net       decimal.Decimal `json:"net"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	Operator  string          `json:"operator,omitempty"`
	Note      string          `json:"note,omitempty"`
	At        time.Time       `json:"at"`
}

// FlowDeps 申请流转需要的依赖，所有申请服务共用
type FlowDeps struct {
	Tx          TxRunner
	Outbox      OutboxWriter
	ReviewLogs  ReviewLogWriter
	Locker      Locker
	TopicPrefix string
	Log         *zap.Logger
}

type requestFlow[T any, PT model.Row[T]] struct {
	kind  string
	store RequestStore[T, PT]
	deps  FlowDeps
	log   *zap.Logger
	now   func() time.Time
}

func newRequestFlow[T any, PT model.Row[T]](store RequestStore[T, PT], deps FlowDeps) *requestFlow[T, PT] {
	kind := PT(new(T)).Kind()
	return &requestFlow[T, PT]{
		kind:  kind,
		store: store,
		deps:  deps,
		log:   deps.Log.Named(kind),
		now:   time.Now,
	}
}

func (f *requestFlow[T, PT]) topic() string {
	return f.deps.TopicPrefix + "." + f.kind
}

func (f *requestFlow[T, PT]) lock(ctx context.Context, key string) (func(), error) {
	release, err := f.deps.Locker.Acquire(ctx, key, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestBusy, err)
	}
	return release, nil
}

// findExisting 幂等查询，没有幂等键时直接返回 nil
func (f *requestFlow[T, PT]) findExisting(ctx context.Context, userID, requestID string) (PT, error) {
	if requestID == "" {
		return nil, nil
	}
	row, err := f.store.GetByRequestID(ctx, userID, requestID)
	if err != nil {
		return nil, fmt.Errorf("查询申请失败: %w", err)
	}
	return row, nil
}

// create 插入申请并写 created 事件。幂等键已存在时返回已有申请，existed = true
//
// 调用方负责填好 RequestNo、UserID、金额和初始状态；RequestID 为空时用单号代替
func (f *requestFlow[T, PT]) create(ctx context.Context, row PT) (PT, bool, error) {
	base := row.Base()
	if base.RequestID == "" {
		base.RequestID = base.RequestNo
	}

	existing, err := f.findExisting(ctx, base.UserID, base.RequestID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	release, err := f.lock(ctx, "submit:"+base.UserID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	// 获取锁后再次检查幂等
	existing, err = f.findExisting(ctx, base.UserID, base.RequestID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	err = f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.Create(ctx, tx, row); err != nil {
			return fmt.Errorf("创建申请失败: %w", err)
		}
		return f.writeEvent(ctx, tx, row, EventCreated, base.UserID, "")
	})
	if err != nil {
		return nil, false, err
	}

	metrics.RequestsCreated.WithLabelValues(f.kind).Inc()
	f.log.Info("申请已创建",
		zap.String("request_no", base.RequestNo),
		zap.String("user_id", base.UserID),
		zap.String("amount", base.Amount.String()),
		zap.String("status", base.Status))
	return row, false, nil
}

// approve 审核通过。call 为空表示只改本地状态（线下履约类申请）
func (f *requestFlow[T, PT]) approve(ctx context.Context, requestNo, adminID, note string, call func(ctx context.Context, row PT) error) (PT, error) {
	release, err := f.lock(ctx, "review:"+requestNo)
	if err != nil {
		return nil, err
	}
	defer release()

	row, err := f.store.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	base := row.Base()

	// 先占住：PENDING -> APPROVING
	if err := f.store.UpdateStatus(ctx, nil, requestNo, model.StatusPending, model.StatusApproving, nil); err != nil {
		return nil, err
	}
	base.Status = model.StatusApproving

	if call != nil {
		if err := call(ctx, row); err != nil {
			f.revert(ctx, row, adminID, err.Error())
			metrics.RequestsReviewed.WithLabelValues(f.kind, "backend_error").Inc()
			return nil, err
		}
	}

	err = f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.Review(ctx, tx, requestNo, model.StatusApproving, model.StatusApproved, adminID, note); err != nil {
			return fmt.Errorf("更新申请状态失败: %w", err)
		}
		base.Status = model.StatusApproved
		if err := f.writeLog(ctx, tx, base, model.ReviewActionApprove, model.StatusPending, adminID, note); err != nil {
			return err
		}
		return f.writeEvent(ctx, tx, row, EventApproved, adminID, note)
	})
	if err != nil {
		// 后端已经入账，本地状态留在 APPROVING，由补偿任务回退后管理员重试（后端按单号幂等）
		f.log.Error("后端已处理但本地状态更新失败",
			zap.String("request_no", requestNo), zap.Error(err))
		return nil, err
	}

	metrics.RequestsReviewed.WithLabelValues(f.kind, "approved").Inc()
	f.log.Info("审核通过", zap.String("request_no", requestNo), zap.String("admin_id", adminID))
	return row, nil
}

// revert 后端调用失败，APPROVING -> PENDING，管理员可以重新审核
func (f *requestFlow[T, PT]) revert(ctx context.Context, row PT, operator, reason string) {
	base := row.Base()
	err := f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.UpdateStatus(ctx, tx, base.RequestNo, model.StatusApproving, model.StatusPending, nil); err != nil {
			return err
		}
		base.Status = model.StatusPending
		return f.writeLog(ctx, tx, base, model.ReviewActionRevert, model.StatusApproving, operator, truncate(reason, 256))
	})
	if err != nil {
		base.Status = model.StatusApproving
		f.log.Error("回退审核状态失败", zap.String("request_no", base.RequestNo), zap.Error(err))
		return
	}
	f.log.Warn("审核已回退", zap.String("request_no", base.RequestNo), zap.String("reason", reason))
}

// reject 审核拒绝。call 用于需要通知后端的申请（如提现解冻）
func (f *requestFlow[T, PT]) reject(ctx context.Context, requestNo, adminID, reason string, call func(ctx context.Context, row PT) error) (PT, error) {
	release, err := f.lock(ctx, "review:"+requestNo)
	if err != nil {
		return nil, err
	}
	defer release()

	row, err := f.store.GetByRequestNo(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	base := row.Base()
	if base.Status != model.StatusPending {
		return nil, fmt.Errorf("申请当前状态为 %s: %w", base.Status, repository.ErrStatusInvalid)
	}

	if call != nil {
		if err := call(ctx, row); err != nil {
			metrics.RequestsReviewed.WithLabelValues(f.kind, "backend_error").Inc()
			return nil, err
		}
	}

	err = f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.Review(ctx, tx, requestNo, model.StatusPending, model.StatusRejected, adminID, reason); err != nil {
			return fmt.Errorf("更新申请状态失败: %w", err)
		}
		base.Status = model.StatusRejected
		if err := f.writeLog(ctx, tx, base, model.ReviewActionReject, model.StatusPending, adminID, reason); err != nil {
			return err
		}
		return f.writeEvent(ctx, tx, row, EventRejected, adminID, reason)
	})
	if err != nil {
		return nil, err
	}

	metrics.RequestsReviewed.WithLabelValues(f.kind, "rejected").Inc()
	f.log.Info("审核拒绝", zap.String("request_no", requestNo), zap.String("admin_id", adminID), zap.String("reason", reason))
	return row, nil
}

// cancel 用户撤回自己的 PENDING 申请
func (f *requestFlow[T, PT]) cancel(ctx context.Context, userID, requestNo string) (PT, error) {
	row, err := f.store.GetForUser(ctx, userID, requestNo)
	if err != nil {
		return nil, err
	}
	if err := f.close(ctx, row, model.StatusCancelled, model.ReviewActionCancel, EventCancelled, userID); err != nil {
		return nil, err
	}
	return row, nil
}

// expire 超时任务关闭 PENDING 申请
func (f *requestFlow[T, PT]) expire(ctx context.Context, row PT) error {
	return f.close(ctx, row, model.StatusExpired, model.ReviewActionExpire, EventExpired, model.SystemOperator)
}

func (f *requestFlow[T, PT]) close(ctx context.Context, row PT, to, action, event, operator string) error {
	base := row.Base()
	err := f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.UpdateStatus(ctx, tx, base.RequestNo, model.StatusPending, to, nil); err != nil {
			return err
		}
		base.Status = to
		if err := f.writeLog(ctx, tx, base, action, model.StatusPending, operator, ""); err != nil {
			return err
		}
		return f.writeEvent(ctx, tx, row, event, operator, "")
	})
	if err != nil {
		return err
	}
	f.log.Info("申请已关闭", zap.String("request_no", base.RequestNo), zap.String("status", to))
	return nil
}

// finish 同步处理类申请（转账、礼品卡）写入最终结果
func (f *requestFlow[T, PT]) finish(ctx context.Context, row PT, to string, extra map[string]interface{}, note string) error {
	base := row.Base()
	event := EventCompleted
	if to == model.StatusFailed {
		event = EventFailed
	}
	err := f.deps.Tx.Transaction(func(tx *gorm.DB) error {
		if err := f.store.UpdateStatus(ctx, tx, base.RequestNo, model.StatusProcessing, to, extra); err != nil {
			return err
		}
		base.Status = to
		return f.writeEvent(ctx, tx, row, event, model.SystemOperator, note)
	})
	if err != nil {
		f.log.Error("写入处理结果失败", zap.String("request_no", base.RequestNo), zap.String("status", to), zap.Error(err))
		return err
	}
	return nil
}

// revertStale 补偿任务：APPROVING 超时回退到 PENDING
func (f *requestFlow[T, PT]) revertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	rows, err := f.store.GetStale(ctx, model.StatusApproving, before, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		f.revert(ctx, row, model.SystemOperator, "审核超时")
		if row.Base().Status == model.StatusPending {
			n++
		}
	}
	return n, nil
}

func (f *requestFlow[T, PT]) writeEvent(ctx context.Context, tx *gorm.DB, row PT, event, operator, note string) error {
	base := row.Base()
	payload, err := json.Marshal(Event{
		Event:     event,
		Kind:      f.kind,
		RequestNo: base.RequestNo,
		UserID:    base.UserID,
		Amount:    base.Amount,
		Fee:       base.Fee,
		Net:       base.Net,
		Total:     base.Total,
		Status:    base.Status,
		Operator:  operator,
		Note:      note,
		At:        f.now(),
	})
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		Kind:       f.kind,
		MessageKey: base.RequestNo,
		Topic:      f.topic(),
		EventType:  event,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := f.deps.Outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func (f *requestFlow[T, PT]) writeLog(ctx context.Context, tx *gorm.DB, base *model.RequestBase, action, from, operator, note string) error {
	err := f.deps.ReviewLogs.Create(ctx, tx, &model.ReviewLog{
		RequestNo:  base.RequestNo,
		Kind:       f.kind,
		Action:     action,
		FromStatus: from,
		ToStatus:   base.Status,
		Operator:   operator,
		Note:       note,
	})
	if err != nil {
		return fmt.Errorf("写入审核日志失败: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
