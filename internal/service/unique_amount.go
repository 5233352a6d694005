package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================================
// 唯一金额
// ============================================================================
//
// Flexy 充值没有流水号，管理员只能看到"某运营商收到了 1003 DZD"。
// 同一运营商同时待处理的充值金额必须两两不同，才能对上是谁转的。
//
// 分配顺序：
//   1. 后端 generate_unique_amount 给出候选
//   2. 后端失败或候选已被占用：依次尝试 base+1 ... base+max_offset
//   3. 全部占用：返回 ErrNoUniqueAmount，绝不返回重复金额
//
// 唯一金额只能落在 (base, base+max_offset] 区间内，后端候选超出区间也按占用处理
//
// 【关键点】占用靠 Redis SETNX opay:unique:<operator>:<amount>，
// 同一时刻一个金额只属于一个用户。向导阶段短 TTL，生成充值申请后延长到申请超时时间
//
// ============================================================================

type UniqueAmountService struct {
	source     UniqueAmountSource
	cache      Cache
	maxOffset  int
	reserveTTL time.Duration
	holdTTL    time.Duration
	log        *zap.Logger
}

// holdMargin 申请占用比申请超时多留的时间，大于过期任务的执行间隔，
// 保证申请被关闭前金额不会先过期
const holdMargin = 5 * time.Minute

// NewUniqueAmountService requestTimeout 为充值申请超时时间，实际占用时长再加 holdMargin
func NewUniqueAmountService(source UniqueAmountSource, cache Cache, maxOffset int, reserveTTL, requestTimeout time.Duration, log *zap.Logger) *UniqueAmountService {
	return &UniqueAmountService{
		source:     source,
		cache:      cache,
		maxOffset:  maxOffset,
		reserveTTL: reserveTTL,
		holdTTL:    requestTimeout + holdMargin,
		log:        log.Named("unique_amount"),
	}
}

func uniqueAmountKey(operator string, amount decimal.Decimal) string {
	return fmt.Sprintf("opay:unique:%s:%s", operator, amount.StringFixed(2))
}

// Allocate 为用户分配一个唯一金额并占用
func (s *UniqueAmountService) Allocate(ctx context.Context, userID, operator string, base decimal.Decimal) (decimal.Decimal, error) {
	if !base.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	candidate, err := s.source.GenerateUniqueAmount(ctx, userID, operator, base)
	if err != nil {
		s.log.Warn("后端分配唯一金额失败，改用本地分配", zap.String("user_id", userID), zap.Error(err))
	} else if !s.inWindow(base, candidate) {
		s.log.Warn("后端给出的金额超出范围，改用本地分配",
			zap.String("base", base.String()), zap.String("amount", candidate.String()))
	} else {
		ok, err := s.reserve(ctx, userID, operator, candidate)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return candidate, nil
		}
		s.log.Warn("后端给出的金额已被占用", zap.String("operator", operator), zap.String("amount", candidate.String()))
	}

	for k := 1; k <= s.maxOffset; k++ {
		candidate = base.Add(decimal.NewFromInt(int64(k)))
		ok, err := s.reserve(ctx, userID, operator, candidate)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return candidate, nil
		}
	}
	return decimal.Zero, ErrNoUniqueAmount
}

func (s *UniqueAmountService) inWindow(base, amount decimal.Decimal) bool {
	return amount.GreaterThan(base) && amount.LessThanOrEqual(base.Add(decimal.NewFromInt(int64(s.maxOffset))))
}

// Claim 校验客户端带上来的唯一金额并延长占用：必须在 base 的分配区间内，且没有被别人占用
func (s *UniqueAmountService) Claim(ctx context.Context, userID, operator string, base, amount decimal.Decimal) error {
	if !s.inWindow(base, amount) {
		s.log.Warn("唯一金额不在分配区间",
			zap.String("user_id", userID), zap.String("base", base.String()), zap.String("amount", amount.String()))
		return ErrNoUniqueAmount
	}
	return s.Hold(ctx, userID, operator, amount)
}

func (s *UniqueAmountService) reserve(ctx context.Context, userID, operator string, amount decimal.Decimal) (bool, error) {
	ok, err := s.cache.SetNX(ctx, uniqueAmountKey(operator, amount), userID, s.reserveTTL)
	if err != nil {
		return false, fmt.Errorf("占用唯一金额失败: %w", err)
	}
	return ok, nil
}

// Hold 申请创建后延长占用，金额已被别人占用时返回 ErrNoUniqueAmount
func (s *UniqueAmountService) Hold(ctx context.Context, userID, operator string, amount decimal.Decimal) error {
	key := uniqueAmountKey(operator, amount)
	owner, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("查询唯一金额失败: %w", err)
	}
	if found && owner != userID {
		return ErrNoUniqueAmount
	}
	if !found {
		ok, err := s.cache.SetNX(ctx, key, userID, s.holdTTL)
		if err != nil {
			return fmt.Errorf("占用唯一金额失败: %w", err)
		}
		if !ok {
			return ErrNoUniqueAmount
		}
		return nil
	}
	return s.cache.Set(ctx, key, userID, s.holdTTL)
}

// Release 充值审核完成、拒绝、撤回、过期，或向导退回时释放。只释放自己占用的金额
func (s *UniqueAmountService) Release(ctx context.Context, userID, operator string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	key := uniqueAmountKey(operator, amount)
	deleted, err := s.cache.DeleteIfValue(ctx, key, userID)
	if err != nil {
		s.log.Warn("释放唯一金额失败",
			zap.String("operator", operator), zap.String("amount", amount.String()), zap.Error(err))
		return
	}
	if !deleted {
		s.log.Debug("唯一金额已不属于该用户，跳过释放",
			zap.String("user_id", userID), zap.String("operator", operator), zap.String("amount", amount.String()))
	}
}
