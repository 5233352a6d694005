package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceService 余额以后端 user_balances 为准，这里只做短时缓存和提交前预检
type BalanceService struct {
	source BalanceSource
	cache  Cache
	ttl    time.Duration
	log    *zap.Logger
}

func NewBalanceService(source BalanceSource, cache Cache, ttl time.Duration, log *zap.Logger) *BalanceService {
	return &BalanceService{source: source, cache: cache, ttl: ttl, log: log.Named("balance")}
}

func balanceCacheKey(userID string) string {
	return "opay:balance:" + userID
}

// Get 读取余额，缓存命中直接返回
func (s *BalanceService) Get(ctx context.Context, userID string) (decimal.Decimal, error) {
	if v, found, err := s.cache.Get(ctx, balanceCacheKey(userID)); err == nil && found {
		if d, err := decimal.NewFromString(v); err == nil {
			return d, nil
		}
	}

	balance, err := s.source.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("获取余额失败: %w", err)
	}
	s.store(ctx, userID, balance)
	return balance, nil
}

// Ensure 提交前预检，后端仍可能拒绝
func (s *BalanceService) Ensure(ctx context.Context, userID string, amount decimal.Decimal) error {
	balance, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

// Invalidate 余额可能变化后调用
func (s *BalanceService) Invalidate(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, balanceCacheKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("清除余额缓存失败", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}

// Recalculate 按流水重算单个用户余额
func (s *BalanceService) Recalculate(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := s.source.RecalculateUserBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.store(ctx, userID, balance)
	s.log.Info("余额已重算", zap.String("user_id", userID), zap.String("balance", balance.String()))
	return balance, nil
}

// RecalculateAll 全量重算，返回处理的用户数
func (s *BalanceService) RecalculateAll(ctx context.Context) (int64, error) {
	n, err := s.source.RecalculateAllBalances(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("全量余额已重算", zap.Int64("users", n))
	return n, nil
}

func (s *BalanceService) store(ctx context.Context, userID string, balance decimal.Decimal) {
	if s.ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, balanceCacheKey(userID), balance.String(), s.ttl); err != nil {
		s.log.Warn("写入余额缓存失败", zap.String("user_id", userID), zap.Error(err))
	}
}
