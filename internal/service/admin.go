package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
)

const RoleAdmin = "admin"

// PendingCounter 待审核数量，各申请服务实现
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// AdminService 管理台：角色校验、认证/商户审核、余额重算、待办角标
type AdminService struct {
	backend  AdminBackend
	cache    Cache
	roleTTL  time.Duration
	balances *BalanceService
	counters map[string]PendingCounter
	log      *zap.Logger
}

func NewAdminService(b AdminBackend, cache Cache, roleTTL time.Duration, balances *BalanceService, counters map[string]PendingCounter, log *zap.Logger) *AdminService {
	return &AdminService{
		backend:  b,
		cache:    cache,
		roleTTL:  roleTTL,
		balances: balances,
		counters: counters,
		log:      log.Named("admin"),
	}
}

func roleCacheKey(userID, role string) string {
	return fmt.Sprintf("opay:role:%s:%s", userID, role)
}

// IsAdmin has_role 结果短时缓存，撤销角色最多延迟 roleTTL 生效
func (s *AdminService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	key := roleCacheKey(userID, RoleAdmin)
	if v, found, err := s.cache.Get(ctx, key); err == nil && found {
		return v == "1", nil
	}

	ok, err := s.backend.HasRole(ctx, userID, RoleAdmin)
	if err != nil {
		return false, err
	}

	v := "0"
	if ok {
		v = "1"
	}
	if err := s.cache.Set(ctx, key, v, s.roleTTL); err != nil {
		s.log.Warn("写入角色缓存失败", zap.String("user_id", userID), zap.Error(err))
	}
	return ok, nil
}

// ReviewRequest 认证/商户审核
type ReviewRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" binding:"max=256"`
}

// ReviewVerification 实名认证审核
func (s *AdminService) ReviewVerification(ctx context.Context, requestID, adminID string, req *ReviewRequest) error {
	var err error
	if req.Approve {
		err = s.backend.ApproveVerificationRequest(ctx, requestID, adminID)
	} else {
		err = s.backend.RejectVerificationRequest(ctx, requestID, adminID, req.Reason)
	}
	if err != nil {
		return err
	}
	s.log.Info("认证审核完成",
		zap.String("request_id", requestID), zap.String("admin_id", adminID), zap.Bool("approve", req.Approve))
	return nil
}

// ReviewMerchant 商户申请审核
func (s *AdminService) ReviewMerchant(ctx context.Context, requestID, adminID string, req *ReviewRequest) error {
	var err error
	if req.Approve {
		err = s.backend.ApproveMerchantRequest(ctx, requestID, adminID)
	} else {
		err = s.backend.RejectMerchantRequest(ctx, requestID, adminID, req.Reason)
	}
	if err != nil {
		return err
	}
	s.log.Info("商户审核完成",
		zap.String("request_id", requestID), zap.String("admin_id", adminID), zap.Bool("approve", req.Approve))
	return nil
}

func (s *AdminService) RecalculateBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.balances.Recalculate(ctx, userID)
}

func (s *AdminService) RecalculateAllBalances(ctx context.Context) (int64, error) {
	return s.balances.RecalculateAll(ctx)
}

// PendingCounts 各类待审核数量。单项失败记日志并跳过，不影响其他角标
func (s *AdminService) PendingCounts(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(s.counters)+2)
	for kind, c := range s.counters {
		n, err := c.CountPending(ctx)
		if err != nil {
			s.log.Warn("统计待审核数量失败", zap.String("kind", kind), zap.Error(err))
			continue
		}
		out[kind] = n
	}

	for kind, table := range map[string]string{
		"verification": backend.TableVerificationRequests,
		"merchant":     backend.TableMerchantRequests,
	} {
		n, err := s.backend.CountPending(ctx, table)
		if err != nil {
			s.log.Warn("统计待审核数量失败", zap.String("kind", kind), zap.Error(err))
			continue
		}
		out[kind] = n
	}
	return out
}

// PendingCounters 按申请类型登记
func PendingCounters(deposits, withdrawals, orders, betting, diaspora PendingCounter) map[string]PendingCounter {
	return map[string]PendingCounter{
		model.KindDeposit:    deposits,
		model.KindWithdrawal: withdrawals,
		model.KindOrder:      orders,
		model.KindBetting:    betting,
		model.KindDiaspora:   diaspora,
	}
}
