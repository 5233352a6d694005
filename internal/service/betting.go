package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/pkg/idgen"
)

// BettingService 投注平台账户充值：从钱包余额扣款，管理员在平台上入账后审核通过
type BettingService struct {
	flow     *requestFlow[model.BettingDeposit, *model.BettingDeposit]
	store    RequestStore[model.BettingDeposit, *model.BettingDeposit]
	policies *PolicyService
	balances *BalanceService
	ledger   Ledger
	log      *zap.Logger
}

func NewBettingService(flow FlowDeps, store RequestStore[model.BettingDeposit, *model.BettingDeposit], policies *PolicyService, balances *BalanceService, ledger Ledger) *BettingService {
	return &BettingService{
		flow:     newRequestFlow(store, flow),
		store:    store,
		policies: policies,
		balances: balances,
		ledger:   ledger,
		log:      flow.Log.Named("betting"),
	}
}

type BettingDepositRequest struct {
	RequestID string          `json:"request_id"`
	Platform  string          `json:"platform" binding:"required,max=32"`
	AccountID string          `json:"account_id" binding:"required,max=64"`
	Amount    decimal.Decimal `json:"amount"`
}

// Create 例：2%，最低 10，最高 500 -> 1000 DZD 手续费 20，平台到账 980
func (s *BettingService) Create(ctx context.Context, userID string, req *BettingDepositRequest) (*model.BettingDeposit, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		return existing, err
	}

	q, err := s.policies.Quote(ctx, model.ServiceBettingDeposit, req.Platform, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Ensure(ctx, userID, q.Amount); err != nil {
		return nil, err
	}

	b := &model.BettingDeposit{Platform: req.Platform, AccountID: req.AccountID}
	b.RequestNo = idgen.GenerateNo(idgen.PrefixBetting)
	b.RequestID = req.RequestID
	b.UserID = userID
	b.Status = model.StatusPending
	b.ApplyQuote(q.Quote)

	row, _, err := s.flow.create(ctx, b)
	return row, err
}

func (s *BettingService) Get(ctx context.Context, userID, requestNo string) (*model.BettingDeposit, error) {
	return s.store.GetForUser(ctx, userID, requestNo)
}

func (s *BettingService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.BettingDeposit, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

func (s *BettingService) Cancel(ctx context.Context, userID, requestNo string) (*model.BettingDeposit, error) {
	return s.flow.cancel(ctx, userID, requestNo)
}

func (s *BettingService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.BettingDeposit, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

// Approve 后端 approve_betting_deposit 扣减钱包余额
func (s *BettingService) Approve(ctx context.Context, requestNo, adminID, note string) (*model.BettingDeposit, error) {
	b, err := s.flow.approve(ctx, requestNo, adminID, note, func(ctx context.Context, b *model.BettingDeposit) error {
		return s.ledger.ApproveBettingDeposit(ctx, backend.LedgerParams{
			UserID:    b.UserID,
			Amount:    b.Amount,
			Fee:       b.Fee,
			Reference: b.RequestNo,
			AdminID:   adminID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.balances.Invalidate(ctx, b.UserID)
	return b, nil
}

func (s *BettingService) Reject(ctx context.Context, requestNo, adminID, reason string) (*model.BettingDeposit, error) {
	return s.flow.reject(ctx, requestNo, adminID, reason, nil)
}

func (s *BettingService) RevertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.flow.revertStale(ctx, before, limit)
}

func (s *BettingService) CountPending(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, model.StatusPending)
}
