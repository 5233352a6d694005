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

type WithdrawalService struct {
	flow     *requestFlow[model.Withdrawal, *model.Withdrawal]
	store    RequestStore[model.Withdrawal, *model.Withdrawal]
	policies *PolicyService
	balances *BalanceService
	ledger   Ledger
	log      *zap.Logger
}

func NewWithdrawalService(flow FlowDeps, store RequestStore[model.Withdrawal, *model.Withdrawal], policies *PolicyService, balances *BalanceService, ledger Ledger) *WithdrawalService {
	return &WithdrawalService{
		flow:     newRequestFlow(store, flow),
		store:    store,
		policies: policies,
		balances: balances,
		ledger:   ledger,
		log:      flow.Log.Named("withdrawal"),
	}
}

type WithdrawalRequest struct {
	RequestID     string          `json:"request_id"`
	Method        string          `json:"method" binding:"required,oneof=ccp baridimob"`
	AccountNumber string          `json:"account_number" binding:"required,alphanum,min=8,max=32"`
	AccountName   string          `json:"account_name" binding:"required,max=128"`
	Amount        decimal.Decimal `json:"amount"`
}

// Create 提交提现申请：金额区间、余额预检，审核通过后由后端扣款
func (s *WithdrawalService) Create(ctx context.Context, userID string, req *WithdrawalRequest) (*model.Withdrawal, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		return existing, err
	}

	q, err := s.policies.Quote(ctx, model.ServiceWithdrawal, req.Method, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Ensure(ctx, userID, q.Amount); err != nil {
		return nil, err
	}

	w := &model.Withdrawal{
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	}
	w.RequestNo = idgen.GenerateNo(idgen.PrefixWithdrawal)
	w.RequestID = req.RequestID
	w.UserID = userID
	w.Status = model.StatusPending
	w.ApplyQuote(q.Quote)

	row, _, err := s.flow.create(ctx, w)
	return row, err
}

func (s *WithdrawalService) Get(ctx context.Context, userID, requestNo string) (*model.Withdrawal, error) {
	return s.store.GetForUser(ctx, userID, requestNo)
}

func (s *WithdrawalService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.Withdrawal, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

func (s *WithdrawalService) Cancel(ctx context.Context, userID, requestNo string) (*model.Withdrawal, error) {
	return s.flow.cancel(ctx, userID, requestNo)
}

func (s *WithdrawalService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Withdrawal, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

// Approve 管理员线下打款后确认，后端 approve_withdrawal 扣减余额
func (s *WithdrawalService) Approve(ctx context.Context, requestNo, adminID, note string) (*model.Withdrawal, error) {
	w, err := s.flow.approve(ctx, requestNo, adminID, note, func(ctx context.Context, w *model.Withdrawal) error {
		return s.ledger.ApproveWithdrawal(ctx, backend.LedgerParams{
			UserID:    w.UserID,
			Amount:    w.Amount,
			Fee:       w.Fee,
			Reference: w.RequestNo,
			AdminID:   adminID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.balances.Invalidate(ctx, w.UserID)
	return w, nil
}

// Reject 拒绝提现，后端 reject_withdrawal 解除该单号上的冻结
func (s *WithdrawalService) Reject(ctx context.Context, requestNo, adminID, reason string) (*model.Withdrawal, error) {
	w, err := s.flow.reject(ctx, requestNo, adminID, reason, func(ctx context.Context, w *model.Withdrawal) error {
		return s.ledger.RejectWithdrawal(ctx, w.RequestNo, adminID, reason)
	})
	if err != nil {
		return nil, err
	}
	s.balances.Invalidate(ctx, w.UserID)
	return w, nil
}

func (s *WithdrawalService) RevertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.flow.revertStale(ctx, before, limit)
}

func (s *WithdrawalService) CountPending(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, model.StatusPending)
}
