package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/pkg/idgen"
)

var ErrTransferFailed = errors.New("转账失败")

type TransferService struct {
	flow      *requestFlow[model.Transfer, *model.Transfer]
	store     RequestStore[model.Transfer, *model.Transfer]
	policies  *PolicyService
	balances  *BalanceService
	processor TransferProcessor
	log       *zap.Logger
}

func NewTransferService(flow FlowDeps, store RequestStore[model.Transfer, *model.Transfer], policies *PolicyService, balances *BalanceService, processor TransferProcessor) *TransferService {
	return &TransferService{
		flow:      newRequestFlow(store, flow),
		store:     store,
		policies:  policies,
		balances:  balances,
		processor: processor,
		log:       flow.Log.Named("transfer"),
	}
}

type TransferRequest struct {
	RequestID     string          `json:"request_id"`
	RecipientCode string          `json:"recipient_code" binding:"required,max=64"`
	Amount        decimal.Decimal `json:"amount"`
	Note          string          `json:"note" binding:"max=256"`
}

// Transfer 向收款码转账
//
// 后端 process_transfer 同步完成扣款和入账，本地记录 PROCESSING -> COMPLETED / FAILED。
// 失败时同时返回记录和错误，错误信息是后端给出的原因
func (s *TransferService) Transfer(ctx context.Context, userID string, req *TransferRequest) (*model.Transfer, error) {
	existing, err := s.flow.findExisting(ctx, userID, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, failedErr(existing)
	}

	code := strings.ToUpper(strings.TrimSpace(req.RecipientCode))
	recipientID, err := s.processor.ResolveRecipient(ctx, code)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("查询收款人失败: %w", err)
	}
	if recipientID == userID {
		return nil, ErrSelfTransfer
	}

	q, err := s.policies.QuoteOptional(ctx, model.ServiceTransfer, model.AnyOperator, req.Amount)
	if err != nil {
		return nil, err
	}
	if !q.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := s.balances.Ensure(ctx, userID, q.Amount); err != nil {
		return nil, err
	}

	t := &model.Transfer{
		RecipientCode: code,
		RecipientID:   recipientID,
		Note:          req.Note,
	}
	t.RequestNo = idgen.GenerateNo(idgen.PrefixTransfer)
	t.RequestID = req.RequestID
	t.UserID = userID
	t.Status = model.StatusProcessing
	t.ApplyQuote(q)

	row, existed, err := s.flow.create(ctx, t)
	if err != nil {
		return nil, err
	}
	if existed {
		return row, failedErr(row)
	}

	result, err := s.processor.ProcessTransfer(ctx, backend.TransferParams{
		SenderID:      userID,
		RecipientCode: code,
		Amount:        row.Amount,
		Note:          row.Note,
		Reference:     row.RequestNo,
	})
	if err != nil {
		reason := backend.Message(err)
		if reason == "" {
			reason = err.Error()
		}
		row.FailReason = truncate(reason, 256)
		_ = s.flow.finish(ctx, row, model.StatusFailed, map[string]interface{}{"fail_reason": row.FailReason}, row.FailReason)
		s.log.Warn("转账失败", zap.String("request_no", row.RequestNo), zap.Error(err))
		return row, err
	}

	row.BackendRef = result.TransferID
	if result.RecipientID != "" {
		row.RecipientID = result.RecipientID
	}
	err = s.flow.finish(ctx, row, model.StatusCompleted, map[string]interface{}{
		"backend_ref":  row.BackendRef,
		"recipient_id": row.RecipientID,
	}, "")
	if err != nil {
		// 后端已经转账成功，本地记录写入失败只影响展示，按成功返回
		s.log.Error("转账成功但本地记录未更新", zap.String("request_no", row.RequestNo), zap.Error(err))
	}
	s.balances.Invalidate(ctx, userID, row.RecipientID)
	return row, nil
}

func (s *TransferService) Get(ctx context.Context, userID, requestNo string) (*model.Transfer, error) {
	return s.store.GetForUser(ctx, userID, requestNo)
}

func (s *TransferService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.Transfer, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

func (s *TransferService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Transfer, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

func failedErr(t *model.Transfer) error {
	if t.Status != model.StatusFailed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTransferFailed, t.FailReason)
}
