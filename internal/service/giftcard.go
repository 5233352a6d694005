package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/pkg/idgen"
)

type GiftCardService struct {
	flow     *requestFlow[model.GiftCardRedemption, *model.GiftCardRedemption]
	store    RequestStore[model.GiftCardRedemption, *model.GiftCardRedemption]
	cards    GiftCardSource
	ledger   Ledger
	balances *BalanceService
	log      *zap.Logger
}

func NewGiftCardService(flow FlowDeps, store RequestStore[model.GiftCardRedemption, *model.GiftCardRedemption], cards GiftCardSource, ledger Ledger, balances *BalanceService) *GiftCardService {
	return &GiftCardService{
		flow:     newRequestFlow(store, flow),
		store:    store,
		cards:    cards,
		ledger:   ledger,
		balances: balances,
		log:      flow.Log.Named("giftcard"),
	}
}

type RedeemRequest struct {
	RequestID string `json:"request_id"`
	CardCode  string `json:"card_code" binding:"required,max=64"`
}

// Redeem 兑换礼品卡
//
// 步骤：查卡 -> 本地记录 PROCESSING -> 条件更新卡状态 active->used -> approve_deposit 入账 -> COMPLETED
// 【关键点】卡状态的条件更新保证同一张卡只能被兑换一次，并发兑换时只有一个成功
func (s *GiftCardService) Redeem(ctx context.Context, userID string, req *RedeemRequest) (*model.GiftCardRedemption, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		if existing != nil && existing.Status == model.StatusFailed {
			return existing, fmt.Errorf("%w: %s", ErrGiftCardUnavailable, existing.FailReason)
		}
		return existing, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.CardCode))
	card, err := s.cards.GetGiftCard(ctx, code)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrGiftCardUnavailable
		}
		return nil, fmt.Errorf("查询礼品卡失败: %w", err)
	}
	if card.Status != backend.GiftCardActive || !card.Amount.IsPositive() {
		return nil, ErrGiftCardUnavailable
	}

	r := &model.GiftCardRedemption{CardCode: code, CardID: card.ID}
	r.RequestNo = idgen.GenerateNo(idgen.PrefixGiftCard)
	r.RequestID = req.RequestID
	r.UserID = userID
	r.Status = model.StatusProcessing
	r.Amount = card.Amount
	r.Net = card.Amount
	r.Total = card.Amount

	row, existed, err := s.flow.create(ctx, r)
	if err != nil {
		return nil, err
	}
	if existed {
		return row, nil
	}

	if _, err := s.cards.MarkGiftCardUsed(ctx, code, userID); err != nil {
		s.fail(ctx, row, err)
		if errors.Is(err, backend.ErrGiftCardUnavailable) {
			return row, ErrGiftCardUnavailable
		}
		return row, err
	}

	err = s.ledger.ApproveDeposit(ctx, backend.LedgerParams{
		UserID:    userID,
		Amount:    row.Amount,
		Reference: row.RequestNo,
		AdminID:   model.SystemOperator,
	})
	if err != nil {
		// 卡已经标记为已用但没有入账，需要人工按单号补入账
		s.log.Error("礼品卡已核销但入账失败",
			zap.String("request_no", row.RequestNo), zap.String("card_id", card.ID), zap.Error(err))
		s.fail(ctx, row, err)
		return row, err
	}

	if err := s.flow.finish(ctx, row, model.StatusCompleted, nil, ""); err != nil {
		s.log.Error("礼品卡已入账但本地记录未更新", zap.String("request_no", row.RequestNo), zap.Error(err))
	}
	s.balances.Invalidate(ctx, userID)
	return row, nil
}

func (s *GiftCardService) fail(ctx context.Context, row *model.GiftCardRedemption, cause error) {
	reason := backend.Message(cause)
	if reason == "" {
		reason = cause.Error()
	}
	row.FailReason = truncate(reason, 256)
	_ = s.flow.finish(ctx, row, model.StatusFailed, map[string]interface{}{"fail_reason": row.FailReason}, row.FailReason)
}

func (s *GiftCardService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.GiftCardRedemption, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

func (s *GiftCardService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.GiftCardRedemption, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}
