package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/model"
	"opay/pkg/idgen"
	"opay/pkg/phone"
)

// DiasporaService 侨汇：境外汇款人付外币，国内收款人收第纳尔
//
// 汇率来自配置 business.diaspora_rates（1 单位外币兑多少 DZD），审核通过后由下游按事件打款
type DiasporaService struct {
	flow     *requestFlow[model.DiasporaTransfer, *model.DiasporaTransfer]
	store    RequestStore[model.DiasporaTransfer, *model.DiasporaTransfer]
	policies *PolicyService
	rates    map[string]decimal.Decimal
	log      *zap.Logger
}

func NewDiasporaService(flow FlowDeps, store RequestStore[model.DiasporaTransfer, *model.DiasporaTransfer], policies *PolicyService, rates map[string]decimal.Decimal) *DiasporaService {
	return &DiasporaService{
		flow:     newRequestFlow(store, flow),
		store:    store,
		policies: policies,
		rates:    rates,
		log:      flow.Log.Named("diaspora"),
	}
}

type DiasporaRequest struct {
	RequestID      string          `json:"request_id"`
	SenderCountry  string          `json:"sender_country" binding:"required,len=2,alpha"`
	SourceCurrency string          `json:"source_currency" binding:"required,len=3,alpha"`
	SourceAmount   decimal.Decimal `json:"source_amount"`
	RecipientName  string          `json:"recipient_name" binding:"required,max=128"`
	RecipientPhone string          `json:"recipient_phone" binding:"required,dzphone"`
}

// DiasporaQuote 换算结果
type DiasporaQuote struct {
	SourceCurrency string          `json:"source_currency"`
	SourceAmount   decimal.Decimal `json:"source_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	*QuoteResult
}

// Quote 外币金额换算成第纳尔后按 diaspora 策略加收手续费
func (s *DiasporaService) Quote(ctx context.Context, currency string, sourceAmount decimal.Decimal) (*DiasporaQuote, error) {
	currency = strings.ToUpper(currency)
	rate, ok := s.rates[currency]
	if !ok || !rate.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	if !sourceAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	amount := sourceAmount.Mul(rate).Round(2)
	q, err := s.policies.Quote(ctx, model.ServiceDiaspora, currency, amount)
	if err != nil {
		return nil, err
	}
	return &DiasporaQuote{
		SourceCurrency: currency,
		SourceAmount:   sourceAmount,
		ExchangeRate:   rate,
		QuoteResult:    q,
	}, nil
}

func (s *DiasporaService) Create(ctx context.Context, userID string, req *DiasporaRequest) (*model.DiasporaTransfer, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		return existing, err
	}
	if !phone.Valid(req.RecipientPhone) {
		return nil, ErrInvalidPhone
	}

	q, err := s.Quote(ctx, req.SourceCurrency, req.SourceAmount)
	if err != nil {
		return nil, err
	}

	d := &model.DiasporaTransfer{
		SenderCountry:  strings.ToUpper(req.SenderCountry),
		SourceCurrency: q.SourceCurrency,
		SourceAmount:   q.SourceAmount,
		ExchangeRate:   q.ExchangeRate,
		RecipientName:  req.RecipientName,
		RecipientPhone: phone.Normalize(req.RecipientPhone),
	}
	d.RequestNo = idgen.GenerateNo(idgen.PrefixDiaspora)
	d.RequestID = req.RequestID
	d.UserID = userID
	d.Status = model.StatusPending
	d.ApplyQuote(q.Quote)

	row, _, err := s.flow.create(ctx, d)
	return row, err
}

func (s *DiasporaService) Get(ctx context.Context, userID, requestNo string) (*model.DiasporaTransfer, error) {
	return s.store.GetForUser(ctx, userID, requestNo)
}

func (s *DiasporaService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.DiasporaTransfer, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

func (s *DiasporaService) Cancel(ctx context.Context, userID, requestNo string) (*model.DiasporaTransfer, error) {
	return s.flow.cancel(ctx, userID, requestNo)
}

func (s *DiasporaService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.DiasporaTransfer, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

// Approve 管理员确认收到外币后通过
func (s *DiasporaService) Approve(ctx context.Context, requestNo, adminID, note string) (*model.DiasporaTransfer, error) {
	return s.flow.approve(ctx, requestNo, adminID, note, nil)
}

func (s *DiasporaService) Reject(ctx context.Context, requestNo, adminID, reason string) (*model.DiasporaTransfer, error) {
	return s.flow.reject(ctx, requestNo, adminID, reason, nil)
}

func (s *DiasporaService) RevertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.flow.revertStale(ctx, before, limit)
}

func (s *DiasporaService) CountPending(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, model.StatusPending)
}
