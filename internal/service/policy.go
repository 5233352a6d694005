package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/fee"
	"opay/internal/metrics"
	"opay/internal/model"
)

// 各业务的结算方式：充值/提现类从金额里扣，购买类在金额上加
var serviceModes = map[string]fee.Mode{
	model.ServiceFlexyDeposit:   fee.ModeDeduct,
	model.ServiceBankDeposit:    fee.ModeDeduct,
	model.ServiceBettingDeposit: fee.ModeDeduct,
	model.ServiceWithdrawal:     fee.ModeDeduct,
	model.ServiceTransfer:       fee.ModeDeduct,
	model.ServicePhoneTopup:     fee.ModeAdd,
	model.ServiceGameTopup:      fee.ModeAdd,
	model.ServiceAliExpress:     fee.ModeAdd,
	model.ServiceGiftCard:       fee.ModeAdd,
	model.ServiceDigitalCard:    fee.ModeAdd,
	model.ServiceDiaspora:       fee.ModeAdd,
}

// ModeOf 未登记的业务按扣费处理
func ModeOf(service string) fee.Mode {
	if m, ok := serviceModes[service]; ok {
		return m
	}
	return fee.ModeDeduct
}

// QuoteResult 报价接口返回
type QuoteResult struct {
	Service   string          `json:"service"`
	Operator  string          `json:"operator"`
	FeeType   string          `json:"fee_type"`
	FeeValue  decimal.Decimal `json:"fee_value"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	fee.Quote
}

// PolicyService 手续费策略：MySQL 存储，Redis 按业务缓存整组策略
type PolicyService struct {
	store PolicyStore
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewPolicyService(store PolicyStore, cache Cache, ttl time.Duration, log *zap.Logger) *PolicyService {
	return &PolicyService{store: store, cache: cache, ttl: ttl, log: log.Named("policy")}
}

func policyCacheKey(service string) string {
	return "opay:policy:" + service
}

// listActive 读缓存，未命中或 Redis 故障时回源数据库
func (s *PolicyService) listActive(ctx context.Context, service string) ([]*model.FeePolicy, error) {
	var cached []*model.FeePolicy
	hit, err := s.cache.GetJSON(ctx, policyCacheKey(service), &cached)
	if err != nil {
		s.log.Warn("读取策略缓存失败", zap.String("service", service), zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	policies, err := s.store.ListByService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("查询手续费策略失败: %w", err)
	}
	if err := s.cache.SetJSON(ctx, policyCacheKey(service), policies, s.ttl); err != nil {
		s.log.Warn("写入策略缓存失败", zap.String("service", service), zap.Error(err))
	}
	return policies, nil
}

// Resolve 先找 (service, operator)，再找 (service, "*")
func (s *PolicyService) Resolve(ctx context.Context, service, operator string) (*model.FeePolicy, error) {
	policies, err := s.listActive(ctx, service)
	if err != nil {
		return nil, err
	}

	var fallback *model.FeePolicy
	for _, p := range policies {
		if p.Operator == operator && operator != "" {
			return p, nil
		}
		if p.Operator == model.AnyOperator {
			fallback = p
		}
	}
	if fallback == nil {
		return nil, ErrPolicyNotFound
	}
	return fallback, nil
}

// Quote 校验金额区间并按业务的结算方式报价
func (s *PolicyService) Quote(ctx context.Context, service, operator string, amount decimal.Decimal) (*QuoteResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	p, err := s.Resolve(ctx, service, operator)
	if err != nil {
		return nil, err
	}
	if !fee.InRange(amount, p.MinAmount, p.MaxAmount) {
		return nil, fmt.Errorf("%w: %s - %s", ErrAmountOutOfRange, p.MinAmount.StringFixed(2), maxLabel(p.MaxAmount))
	}

	metrics.FeeQuotes.WithLabelValues(service).Inc()
	return &QuoteResult{
		Service:   service,
		Operator:  p.Operator,
		FeeType:   p.FeeType,
		FeeValue:  p.FeeValue,
		MinAmount: p.MinAmount,
		MaxAmount: p.MaxAmount,
		Quote:     p.Policy().Quote(amount, ModeOf(service)),
	}, nil
}

// QuoteOptional 没有配置策略的业务不收手续费（转账）
func (s *PolicyService) QuoteOptional(ctx context.Context, service, operator string, amount decimal.Decimal) (fee.Quote, error) {
	q, err := s.Quote(ctx, service, operator, amount)
	if errors.Is(err, ErrPolicyNotFound) {
		return fee.Fixed(decimal.Zero, nil, nil).Quote(amount, ModeOf(service)), nil
	}
	if err != nil {
		return fee.Quote{}, err
	}
	return q.Quote, nil
}

// Fallback 历史订单手续费兜底用，找不到返回 nil
func (s *PolicyService) Fallback(ctx context.Context, service, operator string) *fee.Policy {
	p, err := s.Resolve(ctx, service, operator)
	if err != nil {
		return nil
	}
	policy := p.Policy()
	return &policy
}

// AmountCheck 给向导用的金额区间校验
func (s *PolicyService) AmountCheck(service string) func(operator string, amount decimal.Decimal) error {
	return func(operator string, amount decimal.Decimal) error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		p, err := s.Resolve(ctx, service, operator)
		if err != nil {
			return err
		}
		if !fee.InRange(amount, p.MinAmount, p.MaxAmount) {
			return fmt.Errorf("%w: %s - %s", ErrAmountOutOfRange, p.MinAmount.StringFixed(2), maxLabel(p.MaxAmount))
		}
		return nil
	}
}

// UpsertPolicyRequest 管理台保存策略
type UpsertPolicyRequest struct {
	Service   string           `json:"service" binding:"required"`
	Operator  string           `json:"operator" binding:"required"`
	FeeType   string           `json:"fee_type" binding:"required,oneof=percentage fixed"`
	FeeValue  decimal.Decimal  `json:"fee_value"`
	FeeMin    *decimal.Decimal `json:"fee_min"`
	FeeMax    *decimal.Decimal `json:"fee_max"`
	MinAmount decimal.Decimal  `json:"min_amount"`
	MaxAmount decimal.Decimal  `json:"max_amount"`
	Active    *bool            `json:"active"`
}

// Upsert 校验后保存，并清掉该业务的缓存
func (s *PolicyService) Upsert(ctx context.Context, req *UpsertPolicyRequest) (*model.FeePolicy, error) {
	if _, ok := serviceModes[req.Service]; !ok {
		return nil, fmt.Errorf("未知业务 %s: %w", req.Service, ErrPolicyNotFound)
	}

	p := &model.FeePolicy{
		Service:   req.Service,
		Operator:  req.Operator,
		FeeType:   req.FeeType,
		FeeValue:  req.FeeValue,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		Active:    true,
	}
	if req.FeeMin != nil {
		p.FeeMin = decimal.NewNullDecimal(*req.FeeMin)
	}
	if req.FeeMax != nil {
		p.FeeMax = decimal.NewNullDecimal(*req.FeeMax)
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := p.Validate(ModeOf(p.Service)); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("保存手续费策略失败: %w", err)
	}
	if err := s.cache.Delete(ctx, policyCacheKey(p.Service)); err != nil {
		s.log.Warn("清除策略缓存失败", zap.String("service", p.Service), zap.Error(err))
	}

	s.log.Info("手续费策略已更新",
		zap.String("service", p.Service),
		zap.String("operator", p.Operator),
		zap.String("fee_type", p.FeeType),
		zap.String("fee_value", p.FeeValue.String()))
	return p, nil
}

func (s *PolicyService) List(ctx context.Context) ([]*model.FeePolicy, error) {
	return s.store.List(ctx)
}

func maxLabel(max decimal.Decimal) string {
	if max.IsZero() {
		return "∞"
	}
	return max.StringFixed(2)
}
