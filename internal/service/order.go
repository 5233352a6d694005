package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/fee"
	"opay/internal/model"
	"opay/pkg/idgen"
	"opay/pkg/phone"
)

// 订单类型对应的手续费业务
var orderServices = map[string]string{
	model.OrderPhoneTopup:  model.ServicePhoneTopup,
	model.OrderGameTopup:   model.ServiceGameTopup,
	model.OrderAliExpress:  model.ServiceAliExpress,
	model.OrderGiftCard:    model.ServiceGiftCard,
	model.OrderDigitalCard: model.ServiceDigitalCard,
}

type OrderService struct {
	flow     *requestFlow[model.Order, *model.Order]
	store    RequestStore[model.Order, *model.Order]
	policies *PolicyService
	balances *BalanceService
	scraper  ProductScraper
	catalog  ProductCatalog
	usdRate  decimal.Decimal
	log      *zap.Logger
}

// NewOrderService usdRate 为 1 USD 兑换的第纳尔数，用于速卖通标价换算
func NewOrderService(flow FlowDeps, store RequestStore[model.Order, *model.Order], policies *PolicyService, balances *BalanceService, scraper ProductScraper, catalog ProductCatalog, usdRate decimal.Decimal) *OrderService {
	return &OrderService{
		flow:     newRequestFlow(store, flow),
		store:    store,
		policies: policies,
		balances: balances,
		scraper:  scraper,
		catalog:  catalog,
		usdRate:  usdRate,
		log:      flow.Log.Named("order"),
	}
}

// AliExpressPreview 粘贴链接后的商品预览和报价
type AliExpressPreview struct {
	Title         string          `json:"title"`
	ImageURL      string          `json:"image_url"`
	ProductURL    string          `json:"product_url"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Currency      string          `json:"currency"`
	Quantity      int             `json:"quantity"`
	Quote         *QuoteResult    `json:"quote"`
}

// PreviewAliExpress 抓取商品信息，按汇率换算成第纳尔后报价
func (s *OrderService) PreviewAliExpress(ctx context.Context, productURL string, quantity int) (*AliExpressPreview, error) {
	if !isAliExpressURL(productURL) {
		return nil, ErrInvalidProductURL
	}
	if quantity <= 0 {
		quantity = 1
	}

	product, err := s.scraper.ScrapeAliExpress(ctx, productURL)
	if err != nil {
		return nil, err
	}

	var unit decimal.Decimal
	switch strings.ToUpper(product.Currency) {
	case "DZD":
		unit = product.Price
	case "USD":
		unit = product.Price.Mul(s.usdRate)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, product.Currency)
	}
	amount := unit.Mul(decimal.NewFromInt(int64(quantity))).Round(2)

	q, err := s.policies.Quote(ctx, model.ServiceAliExpress, model.AnyOperator, amount)
	if err != nil {
		return nil, err
	}
	return &AliExpressPreview{
		Title:         product.Title,
		ImageURL:      product.ImageURL,
		ProductURL:    productURL,
		OriginalPrice: product.Price,
		Currency:      product.Currency,
		Quantity:      quantity,
		Quote:         q,
	}, nil
}

func isAliExpressURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "aliexpress.com" || strings.HasSuffix(host, ".aliexpress.com") ||
		host == "aliexpress.us" || strings.HasSuffix(host, ".aliexpress.us")
}

// CreateOrderRequest 下单
//
//	PHONE_TOPUP   Target 为充值手机号，Operator 为空时按号段识别
//	GAME_TOPUP    Operator 为游戏，Target 为玩家 ID，ProductRef 为充值包
//	ALIEXPRESS    ProductURL 为商品链接，Target 为收货信息，金额由服务端换算
//	GIFT_CARD / DIGITAL_CARD  Operator 为品牌，ProductRef 为面值/商品编号
//
// 标价商品的金额取商品目录单价，客户端带的 Amount 只用于核对
type CreateOrderRequest struct {
	RequestID  string          `json:"request_id"`
	Kind       string          `json:"kind" binding:"required,oneof=PHONE_TOPUP GAME_TOPUP ALIEXPRESS GIFT_CARD DIGITAL_CARD"`
	Operator   string          `json:"operator" binding:"max=32"`
	Target     string          `json:"target" binding:"max=128"`
	ProductRef string          `json:"product_ref" binding:"max=64"`
	ProductURL string          `json:"product_url" binding:"max=512"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   int             `json:"quantity" binding:"gte=0,lte=20"`
}

// Create 下单：余额需覆盖 Total = Amount + Fee，管理员履约后审核通过
func (s *OrderService) Create(ctx context.Context, userID string, req *CreateOrderRequest) (*model.Order, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		return existing, err
	}

	service, ok := orderServices[req.Kind]
	if !ok {
		return nil, ErrInvalidOperator
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	o := &model.Order{
		OrderKind:  req.Kind,
		Operator:   req.Operator,
		Target:     strings.TrimSpace(req.Target),
		ProductRef: req.ProductRef,
		Quantity:   quantity,
	}
	amount := req.Amount.Mul(decimal.NewFromInt(int64(quantity)))

	switch req.Kind {
	case model.OrderPhoneTopup:
		if !phone.Valid(o.Target) {
			return nil, ErrInvalidPhone
		}
		o.Target = phone.Normalize(o.Target)
		if o.Operator == "" {
			o.Operator = phone.Operator(o.Target)
		}
		o.Quantity = 1
		amount = req.Amount
	case model.OrderGameTopup:
		if o.Operator == "" || o.Target == "" || o.ProductRef == "" {
			return nil, ErrInvalidOperator
		}
		o.Quantity = 1
		unit, err := s.catalogPrice(ctx, o.Operator, o.ProductRef, req.Amount)
		if err != nil {
			return nil, err
		}
		amount = unit
	case model.OrderAliExpress:
		preview, err := s.PreviewAliExpress(ctx, req.ProductURL, quantity)
		if err != nil {
			return nil, err
		}
		o.ProductURL = preview.ProductURL
		o.ProductTitle = truncate(preview.Title, 256)
		o.ImageURL = preview.ImageURL
		o.Operator = model.AnyOperator
		amount = preview.Quote.Amount
	case model.OrderGiftCard, model.OrderDigitalCard:
		if o.Operator == "" || o.ProductRef == "" {
			return nil, ErrInvalidOperator
		}
		unit, err := s.catalogPrice(ctx, o.Operator, o.ProductRef, req.Amount)
		if err != nil {
			return nil, err
		}
		amount = unit.Mul(decimal.NewFromInt(int64(quantity)))
	}

	q, err := s.policies.Quote(ctx, service, o.Operator, amount)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Ensure(ctx, userID, q.Total); err != nil {
		return nil, err
	}

	o.RequestNo = idgen.GenerateNo(idgen.PrefixOrder)
	o.RequestID = req.RequestID
	o.UserID = userID
	o.Status = model.StatusPending
	o.ApplyQuote(q.Quote)

	row, _, err := s.flow.create(ctx, o)
	return row, err
}

// catalogPrice 查商品单价。客户端带了金额且和单价不一致说明页面上的价格已过期
func (s *OrderService) catalogPrice(ctx context.Context, operator, ref string, clientPrice decimal.Decimal) (decimal.Decimal, error) {
	item, err := s.catalog.GetCatalogItem(ctx, operator, ref)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return decimal.Zero, ErrProductUnavailable
		}
		return decimal.Zero, fmt.Errorf("查询商品失败: %w", err)
	}
	if !item.Active || !item.Price.IsPositive() {
		return decimal.Zero, ErrProductUnavailable
	}
	if !clientPrice.IsZero() && !clientPrice.Equal(item.Price) {
		s.log.Warn("下单金额与商品标价不一致",
			zap.String("operator", operator), zap.String("ref", ref),
			zap.String("client", clientPrice.String()), zap.String("price", item.Price.String()))
		return decimal.Zero, ErrPriceMismatch
	}
	return item.Price, nil
}

func (s *OrderService) Get(ctx context.Context, userID, requestNo string) (*model.Order, error) {
	o, err := s.store.GetForUser(ctx, userID, requestNo)
	if err != nil {
		return nil, err
	}
	s.resolveLegacyFee(ctx, o)
	return o, nil
}

func (s *OrderService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.Order, int64, error) {
	rows, total, err := s.store.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	for _, o := range rows {
		s.resolveLegacyFee(ctx, o)
	}
	return rows, total, nil
}

// resolveLegacyFee 早期订单没有保存手续费，展示时按运营商当前策略补算
func (s *OrderService) resolveLegacyFee(ctx context.Context, o *model.Order) {
	if !o.Fee.IsZero() {
		return
	}
	service, ok := orderServices[o.OrderKind]
	if !ok {
		return
	}
	o.Fee = fee.Resolve(o.Fee, o.Amount, s.policies.Fallback(ctx, service, o.Operator))
	o.Total = o.Amount.Add(o.Fee)
	if o.Net.IsZero() {
		o.Net = o.Amount
	}
}

func (s *OrderService) Cancel(ctx context.Context, userID, requestNo string) (*model.Order, error) {
	return s.flow.cancel(ctx, userID, requestNo)
}

func (s *OrderService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Order, int64, error) {
	rows, total, err := s.store.ListByStatus(ctx, status, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	for _, o := range rows {
		s.resolveLegacyFee(ctx, o)
	}
	return rows, total, nil
}

// Approve 管理员完成充值/采购后确认。后端没有订单存储过程，扣款由下游消费 approved 事件完成
func (s *OrderService) Approve(ctx context.Context, requestNo, adminID, note string) (*model.Order, error) {
	o, err := s.flow.approve(ctx, requestNo, adminID, note, nil)
	if err != nil {
		return nil, err
	}
	s.balances.Invalidate(ctx, o.UserID)
	return o, nil
}

func (s *OrderService) Reject(ctx context.Context, requestNo, adminID, reason string) (*model.Order, error) {
	return s.flow.reject(ctx, requestNo, adminID, reason, nil)
}

func (s *OrderService) RevertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.flow.revertStale(ctx, before, limit)
}

func (s *OrderService) CountPending(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, model.StatusPending)
}
