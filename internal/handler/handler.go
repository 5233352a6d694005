package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/service"
	"opay/pkg/response"
)

// Services 处理器依赖的业务服务
type Services struct {
	Policies    *service.PolicyService
	Balances    *service.BalanceService
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Transfers   *service.TransferService
	Orders      *service.OrderService
	GiftCards   *service.GiftCardService
	Betting     *service.BettingService
	Diaspora    *service.DiasporaService
	Admin       *service.AdminService
	Wizard      *service.WizardService
	Outbox      OutboxAdmin
	ReviewLogs  ReviewHistory

	Objects        ObjectUploader
	ReceiptsBucket string
}

// Handler 统一处理器
type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("http")}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// bind 解析请求体，失败时直接写参数错误
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, bindingMessage(err))
		return false
	}
	return true
}

// idempotencyKey 请求体没带 request_id 时用 Idempotency-Key 头
func idempotencyKey(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("Idempotency-Key")
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func queryAmount(c *gin.Context, name string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(c.Query(name))
	if err != nil {
		response.ParamError(c, name+" 参数错误")
		return decimal.Zero, false
	}
	return amount, true
}

// ============================================================
// 余额 / 报价
// ============================================================

// GetBalance 查询当前用户余额
// GET /api/v1/balance
func (h *Handler) GetBalance(c *gin.Context) {
	uid := userID(c)
	balance, err := h.svc.Balances.Get(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": uid, "balance": balance})
}

// QuoteFee 手续费报价
// GET /api/v1/fees/quote?service=flexy_deposit&operator=djezzy&amount=1000
func (h *Handler) QuoteFee(c *gin.Context) {
	svc := c.Query("service")
	if svc == "" {
		response.ParamError(c, "service 不能为空")
		return
	}
	amount, ok := queryAmount(c, "amount")
	if !ok {
		return
	}

	quote, err := h.svc.Policies.Quote(c.Request.Context(), svc, c.Query("operator"), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, quote)
}

// ============================================================
// 充值
// ============================================================

// CreateFlexyDeposit POST /api/v1/deposits/flexy
func (h *Handler) CreateFlexyDeposit(c *gin.Context) {
	var req service.FlexyDepositRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	dep, err := h.svc.Deposits.CreateFlexy(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dep)
}

// CreateBankDeposit POST /api/v1/deposits/bank
func (h *Handler) CreateBankDeposit(c *gin.Context) {
	var req service.BankDepositRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	dep, err := h.svc.Deposits.CreateBank(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dep)
}

// ListDeposits GET /api/v1/deposits
func (h *Handler) ListDeposits(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Deposits.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetDeposit GET /api/v1/deposits/:no
func (h *Handler) GetDeposit(c *gin.Context) {
	dep, err := h.svc.Deposits.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dep)
}

// CancelDeposit POST /api/v1/deposits/:no/cancel
func (h *Handler) CancelDeposit(c *gin.Context) {
	dep, err := h.svc.Deposits.Cancel(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, dep)
}

// ============================================================
// 提现
// ============================================================

// CreateWithdrawal POST /api/v1/withdrawals
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req service.WithdrawalRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	w, err := h.svc.Withdrawals.Create(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ListWithdrawals GET /api/v1/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Withdrawals.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetWithdrawal GET /api/v1/withdrawals/:no
func (h *Handler) GetWithdrawal(c *gin.Context) {
	w, err := h.svc.Withdrawals.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, w)
}

// CancelWithdrawal POST /api/v1/withdrawals/:no/cancel
func (h *Handler) CancelWithdrawal(c *gin.Context) {
	w, err := h.svc.Withdrawals.Cancel(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ============================================================
// 转账 / 礼品卡
// ============================================================

// CreateTransfer POST /api/v1/transfers
//
// 后端处理失败时申请落为 FAILED，返回失败原因
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req service.TransferRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	t, err := h.svc.Transfers.Transfer(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, t)
}

// ListTransfers GET /api/v1/transfers
func (h *Handler) ListTransfers(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Transfers.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetTransfer GET /api/v1/transfers/:no
func (h *Handler) GetTransfer(c *gin.Context) {
	t, err := h.svc.Transfers.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, t)
}

// RedeemGiftCard POST /api/v1/giftcards/redeem
func (h *Handler) RedeemGiftCard(c *gin.Context) {
	var req service.RedeemRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	r, err := h.svc.GiftCards.Redeem(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, r)
}

// ListRedemptions GET /api/v1/giftcards/redemptions
func (h *Handler) ListRedemptions(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.GiftCards.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// ============================================================
// 购买订单
// ============================================================

// PreviewAliExpress 解析商品链接并报价
// GET /api/v1/orders/aliexpress/preview?url=...&quantity=1
func (h *Handler) PreviewAliExpress(c *gin.Context) {
	qty, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil {
		response.ParamError(c, "quantity 参数错误")
		return
	}

	preview, err := h.svc.Orders.PreviewAliExpress(c.Request.Context(), c.Query("url"), qty)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, preview)
}

// CreateOrder POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	o, err := h.svc.Orders.Create(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, o)
}

// ListOrders GET /api/v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Orders.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetOrder GET /api/v1/orders/:no
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.svc.Orders.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, o)
}

// CancelOrder POST /api/v1/orders/:no/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	o, err := h.svc.Orders.Cancel(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, o)
}

// ============================================================
// 博彩充值
// ============================================================

// CreateBettingDeposit POST /api/v1/betting
func (h *Handler) CreateBettingDeposit(c *gin.Context) {
	var req service.BettingDepositRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	b, err := h.svc.Betting.Create(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, b)
}

// ListBettingDeposits GET /api/v1/betting
func (h *Handler) ListBettingDeposits(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Betting.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetBettingDeposit GET /api/v1/betting/:no
func (h *Handler) GetBettingDeposit(c *gin.Context) {
	b, err := h.svc.Betting.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, b)
}

// CancelBettingDeposit POST /api/v1/betting/:no/cancel
func (h *Handler) CancelBettingDeposit(c *gin.Context) {
	b, err := h.svc.Betting.Cancel(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, b)
}

// ============================================================
// 海外汇款
// ============================================================

// QuoteDiaspora GET /api/v1/diaspora/quote?currency=EUR&amount=100
func (h *Handler) QuoteDiaspora(c *gin.Context) {
	amount, ok := queryAmount(c, "amount")
	if !ok {
		return
	}

	q, err := h.svc.Diaspora.Quote(c.Request.Context(), c.Query("currency"), amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, q)
}

// CreateDiaspora POST /api/v1/diaspora
func (h *Handler) CreateDiaspora(c *gin.Context) {
	var req service.DiasporaRequest
	if !bind(c, &req) {
		return
	}
	req.RequestID = idempotencyKey(c, req.RequestID)

	d, err := h.svc.Diaspora.Create(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, d)
}

// ListDiaspora GET /api/v1/diaspora
func (h *Handler) ListDiaspora(c *gin.Context) {
	page, size := pageParams(c)
	list, total, err := h.svc.Diaspora.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// GetDiaspora GET /api/v1/diaspora/:no
func (h *Handler) GetDiaspora(c *gin.Context) {
	d, err := h.svc.Diaspora.Get(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, d)
}

// CancelDiaspora POST /api/v1/diaspora/:no/cancel
func (h *Handler) CancelDiaspora(c *gin.Context) {
	d, err := h.svc.Diaspora.Cancel(c.Request.Context(), userID(c), c.Param("no"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, d)
}
