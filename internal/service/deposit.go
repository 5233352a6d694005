package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/internal/repository"
	"opay/pkg/idgen"
	"opay/pkg/phone"
)

type DepositService struct {
	flow           *requestFlow[model.Deposit, *model.Deposit]
	store          RequestStore[model.Deposit, *model.Deposit]
	policies       *PolicyService
	unique         *UniqueAmountService
	balances       *BalanceService
	ledger         Ledger
	urls           ObjectURLs
	receiptsBucket string
	timeout        time.Duration
	log            *zap.Logger
}

type DepositDeps struct {
	Store          RequestStore[model.Deposit, *model.Deposit]
	Policies       *PolicyService
	Unique         *UniqueAmountService
	Balances       *BalanceService
	Ledger         Ledger
	URLs           ObjectURLs
	ReceiptsBucket string
	Timeout        time.Duration
}

func NewDepositService(flow FlowDeps, deps DepositDeps) *DepositService {
	return &DepositService{
		flow:           newRequestFlow(deps.Store, flow),
		store:          deps.Store,
		policies:       deps.Policies,
		unique:         deps.Unique,
		balances:       deps.Balances,
		ledger:         deps.Ledger,
		urls:           deps.URLs,
		receiptsBucket: deps.ReceiptsBucket,
		timeout:        deps.Timeout,
		log:            flow.Log.Named("deposit"),
	}
}

// FlexyDepositRequest Flexy 充值。UniqueAmount 为空时由服务端分配
type FlexyDepositRequest struct {
	RequestID    string          `json:"request_id"`
	Operator     string          `json:"operator" binding:"required,oneof=mobilis djezzy ooredoo"`
	Amount       decimal.Decimal `json:"amount"`
	UniqueAmount decimal.Decimal `json:"unique_amount"`
	SenderPhone  string          `json:"sender_phone" binding:"required,dzphone"`
	ReceiptPath  string          `json:"receipt_path" binding:"required"`
}

// CreateFlexy 创建 Flexy 充值申请
//
// 手续费按用户填写的金额计算，唯一金额只用于对账
func (s *DepositService) CreateFlexy(ctx context.Context, userID string, req *FlexyDepositRequest) (*model.Deposit, error) {
	if existing, err := s.flow.findExisting(ctx, userID, req.RequestID); err != nil || existing != nil {
		return existing, err
	}
	if !phone.Valid(req.SenderPhone) {
		return nil, ErrInvalidPhone
	}
	if err := checkReceiptPath(userID, req.ReceiptPath); err != nil {
		return nil, err
	}

	q, err := s.policies.Quote(ctx, model.ServiceFlexyDeposit, req.Operator, req.Amount)
	if err != nil {
		return nil, err
	}

	unique := req.UniqueAmount
	if unique.IsZero() {
		unique, err = s.unique.Allocate(ctx, userID, req.Operator, req.Amount)
		if err != nil {
			return nil, err
		}
		err = s.unique.Hold(ctx, userID, req.Operator, unique)
	} else {
		err = s.unique.Claim(ctx, userID, req.Operator, req.Amount, unique)
	}
	if err != nil {
		return nil, err
	}

	d := &model.Deposit{
		Channel:      model.ChannelFlexy,
		Operator:     req.Operator,
		SenderPhone:  phone.Normalize(req.SenderPhone),
		UniqueAmount: unique,
		ReceiptPath:  req.ReceiptPath,
		ReceiptURL:   s.urls.PublicURL(s.receiptsBucket, req.ReceiptPath),
	}
	d.RequestNo = idgen.GenerateNo(idgen.PrefixDeposit)
	d.RequestID = req.RequestID
	d.UserID = userID
	d.Status = model.StatusPending
	d.ApplyQuote(q.Quote)

	row, existed, err := s.flow.create(ctx, d)
	if err != nil {
		s.unique.Release(ctx, userID, req.Operator, unique)
		return nil, err
	}
	if existed && !row.UniqueAmount.Equal(unique) {
		s.unique.Release(ctx, userID, req.Operator, unique)
	}
	return row, nil
}

// checkReceiptPath 凭证必须是该用户上传接口返回的路径：<user_id>/<文件名>
func checkReceiptPath(userID, p string) error {
	if p == "" {
		return ErrReceiptRequired
	}
	if path.Clean(p) != p || path.Dir(p) != userID || strings.HasPrefix(path.Base(p), ".") {
		return ErrReceiptInvalid
	}
	return nil
}

// BankDepositRequest BaridiMob / CCP 转账充值，靠流水号对账
type BankDepositRequest struct {
	RequestID   string          `json:"request_id"`
	Channel     string          `json:"channel" binding:"required,oneof=baridimob ccp"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" binding:"required,max=64"`
	ReceiptPath string          `json:"receipt_path" binding:"required"`
}

func (s *DepositService) CreateBank(ctx context.Context, userID string, req *BankDepositRequest) (*model.Deposit, error) {
	if req.Channel != model.ChannelBaridiMob && req.Channel != model.ChannelCCP {
		return nil, ErrInvalidChannel
	}
	if err := checkReceiptPath(userID, req.ReceiptPath); err != nil {
		return nil, err
	}

	q, err := s.policies.Quote(ctx, model.ServiceBankDeposit, req.Channel, req.Amount)
	if err != nil {
		return nil, err
	}

	d := &model.Deposit{
		Channel:     req.Channel,
		Reference:   req.Reference,
		ReceiptPath: req.ReceiptPath,
		ReceiptURL:  s.urls.PublicURL(s.receiptsBucket, req.ReceiptPath),
	}
	d.RequestNo = idgen.GenerateNo(idgen.PrefixDeposit)
	d.RequestID = req.RequestID
	d.UserID = userID
	d.Status = model.StatusPending
	d.ApplyQuote(q.Quote)

	row, _, err := s.flow.create(ctx, d)
	return row, err
}

func (s *DepositService) Get(ctx context.Context, userID, requestNo string) (*model.Deposit, error) {
	return s.store.GetForUser(ctx, userID, requestNo)
}

func (s *DepositService) List(ctx context.Context, userID string, page, pageSize int) ([]*model.Deposit, int64, error) {
	return s.store.ListByUserID(ctx, userID, page, pageSize)
}

// Cancel 用户撤回待审核的充值
func (s *DepositService) Cancel(ctx context.Context, userID, requestNo string) (*model.Deposit, error) {
	d, err := s.flow.cancel(ctx, userID, requestNo)
	if err != nil {
		return nil, err
	}
	s.releaseUnique(ctx, d)
	return d, nil
}

// ListByStatus 管理台列表
func (s *DepositService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Deposit, int64, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

// Approve 管理员确认收款，后端 approve_deposit 给用户入账 Net
func (s *DepositService) Approve(ctx context.Context, requestNo, adminID, note string) (*model.Deposit, error) {
	d, err := s.flow.approve(ctx, requestNo, adminID, note, func(ctx context.Context, d *model.Deposit) error {
		return s.ledger.ApproveDeposit(ctx, backend.LedgerParams{
			UserID:    d.UserID,
			Amount:    d.Amount,
			Fee:       d.Fee,
			Reference: d.RequestNo,
			AdminID:   adminID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.releaseUnique(ctx, d)
	s.balances.Invalidate(ctx, d.UserID)
	return d, nil
}

func (s *DepositService) Reject(ctx context.Context, requestNo, adminID, reason string) (*model.Deposit, error) {
	d, err := s.flow.reject(ctx, requestNo, adminID, reason, nil)
	if err != nil {
		return nil, err
	}
	s.releaseUnique(ctx, d)
	return d, nil
}

// ExpireStale 关闭超时未审核的 Flexy 充值，释放唯一金额
//
// 只处理 Flexy：唯一金额占用有期限，过期后金额可能分给别人，旧申请已无法对账
func (s *DepositService) ExpireStale(ctx context.Context, limit int) (int, error) {
	before := time.Now().Add(-s.timeout)
	rows, err := s.store.GetCreatedBefore(ctx, model.StatusPending, before, limit, repository.WithChannel(model.ChannelFlexy))
	if err != nil {
		return 0, fmt.Errorf("查询超时充值失败: %w", err)
	}

	n := 0
	for _, d := range rows {
		if err := s.flow.expire(ctx, d); err != nil {
			s.log.Warn("关闭超时充值失败", zap.String("request_no", d.RequestNo), zap.Error(err))
			continue
		}
		s.releaseUnique(ctx, d)
		n++
	}
	return n, nil
}

// RevertStale 审核卡在 APPROVING 的充值回退
func (s *DepositService) RevertStale(ctx context.Context, before time.Time, limit int) (int, error) {
	return s.flow.revertStale(ctx, before, limit)
}

func (s *DepositService) CountPending(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, model.StatusPending)
}

func (s *DepositService) releaseUnique(ctx context.Context, d *model.Deposit) {
	if d.Channel == model.ChannelFlexy {
		s.unique.Release(ctx, d.UserID, d.Operator, d.UniqueAmount)
	}
}
