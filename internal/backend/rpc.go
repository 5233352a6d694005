package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// 存储过程名
const (
	FnApproveDeposit             = "approve_deposit"
	FnApproveWithdrawal          = "approve_withdrawal"
	FnRejectWithdrawal           = "reject_withdrawal"
	FnApproveVerificationRequest = "approve_verification_request"
	FnRejectVerificationRequest  = "reject_verification_request"
	FnProcessTransfer            = "process_transfer"
	FnRecalculateUserBalance     = "recalculate_user_balance"
	FnRecalculateAllBalances     = "recalculate_all_balances"
	FnHasRole                    = "has_role"
	FnApproveMerchantRequest     = "approve_merchant_request"
	FnRejectMerchantRequest      = "reject_merchant_request"
	FnApproveBettingDeposit      = "approve_betting_deposit"
	FnGenerateUniqueAmount       = "generate_unique_amount"
)

// RPC 调用存储过程，返回原始结果
func (c *Client) RPC(ctx context.Context, fn string, params any) (gjson.Result, error) {
	if params == nil {
		params = struct{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal params: %w", err)
	}

	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.call(req, "rpc:"+fn)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseResult(fn, resp)
}

// parseResult 校验返回结构
//
// 存储过程有三种返回：void（204/空）、标量、{success, error|message, ...} 对象。
// success=false 视为后端拒绝，转成 *Error
func parseResult(fn string, resp *Response) (gjson.Result, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s: %w", fn, ErrMalformedResult)
	}

	res := gjson.ParseBytes(body)
	if res.IsObject() {
		if ok := res.Get("success"); ok.Exists() && !ok.Bool() {
			msg := res.Get("error").String()
			if msg == "" {
				msg = res.Get("message").String()
			}
			if msg == "" {
				msg = fn + " failed"
			}
			return res, &Error{Status: resp.StatusCode, Message: msg}
		}
	}
	return res, nil
}

// LedgerParams 入账/出账类存储过程参数。Reference 是本地单号，后端据此幂等
type LedgerParams struct {
	UserID    string          `json:"p_user_id"`
	Amount    decimal.Decimal `json:"p_amount"`
	Fee       decimal.Decimal `json:"p_fee"`
	Reference string          `json:"p_reference"`
	AdminID   string          `json:"p_admin_id"`
}

type reviewParams struct {
	RequestID string `json:"p_request_id"`
	AdminID   string `json:"p_admin_id"`
	Reason    string `json:"p_reason,omitempty"`
}

func (c *Client) ApproveDeposit(ctx context.Context, p LedgerParams) error {
	_, err := c.RPC(ctx, FnApproveDeposit, p)
	return err
}

func (c *Client) ApproveWithdrawal(ctx context.Context, p LedgerParams) error {
	_, err := c.RPC(ctx, FnApproveWithdrawal, p)
	return err
}

func (c *Client) RejectWithdrawal(ctx context.Context, reference, adminID, reason string) error {
	_, err := c.RPC(ctx, FnRejectWithdrawal, reviewParams{RequestID: reference, AdminID: adminID, Reason: reason})
	return err
}

func (c *Client) ApproveBettingDeposit(ctx context.Context, p LedgerParams) error {
	_, err := c.RPC(ctx, FnApproveBettingDeposit, p)
	return err
}

func (c *Client) ApproveVerificationRequest(ctx context.Context, requestID, adminID string) error {
	_, err := c.RPC(ctx, FnApproveVerificationRequest, reviewParams{RequestID: requestID, AdminID: adminID})
	return err
}

func (c *Client) RejectVerificationRequest(ctx context.Context, requestID, adminID, reason string) error {
	_, err := c.RPC(ctx, FnRejectVerificationRequest, reviewParams{RequestID: requestID, AdminID: adminID, Reason: reason})
	return err
}

func (c *Client) ApproveMerchantRequest(ctx context.Context, requestID, adminID string) error {
	_, err := c.RPC(ctx, FnApproveMerchantRequest, reviewParams{RequestID: requestID, AdminID: adminID})
	return err
}

func (c *Client) RejectMerchantRequest(ctx context.Context, requestID, adminID, reason string) error {
	_, err := c.RPC(ctx, FnRejectMerchantRequest, reviewParams{RequestID: requestID, AdminID: adminID, Reason: reason})
	return err
}

// TransferParams 转账参数
type TransferParams struct {
	SenderID      string          `json:"p_sender_id"`
	RecipientCode string          `json:"p_recipient_code"`
	Amount        decimal.Decimal `json:"p_amount"`
	Note          string          `json:"p_note,omitempty"`
	Reference     string          `json:"p_reference"`
}

// TransferResult 转账结果
type TransferResult struct {
	TransferID  string
	RecipientID string
}

func (c *Client) ProcessTransfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	res, err := c.RPC(ctx, FnProcessTransfer, p)
	if err != nil {
		return nil, err
	}

	out := &TransferResult{
		TransferID:  res.Get("transfer_id").String(),
		RecipientID: res.Get("recipient_id").String(),
	}
	if out.TransferID == "" {
		return nil, fmt.Errorf("%s: transfer_id 缺失: %w", FnProcessTransfer, ErrMalformedResult)
	}
	return out, nil
}

// RecalculateUserBalance 重算单个用户余额，返回新余额
func (c *Client) RecalculateUserBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	res, err := c.RPC(ctx, FnRecalculateUserBalance, map[string]string{"p_user_id": userID})
	if err != nil {
		return decimal.Zero, err
	}
	return decimalField(FnRecalculateUserBalance, res, "balance")
}

// RecalculateAllBalances 重算全部余额，返回处理的用户数
func (c *Client) RecalculateAllBalances(ctx context.Context) (int64, error) {
	res, err := c.RPC(ctx, FnRecalculateAllBalances, nil)
	if err != nil {
		return 0, err
	}
	switch {
	case !res.Exists():
		return 0, nil
	case res.Type == gjson.Number:
		return res.Int(), nil
	case res.IsObject() && res.Get("updated").Exists():
		return res.Get("updated").Int(), nil
	}
	return 0, fmt.Errorf("%s: %w", FnRecalculateAllBalances, ErrMalformedResult)
}

// HasRole 返回值必须是布尔
func (c *Client) HasRole(ctx context.Context, userID, role string) (bool, error) {
	res, err := c.RPC(ctx, FnHasRole, map[string]string{"_user_id": userID, "_role": role})
	if err != nil {
		return false, err
	}
	if !res.IsBool() {
		return false, fmt.Errorf("%s: %w", FnHasRole, ErrMalformedResult)
	}
	return res.Bool(), nil
}

// GenerateUniqueAmount 向后端申请一个不与其他待处理充值冲突的金额
func (c *Client) GenerateUniqueAmount(ctx context.Context, userID, operator string, base decimal.Decimal) (decimal.Decimal, error) {
	res, err := c.RPC(ctx, FnGenerateUniqueAmount, map[string]any{
		"p_user_id":     userID,
		"p_operator":    operator,
		"p_base_amount": base,
	})
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimalField(FnGenerateUniqueAmount, res, "amount")
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: 金额非正: %w", FnGenerateUniqueAmount, ErrMalformedResult)
	}
	return amount, nil
}

// decimalField 标量数字或对象中的某个字段
func decimalField(fn string, res gjson.Result, key string) (decimal.Decimal, error) {
	v := res
	if res.IsObject() {
		v = res.Get(key)
	}
	if v.Type != gjson.Number && v.Type != gjson.String {
		return decimal.Zero, fmt.Errorf("%s: %w", fn, ErrMalformedResult)
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", fn, ErrMalformedResult)
	}
	return d, nil
}
