package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	tableUserBalances         = "user_balances"
	tableGiftCards            = "gift_cards"
	tableProfiles             = "profiles"
	tableCatalog              = "product_catalog"
	TableVerificationRequests = "verification_requests"
	TableMerchantRequests     = "merchant_requests"
)

// GetBalance 读取用户余额，没有余额行视为 0
func (c *Client) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	resp, err := c.From(tableUserBalances).
		Select("balance").
		Eq("user_id", userID).
		Single().
		Execute(ctx)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimalField(tableUserBalances, gjson.ParseBytes(resp.Body), "balance")
}

// ResolveRecipient 收款码换用户 ID，码不存在返回 ErrNotFound
func (c *Client) ResolveRecipient(ctx context.Context, code string) (string, error) {
	resp, err := c.From(tableProfiles).
		Select("id").
		Eq("user_code", code).
		Single().
		Execute(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	id := gjson.GetBytes(resp.Body, "id").String()
	if id == "" {
		return "", fmt.Errorf("%s: %w", tableProfiles, ErrMalformedResult)
	}
	return id, nil
}

// 礼品卡状态
const (
	GiftCardActive = "active"
	GiftCardUsed   = "used"
)

var ErrGiftCardUnavailable = errors.New("礼品卡不存在或已被使用")

// GiftCard 礼品卡
type GiftCard struct {
	ID     string
	Code   string
	Amount decimal.Decimal
	Status string
}

// GetGiftCard 按卡号查询
func (c *Client) GetGiftCard(ctx context.Context, code string) (*GiftCard, error) {
	resp, err := c.From(tableGiftCards).
		Select("id,code,amount,status").
		Eq("code", code).
		Single().
		Execute(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return parseGiftCard(gjson.ParseBytes(resp.Body))
}

// MarkGiftCardUsed 条件更新 status=active -> used，并发兑换时只有一个成功
func (c *Client) MarkGiftCardUsed(ctx context.Context, code, userID string) (*GiftCard, error) {
	resp, err := c.From(tableGiftCards).
		Eq("code", code).
		Eq("status", GiftCardActive).
		Update(ctx, map[string]any{
			"status":  GiftCardUsed,
			"used_by": userID,
			"used_at": time.Now().UTC().Format(time.RFC3339),
		})
	if err != nil {
		return nil, err
	}

	rows := gjson.ParseBytes(resp.Body)
	if !rows.IsArray() || len(rows.Array()) != 1 {
		return nil, ErrGiftCardUnavailable
	}
	return parseGiftCard(rows.Array()[0])
}

func parseGiftCard(r gjson.Result) (*GiftCard, error) {
	card := &GiftCard{
		ID:     r.Get("id").String(),
		Code:   r.Get("code").String(),
		Status: r.Get("status").String(),
	}
	amount, err := decimal.NewFromString(r.Get("amount").String())
	if card.ID == "" || err != nil {
		return nil, fmt.Errorf("%s: %w", tableGiftCards, ErrMalformedResult)
	}
	card.Amount = amount
	return card, nil
}

// CatalogItem 游戏充值包、礼品卡、数字卡的标价商品，Price 为第纳尔单价
type CatalogItem struct {
	ID       string
	Operator string
	Ref      string
	Price    decimal.Decimal
	Active   bool
}

// GetCatalogItem 按品牌和商品编号查标价，不存在返回 ErrNotFound
func (c *Client) GetCatalogItem(ctx context.Context, operator, ref string) (*CatalogItem, error) {
	resp, err := c.From(tableCatalog).
		Select("id,operator,ref,price,active").
		Eq("operator", operator).
		Eq("ref", ref).
		Single().
		Execute(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r := gjson.ParseBytes(resp.Body)
	item := &CatalogItem{
		ID:       r.Get("id").String(),
		Operator: r.Get("operator").String(),
		Ref:      r.Get("ref").String(),
		Active:   r.Get("active").Bool(),
	}
	price, err := decimal.NewFromString(r.Get("price").String())
	if item.ID == "" || err != nil {
		return nil, fmt.Errorf("%s: %w", tableCatalog, ErrMalformedResult)
	}
	item.Price = price
	return item, nil
}

// CountPending 统计后端表里 status=pending 的行数（管理台角标）
func (c *Client) CountPending(ctx context.Context, table string) (int64, error) {
	resp, err := c.From(table).
		Select("id").
		Eq("status", "pending").
		Limit(1).
		Count().
		Execute(ctx)
	if err != nil {
		return 0, err
	}

	// Content-Range: 0-0/42 或 */0
	cr := resp.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return 0, fmt.Errorf("%s: Content-Range 缺失: %w", table, ErrMalformedResult)
	}
	n, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", table, ErrMalformedResult)
	}
	return n, nil
}
