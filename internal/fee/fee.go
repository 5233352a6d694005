package fee

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 手续费计算器
// ============================================================================
//
// 充值（Flexy、投注账户）、话费/游戏充值、AliExpress 代购、礼品卡、数字卡
// 全部使用同一套规则：
//
//   fee = 百分比 ? amount * value / 100 : value
//   fee = clamp(fee, min ?? 0, max ?? +∞)
//
// 两种结算方式：
//   Deduct（充值类）：net   = amount - fee，用户实际到账减少
//   Add   （购买类）：total = amount + fee，用户实际支付增加
//
// 【关键点】Deduct 模式下手续费不会超过金额本身，net 永远 >= 0
//
// ============================================================================

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

type Mode int

const (
	ModeDeduct Mode = iota // 充值类：从金额中扣除
	ModeAdd                // 购买类：在金额之上追加
)

var (
	ErrUnknownType       = errors.New("未知的手续费类型")
	ErrNegativeValue     = errors.New("手续费参数不能为负数")
	ErrPercentageTooHigh = errors.New("百分比手续费不能超过100")
	ErrBoundsInverted    = errors.New("手续费下限不能大于上限")
	ErrRangeInverted     = errors.New("最小金额不能大于最大金额")
	ErrNetNegative       = errors.New("该配置下最小金额的手续费超过金额本身")
)

var hundred = decimal.NewFromInt(100)

// Policy 手续费策略，Min/Max 为空表示不限制
type Policy struct {
	Type  Type
	Value decimal.Decimal
	Min   *decimal.Decimal
	Max   *decimal.Decimal
}

// Quote 报价结果
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Net    decimal.Decimal `json:"net"`
	Total  decimal.Decimal `json:"total"`
}

// Percentage 构造百分比策略
func Percentage(value decimal.Decimal, min, max *decimal.Decimal) Policy {
	return Policy{Type: TypePercentage, Value: value, Min: min, Max: max}
}

// Fixed 构造固定金额策略
func Fixed(value decimal.Decimal, min, max *decimal.Decimal) Policy {
	return Policy{Type: TypeFixed, Value: value, Min: min, Max: max}
}

// Fee 计算手续费（保留两位小数）
func (p Policy) Fee(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	var fee decimal.Decimal
	switch p.Type {
	case TypePercentage:
		fee = amount.Mul(p.Value).Div(hundred)
	case TypeFixed:
		fee = p.Value
	default:
		fee = decimal.Zero
	}

	return clamp(fee, p.Min, p.Max).Round(2)
}

// Quote 按结算方式生成报价
func (p Policy) Quote(amount decimal.Decimal, mode Mode) Quote {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	fee := p.Fee(amount)

	if mode == ModeAdd {
		return Quote{
			Amount: amount,
			Fee:    fee,
			Net:    amount,
			Total:  amount.Add(fee),
		}
	}

	if fee.GreaterThan(amount) {
		fee = amount
	}
	return Quote{
		Amount: amount,
		Fee:    fee,
		Net:    amount.Sub(fee),
		Total:  amount,
	}
}

// Validate 校验策略在金额区间 [minAmount, maxAmount] 内是否合法。
// 加费模式的手续费在金额之上，不会出现到账为负，只有扣费模式检查 net
//
// 【关键点】fee(a) - a 在区间内的最大值出现在 minAmount 处：
//   - 百分比（<=100%）部分随 a 增长不会超过 a
//   - 下限/固定值是常数，减去 a 后单调递减
//
// 所以只需检查 fee(minAmount) <= minAmount，即可保证区间内所有金额 net >= 0
func (p Policy) Validate(minAmount, maxAmount decimal.Decimal, mode Mode) error {
	if p.Type != TypePercentage && p.Type != TypeFixed {
		return ErrUnknownType
	}
	if p.Value.IsNegative() ||
		(p.Min != nil && p.Min.IsNegative()) ||
		(p.Max != nil && p.Max.IsNegative()) ||
		minAmount.IsNegative() || maxAmount.IsNegative() {
		return ErrNegativeValue
	}
	if p.Type == TypePercentage && p.Value.GreaterThan(hundred) {
		return ErrPercentageTooHigh
	}
	if p.Min != nil && p.Max != nil && p.Min.GreaterThan(*p.Max) {
		return ErrBoundsInverted
	}
	if !maxAmount.IsZero() && minAmount.GreaterThan(maxAmount) {
		return ErrRangeInverted
	}
	if mode == ModeDeduct && p.Fee(minAmount).GreaterThan(minAmount) {
		return ErrNetNegative
	}
	return nil
}

// InRange 金额是否在区间内，maxAmount 为 0 表示不限上限
func InRange(amount, minAmount, maxAmount decimal.Decimal) bool {
	if amount.LessThan(minAmount) {
		return false
	}
	if !maxAmount.IsZero() && amount.GreaterThan(maxAmount) {
		return false
	}
	return true
}

// ParseAmount 解析用户输入的金额，非法输入（空串、NaN、负数）一律视为 0
// 兼容 "1 000,50" 这种法语习惯的写法
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Resolve 历史数据的手续费兜底：
// 老订单存储的 fee_amount 为 0 时，按运营商手续费表重新计算
func Resolve(stored, amount decimal.Decimal, fallback *Policy) decimal.Decimal {
	if !stored.IsZero() || fallback == nil {
		return stored
	}
	return fallback.Fee(amount)
}

func clamp(fee decimal.Decimal, min, max *decimal.Decimal) decimal.Decimal {
	lo := decimal.Zero
	if min != nil {
		lo = *min
	}
	if fee.LessThan(lo) {
		fee = lo
	}
	if max != nil && fee.GreaterThan(*max) {
		fee = *max
	}
	return fee
}
