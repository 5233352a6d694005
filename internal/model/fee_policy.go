package model

import (
	"time"

	"github.com/shopspring/decimal"

	"opay/internal/fee"
)

// 手续费策略适用的业务
const (
	ServiceFlexyDeposit   = "flexy_deposit"
	ServiceBankDeposit    = "bank_deposit"
	ServicePhoneTopup     = "phone_topup"
	ServiceGameTopup      = "game_topup"
	ServiceAliExpress     = "aliexpress"
	ServiceGiftCard       = "gift_card"
	ServiceDigitalCard    = "digital_card"
	ServiceBettingDeposit = "betting_deposit"
	ServiceWithdrawal     = "withdrawal"
	ServiceDiaspora       = "diaspora"
	ServiceTransfer       = "transfer"
)

// AnyOperator 业务级默认策略
const AnyOperator = "*"

// FeePolicy 手续费策略表，(service, operator) 唯一
type FeePolicy struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	Service   string              `gorm:"type:varchar(32);uniqueIndex:uk_service_operator;not null" json:"service"`
	Operator  string              `gorm:"type:varchar(32);uniqueIndex:uk_service_operator;not null" json:"operator"`
	FeeType   string              `gorm:"type:varchar(20);not null" json:"fee_type"`
	FeeValue  decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"fee_value"`
	FeeMin    decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"fee_min"`
	FeeMax    decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"fee_max"`
	MinAmount decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"min_amount"`
	MaxAmount decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"max_amount"` // 0 表示不限
	Active    bool                `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FeePolicy) TableName() string {
	return "fee_policies"
}

// Policy 转成计算用的策略值
func (p *FeePolicy) Policy() fee.Policy {
	out := fee.Policy{Type: fee.Type(p.FeeType), Value: p.FeeValue}
	if p.FeeMin.Valid {
		v := p.FeeMin.Decimal
		out.Min = &v
	}
	if p.FeeMax.Valid {
		v := p.FeeMax.Decimal
		out.Max = &v
	}
	return out
}

// Validate 策略本身合法；扣费模式下金额区间内到账金额不会为负
func (p *FeePolicy) Validate(mode fee.Mode) error {
	return p.Policy().Validate(p.MinAmount, p.MaxAmount, mode)
}
