package model

import "github.com/shopspring/decimal"

// 充值渠道
const (
	ChannelFlexy     = "flexy"     // 话费转账，靠唯一金额对账
	ChannelBaridiMob = "baridimob" // 邮政 BaridiMob
	ChannelCCP       = "ccp"       // 邮政 CCP 账户
)

// Deposit 充值申请
//
// Flexy 充值没有交易流水号，管理员靠"运营商 + 唯一金额"把收到的话费和申请对上
type Deposit struct {
	RequestBase
	Channel      string          `gorm:"type:varchar(20);not null" json:"channel"`
	Operator     string          `gorm:"type:varchar(20);index" json:"operator,omitempty"`
	SenderPhone  string          `gorm:"type:varchar(20)" json:"sender_phone,omitempty"`
	UniqueAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"unique_amount"`
	Reference    string          `gorm:"type:varchar(64)" json:"reference,omitempty"` // BaridiMob/CCP 转账流水号
	ReceiptPath  string          `gorm:"type:varchar(256)" json:"receipt_path,omitempty"`
	ReceiptURL   string          `gorm:"type:varchar(512)" json:"receipt_url,omitempty"`
}

func (Deposit) TableName() string {
	return "deposits"
}

func (Deposit) Kind() string {
	return KindDeposit
}
