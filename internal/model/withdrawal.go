package model

// 提现方式
const (
	WithdrawalCCP       = "ccp"
	WithdrawalBaridiMob = "baridimob"
)

// Withdrawal 提现申请，审核通过后由后端扣减余额
type Withdrawal struct {
	RequestBase
	Method        string `gorm:"type:varchar(20);not null" json:"method"`
	AccountNumber string `gorm:"type:varchar(32);not null" json:"account_number"` // CCP 账号或 RIP
	AccountName   string `gorm:"type:varchar(128);not null" json:"account_name"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

func (Withdrawal) Kind() string {
	return KindWithdrawal
}
