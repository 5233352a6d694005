package model

// BettingDeposit 向投注平台账户充值
type BettingDeposit struct {
	RequestBase
	Platform  string `gorm:"type:varchar(32);not null" json:"platform"`
	AccountID string `gorm:"type:varchar(64);not null" json:"account_id"`
}

func (BettingDeposit) TableName() string {
	return "betting_transactions"
}

func (BettingDeposit) Kind() string {
	return KindBetting
}
