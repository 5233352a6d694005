package model

import "github.com/shopspring/decimal"

// DiasporaTransfer 海外侨汇：境外付外币，国内收款人收第纳尔
type DiasporaTransfer struct {
	RequestBase
	SenderCountry  string          `gorm:"type:varchar(2);not null" json:"sender_country"`
	SourceCurrency string          `gorm:"type:varchar(3);not null" json:"source_currency"`
	SourceAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"source_amount"`
	ExchangeRate   decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"exchange_rate"`
	RecipientName  string          `gorm:"type:varchar(128);not null" json:"recipient_name"`
	RecipientPhone string          `gorm:"type:varchar(20);not null" json:"recipient_phone"`
}

func (DiasporaTransfer) TableName() string {
	return "diaspora_transfers"
}

func (DiasporaTransfer) Kind() string {
	return KindDiaspora
}
