package model

// Transfer 用户间转账，后端 process_transfer 同步完成，本地只记录结果
type Transfer struct {
	RequestBase
	RecipientCode string `gorm:"type:varchar(64);not null" json:"recipient_code"`
	RecipientID   string `gorm:"type:varchar(36);index" json:"recipient_id,omitempty"`
	Note          string `gorm:"type:varchar(256)" json:"note,omitempty"`
	BackendRef    string `gorm:"type:varchar(64)" json:"backend_ref,omitempty"`
	FailReason    string `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
}

func (Transfer) TableName() string {
	return "transfers"
}

func (Transfer) Kind() string {
	return KindTransfer
}

// GiftCardRedemption 礼品卡兑换记录
type GiftCardRedemption struct {
	RequestBase
	CardCode   string `gorm:"type:varchar(64);index;not null" json:"card_code"`
	CardID     string `gorm:"type:varchar(36)" json:"card_id,omitempty"`
	FailReason string `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
}

func (GiftCardRedemption) TableName() string {
	return "gift_card_redemptions"
}

func (GiftCardRedemption) Kind() string {
	return KindGiftCard
}
