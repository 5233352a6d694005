package model

// 订单类型，同时对应手续费策略的 service
const (
	OrderPhoneTopup  = "PHONE_TOPUP"
	OrderGameTopup   = "GAME_TOPUP"
	OrderAliExpress  = "ALIEXPRESS"
	OrderGiftCard    = "GIFT_CARD"
	OrderDigitalCard = "DIGITAL_CARD"
)

// Order 充值/购物订单，用户付 Total = Amount + Fee，管理员线下履约后审核通过
type Order struct {
	RequestBase
	OrderKind    string `gorm:"column:kind;type:varchar(20);index;not null" json:"kind"`
	Operator     string `gorm:"type:varchar(20)" json:"operator,omitempty"`
	Target       string `gorm:"type:varchar(128)" json:"target,omitempty"` // 充值手机号 / 游戏玩家 ID / 收货信息
	ProductRef   string `gorm:"type:varchar(64)" json:"product_ref,omitempty"`
	ProductTitle string `gorm:"type:varchar(256)" json:"product_title,omitempty"`
	ProductURL   string `gorm:"type:varchar(512)" json:"product_url,omitempty"`
	ImageURL     string `gorm:"type:varchar(512)" json:"image_url,omitempty"`
	Quantity     int    `gorm:"not null;default:1" json:"quantity"`
}

func (Order) TableName() string {
	return "orders"
}

func (Order) Kind() string {
	return KindOrder
}
