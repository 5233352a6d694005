package model

import (
	"time"

	"github.com/shopspring/decimal"

	"opay/internal/fee"
)

// RequestBase 所有资金申请共有的字段，各申请表内嵌
//
// 金额统一 decimal(20,2)，单位第纳尔（DZD）
type RequestBase struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`                    // 业务单号，同时作为后端存储过程的幂等引用
	RequestID  string          `gorm:"type:varchar(64);uniqueIndex:idx_user_request,priority:2;not null" json:"-"` // 客户端幂等键，按用户隔离
	UserID     string          `gorm:"type:varchar(36);uniqueIndex:idx_user_request,priority:1;not null" json:"user_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Fee        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"fee"`
	Net        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"net"`   // 到账金额（扣费模式）
	Total      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total"` // 应付金额（加费模式）
	Status     string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ReviewedBy string          `gorm:"type:varchar(36)" json:"reviewed_by,omitempty"`
	ReviewNote string          `gorm:"type:varchar(256)" json:"review_note,omitempty"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *RequestBase) Base() *RequestBase {
	return b
}

// ApplyQuote 写入报价结果
func (b *RequestBase) ApplyQuote(q fee.Quote) {
	b.Amount = q.Amount
	b.Fee = q.Fee
	b.Net = q.Net
	b.Total = q.Total
}

// Row 泛型仓储的行约束：指向申请结构体的指针
type Row[T any] interface {
	*T
	Base() *RequestBase
	Kind() string
}
