package model

import (
	"time"
)

// 审核动作
const (
	ReviewActionApprove = "APPROVE"
	ReviewActionReject  = "REJECT"
	ReviewActionRevert  = "REVERT" // 后端调用失败或补偿任务回退到 PENDING
	ReviewActionExpire  = "EXPIRE"
	ReviewActionCancel  = "CANCEL"
)

// ReviewLog 审核日志
//
// 【重要】和资金流水一样的原则：
// 1. 只追加，不修改，不删除：谁在什么时候把哪条申请从什么状态改成了什么
// 2. 每条日志都关联业务单号：便于和后端账本对账
type ReviewLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo  string    `gorm:"type:varchar(64);index;not null" json:"request_no"`
	Kind       string    `gorm:"type:varchar(20);not null" json:"kind"`
	Action     string    `gorm:"type:varchar(20);not null" json:"action"`
	FromStatus string    `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus   string    `gorm:"type:varchar(20);not null" json:"to_status"`
	Operator   string    `gorm:"type:varchar(36)" json:"operator"` // 管理员 ID，系统任务为 system
	Note       string    `gorm:"type:varchar(256)" json:"note"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ReviewLog) TableName() string {
	return "review_log"
}

// SystemOperator 定时任务写日志时用的操作人
const SystemOperator = "system"
