package model

// ============================================================================
// 申请状态机
// ============================================================================
//
// 充值、提现、订单、投注充值、侨汇都是"用户提交 → 管理员审核"：
//
//   PENDING ──approve──▶ APPROVING ──RPC 成功──▶ APPROVED
//      │                     │
//      │                     └──RPC 失败 / 补偿任务──▶ PENDING
//      ├──reject──▶ REJECTED
//      ├──cancel──▶ CANCELLED（用户撤回）
//      └──expire──▶ EXPIRED（超时任务）
//
// 转账、礼品卡兑换没有审核环节：
//
//   PROCESSING ──▶ COMPLETED / FAILED
//
// 【关键点】APPROVING 是中间态：先占住这条申请，再调后端存储过程，
// 防止两个管理员同时审核同一条申请导致重复入账
//
// ============================================================================

const (
	StatusPending   = "PENDING"
	StatusApproving = "APPROVING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusExpired   = "EXPIRED"

	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

var ValidStatusTransitions = map[string][]string{
	StatusPending:    {StatusApproving, StatusRejected, StatusCancelled, StatusExpired},
	StatusApproving:  {StatusApproved, StatusPending},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsFinal 终态不能再流转
func IsFinal(status string) bool {
	_, exists := ValidStatusTransitions[status]
	return !exists
}

// 申请类型，同时用作事件 topic 后缀和指标标签
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
	KindOrder      = "order"
	KindBetting    = "betting"
	KindDiaspora   = "diaspora"
	KindTransfer   = "transfer"
	KindGiftCard   = "giftcard"
)
