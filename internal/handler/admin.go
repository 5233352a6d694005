package handler

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"opay/internal/model"
	"opay/internal/service"
	"opay/pkg/response"
)

// reviewer 各类申请的审核入口
type reviewer struct {
	list    func(ctx context.Context, status string, page, size int) (interface{}, int64, error)
	approve func(ctx context.Context, no, adminID, note string) (interface{}, error)
	reject  func(ctx context.Context, no, adminID, reason string) (interface{}, error)
}

// reviewers 转账和礼品卡没有人工审核，只能查询
func (h *Handler) reviewers() map[string]reviewer {
	s := h.svc
	return map[string]reviewer{
		model.KindDeposit: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Deposits.ListByStatus(ctx, st, p, n)
			},
			approve: func(ctx context.Context, no, a, note string) (interface{}, error) {
				return s.Deposits.Approve(ctx, no, a, note)
			},
			reject: func(ctx context.Context, no, a, r string) (interface{}, error) {
				return s.Deposits.Reject(ctx, no, a, r)
			},
		},
		model.KindWithdrawal: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Withdrawals.ListByStatus(ctx, st, p, n)
			},
			approve: func(ctx context.Context, no, a, note string) (interface{}, error) {
				return s.Withdrawals.Approve(ctx, no, a, note)
			},
			reject: func(ctx context.Context, no, a, r string) (interface{}, error) {
				return s.Withdrawals.Reject(ctx, no, a, r)
			},
		},
		model.KindOrder: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Orders.ListByStatus(ctx, st, p, n)
			},
			approve: func(ctx context.Context, no, a, note string) (interface{}, error) {
				return s.Orders.Approve(ctx, no, a, note)
			},
			reject: func(ctx context.Context, no, a, r string) (interface{}, error) { return s.Orders.Reject(ctx, no, a, r) },
		},
		model.KindBetting: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Betting.ListByStatus(ctx, st, p, n)
			},
			approve: func(ctx context.Context, no, a, note string) (interface{}, error) {
				return s.Betting.Approve(ctx, no, a, note)
			},
			reject: func(ctx context.Context, no, a, r string) (interface{}, error) {
				return s.Betting.Reject(ctx, no, a, r)
			},
		},
		model.KindDiaspora: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Diaspora.ListByStatus(ctx, st, p, n)
			},
			approve: func(ctx context.Context, no, a, note string) (interface{}, error) {
				return s.Diaspora.Approve(ctx, no, a, note)
			},
			reject: func(ctx context.Context, no, a, r string) (interface{}, error) {
				return s.Diaspora.Reject(ctx, no, a, r)
			},
		},
		model.KindTransfer: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.Transfers.ListByStatus(ctx, st, p, n)
			},
		},
		model.KindGiftCard: {
			list: func(ctx context.Context, st string, p, n int) (interface{}, int64, error) {
				return s.GiftCards.ListByStatus(ctx, st, p, n)
			},
		},
	}
}

type reviewBody struct {
	Note string `json:"note" binding:"max=256"`
}

type rejectBody struct {
	Reason string `json:"reason" binding:"required,max=256"`
}

func (h *Handler) reviewerFor(c *gin.Context) (reviewer, bool) {
	r, ok := h.reviewers()[c.Param("kind")]
	if !ok {
		response.NotFound(c, "未知的申请类型")
	}
	return r, ok
}

// AdminListRequests 按状态分页列出申请
// GET /api/v1/admin/requests/:kind?status=PENDING
func (h *Handler) AdminListRequests(c *gin.Context) {
	r, ok := h.reviewerFor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	list, total, err := r.list(c.Request.Context(), c.DefaultQuery("status", model.StatusPending), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Page(c, list, total, page, size)
}

// AdminApprove POST /api/v1/admin/requests/:kind/:no/approve
func (h *Handler) AdminApprove(c *gin.Context) {
	r, ok := h.reviewerFor(c)
	if !ok {
		return
	}
	if r.approve == nil {
		response.BusinessError(c, response.CodeStatusInvalid, "该类申请无需审核")
		return
	}
	var body reviewBody
	if c.Request.ContentLength > 0 && !bind(c, &body) {
		return
	}

	row, err := r.approve(c.Request.Context(), c.Param("no"), userID(c), body.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, row)
}

// AdminReject POST /api/v1/admin/requests/:kind/:no/reject
func (h *Handler) AdminReject(c *gin.Context) {
	r, ok := h.reviewerFor(c)
	if !ok {
		return
	}
	if r.reject == nil {
		response.BusinessError(c, response.CodeStatusInvalid, "该类申请无需审核")
		return
	}
	var body rejectBody
	if !bind(c, &body) {
		return
	}

	row, err := r.reject(c.Request.Context(), c.Param("no"), userID(c), body.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, row)
}

// ReviewHistory 申请的状态流转记录，repository.ReviewLogRepository 实现
type ReviewHistory interface {
	ListByRequestNo(ctx context.Context, requestNo string) ([]*model.ReviewLog, error)
}

// AdminRequestLogs 单笔申请的审核/状态日志
// GET /api/v1/admin/requests/:kind/:no/logs
func (h *Handler) AdminRequestLogs(c *gin.Context) {
	if _, ok := h.reviewerFor(c); !ok {
		return
	}
	logs, err := h.svc.ReviewLogs.ListByRequestNo(c.Request.Context(), c.Param("no"))
	if err != nil {
		h.writeError(c, fmt.Errorf("查询审核日志: %w", err))
		return
	}
	out := make([]*model.ReviewLog, 0, len(logs))
	for _, l := range logs {
		if l.Kind == c.Param("kind") {
			out = append(out, l)
		}
	}
	response.Success(c, out)
}

// AdminPendingCounts GET /api/v1/admin/pending
func (h *Handler) AdminPendingCounts(c *gin.Context) {
	response.Success(c, h.svc.Admin.PendingCounts(c.Request.Context()))
}

// ============================================================
// 手续费策略
// ============================================================

// AdminListPolicies GET /api/v1/admin/policies
func (h *Handler) AdminListPolicies(c *gin.Context) {
	list, err := h.svc.Policies.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, list)
}

// AdminUpsertPolicy PUT /api/v1/admin/policies
func (h *Handler) AdminUpsertPolicy(c *gin.Context) {
	var req service.UpsertPolicyRequest
	if !bind(c, &req) {
		return
	}

	p, err := h.svc.Policies.Upsert(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, p)
}

// ============================================================
// 实名 / 商户审核、余额重算
// ============================================================

// AdminReviewVerification POST /api/v1/admin/verifications/:id/review
func (h *Handler) AdminReviewVerification(c *gin.Context) {
	var req service.ReviewRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Admin.ReviewVerification(c.Request.Context(), c.Param("id"), userID(c), &req); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "approved": req.Approve})
}

// AdminReviewMerchant POST /api/v1/admin/merchants/:id/review
func (h *Handler) AdminReviewMerchant(c *gin.Context) {
	var req service.ReviewRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Admin.ReviewMerchant(c.Request.Context(), c.Param("id"), userID(c), &req); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "approved": req.Approve})
}

// AdminRecalculateBalance POST /api/v1/admin/balances/:user/recalculate
func (h *Handler) AdminRecalculateBalance(c *gin.Context) {
	uid := c.Param("user")
	balance, err := h.svc.Admin.RecalculateBalance(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": uid, "balance": balance})
}

// AdminRecalculateAll POST /api/v1/admin/balances/recalculate
func (h *Handler) AdminRecalculateAll(c *gin.Context) {
	n, err := h.svc.Admin.RecalculateAllBalances(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// ============================================================
// 消息重放
// ============================================================

// OutboxAdmin 投递失败的消息，repository.OutboxRepository 实现
type OutboxAdmin interface {
	GetFailedMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	RequeueFailed(ctx context.Context, ids []int64) (int64, error)
}

type requeueBody struct {
	IDs []int64 `json:"ids" binding:"required,min=1,max=500"`
}

// AdminListFailedOutbox GET /api/v1/admin/outbox/failed
func (h *Handler) AdminListFailedOutbox(c *gin.Context) {
	_, size := pageParams(c)
	list, err := h.svc.Outbox.GetFailedMessages(c.Request.Context(), size)
	if err != nil {
		h.writeError(c, fmt.Errorf("查询失败消息: %w", err))
		return
	}
	response.Success(c, list)
}

// AdminRequeueOutbox 失败消息回到 PENDING 重新投递
// POST /api/v1/admin/outbox/requeue
func (h *Handler) AdminRequeueOutbox(c *gin.Context) {
	var body requeueBody
	if !bind(c, &body) {
		return
	}
	n, err := h.svc.Outbox.RequeueFailed(c.Request.Context(), body.IDs)
	if err != nil {
		h.writeError(c, fmt.Errorf("重放消息: %w", err))
		return
	}
	response.Success(c, gin.H{"requeued": n})
}
