package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"opay/internal/config"
)

// HealthFunc 健康检查，返回各依赖的状态
type HealthFunc func() map[string]string

// SetupRouter 配置路由
func SetupRouter(cfg *config.Config, h *Handler, users UserResolver, limiter *RateLimiter, health HealthFunc, log *zap.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	RegisterValidators()

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.Server.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		status := health()
		for _, v := range status {
			if v != "ok" {
				c.JSON(503, gin.H{"status": "degraded", "deps": status})
				return
			}
		}
		c.JSON(200, gin.H{"status": "ok", "deps": status})
	})

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(users))
	write := limiter.Middleware()
	{
		api.GET("/balance", h.GetBalance)
		api.GET("/fees/quote", h.QuoteFee)
		api.POST("/receipts", write, h.UploadReceipt)

		deposits := api.Group("/deposits")
		{
			deposits.POST("/flexy", write, h.CreateFlexyDeposit)
			deposits.POST("/bank", write, h.CreateBankDeposit)
			deposits.GET("", h.ListDeposits)
			deposits.GET("/:no", h.GetDeposit)
			deposits.POST("/:no/cancel", write, h.CancelDeposit)
		}

		withdrawals := api.Group("/withdrawals")
		{
			withdrawals.POST("", write, h.CreateWithdrawal)
			withdrawals.GET("", h.ListWithdrawals)
			withdrawals.GET("/:no", h.GetWithdrawal)
			withdrawals.POST("/:no/cancel", write, h.CancelWithdrawal)
		}

		transfers := api.Group("/transfers")
		{
			transfers.POST("", write, h.CreateTransfer)
			transfers.GET("", h.ListTransfers)
			transfers.GET("/:no", h.GetTransfer)
		}

		giftcards := api.Group("/giftcards")
		{
			giftcards.POST("/redeem", write, h.RedeemGiftCard)
			giftcards.GET("/redemptions", h.ListRedemptions)
		}

		orders := api.Group("/orders")
		{
			orders.GET("/aliexpress/preview", h.PreviewAliExpress)
			orders.POST("", write, h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:no", h.GetOrder)
			orders.POST("/:no/cancel", write, h.CancelOrder)
		}

		betting := api.Group("/betting")
		{
			betting.POST("", write, h.CreateBettingDeposit)
			betting.GET("", h.ListBettingDeposits)
			betting.GET("/:no", h.GetBettingDeposit)
			betting.POST("/:no/cancel", write, h.CancelBettingDeposit)
		}

		diaspora := api.Group("/diaspora")
		{
			diaspora.GET("/quote", h.QuoteDiaspora)
			diaspora.POST("", write, h.CreateDiaspora)
			diaspora.GET("", h.ListDiaspora)
			diaspora.GET("/:no", h.GetDiaspora)
			diaspora.POST("/:no/cancel", write, h.CancelDiaspora)
		}

		wizards := api.Group("/wizard")
		{
			wizards.POST("", write, h.StartWizard)
			wizards.GET("/:id", h.GetWizard)
			wizards.POST("/:id/next", write, h.NextWizard)
			wizards.POST("/:id/back", h.BackWizard)
			wizards.DELETE("/:id", h.CancelWizard)
			wizards.GET("/:id/camera", h.WizardCamera)
		}

		admin := api.Group("/admin")
		admin.Use(AdminMiddleware(h.svc.Admin, log))
		{
			admin.GET("/pending", h.AdminPendingCounts)
			admin.GET("/requests/:kind", h.AdminListRequests)
			admin.POST("/requests/:kind/:no/approve", h.AdminApprove)
			admin.POST("/requests/:kind/:no/reject", h.AdminReject)
			admin.GET("/requests/:kind/:no/logs", h.AdminRequestLogs)

			admin.GET("/policies", h.AdminListPolicies)
			admin.PUT("/policies", h.AdminUpsertPolicy)

			admin.POST("/verifications/:id/review", h.AdminReviewVerification)
			admin.POST("/merchants/:id/review", h.AdminReviewMerchant)
			admin.POST("/balances/recalculate", h.AdminRecalculateAll)
			admin.POST("/balances/:user/recalculate", h.AdminRecalculateBalance)

			admin.GET("/outbox/failed", h.AdminListFailedOutbox)
			admin.POST("/outbox/requeue", h.AdminRequeueOutbox)
		}
	}

	return r
}
