package handler

import (
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/metrics"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, enforcer *casbin.Enforcer, m *metrics.Metrics, cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())
	r.Use(m.GinMiddleware())

	sessions := SessionMiddleware(h.sessions, &cfg.Session, log)
	auth := []gin.HandlerFunc{RequireLogin(h.svc.Accounts), Authorize(enforcer, log)}

	api := r.Group("/api/v1", sessions)
	{
		// 账户（公开）
		accounts := api.Group("/accounts")
		{
			accounts.POST("/signup", h.Signup)
			accounts.POST("/signup/verify", h.VerifySignup)
			accounts.POST("/login", h.Login)
			accounts.POST("/logout", h.Logout)
			accounts.POST("/password-reset/otp", h.PasswordResetOTP)
			accounts.POST("/password-reset/verify", h.PasswordResetVerify)
			accounts.POST("/password-reset", h.PasswordReset)
		}

		// 入驻（公开）
		partners := api.Group("/partners")
		{
			partners.POST("/login", h.PartnerLogin)
			partners.POST("/signup/otp", h.PartnerSignupOTP)
			partners.POST("/signup/verify", h.PartnerSignupVerify)
			partners.GET("/check", h.CheckPartner)
			partners.POST("/requests", h.SubmitPartnerRequest)
			partners.GET("/plans", h.Plans)
			partners.GET("/document-types", h.DocumentTypes)
		}

		api.POST("/admin/login", h.StaffLogin)

		// 服务目录
		api.GET("/categories", h.Categories)
		api.GET("/services", h.ListServices)
		api.GET("/services/:slug", h.GetService)

		// 支付网关
		payments := api.Group("/payments")
		{
			payments.GET("/page", h.PaymentPage)
			payments.POST("/callback", h.PaymentCallback)
			payments.POST("/failure", h.PaymentFailure)
		}

		// 以下需要登录，按角色鉴权
		me := api.Group("/accounts/me", auth...)
		{
			me.GET("/profile", h.Me)
			me.POST("/profile", h.EditProfile)
			me.POST("/profile/verify", h.VerifyProfile)
			me.GET("/orders", h.MyOrders)
		}

		api.POST("/services/:slug/orders", append(auth, h.CreateOrder)...)

		orders := api.Group("/orders", auth...)
		{
			orders.GET("/:id", h.GetOrder)
			orders.POST("/:id/documents", h.AddOrderDocument)
			orders.GET("/:id/checkout-options", h.CheckoutOptions)
			orders.POST("/:id/pay/wallet", h.PayWithWallet)
			orders.POST("/:id/pay/gateway", h.PayWithGateway)
			orders.GET("/:id/invoice", h.DownloadInvoice)
		}

		partnerMe := api.Group("/partners/me", auth...)
		{
			partnerMe.GET("/dashboard", h.PartnerDashboard)
			partnerMe.GET("/wallet", h.PartnerWallet)
			partnerMe.POST("/wallet/top-up", h.TopUp)
			partnerMe.GET("/plan", h.MyPlan)
			partnerMe.POST("/plan/upgrade", h.UpgradePlan)
			partnerMe.GET("/customers", h.ListCustomers)
			partnerMe.POST("/customers", h.CreateCustomer)
			partnerMe.GET("/customers/:id", h.GetCustomer)
			partnerMe.PUT("/customers/:id", h.UpdateCustomer)
			partnerMe.DELETE("/customers/:id", h.DeleteCustomer)
		}

		adm := api.Group("/admin", auth...)
		{
			adm.GET("/dashboard", h.AdminDashboard)
			adm.GET("/partner-requests", h.ListPartnerRequests)
			adm.GET("/partner-requests/:id", h.GetPartnerRequest)
			adm.POST("/partner-requests/:id/approve", h.ApprovePartnerRequest)
			adm.POST("/batch/partner-requests/approve", h.ApprovePartnerRequests)
			adm.POST("/partners", h.CreatePartner)
			adm.POST("/orders/:id/progress", h.UpdateOrderProgress)
			adm.POST("/orders/:id/returned-document", h.AttachReturnedDocument)
			adm.POST("/orders/:id/refund", h.RefundOrder)
			adm.PUT("/wallets/:id", h.SetWalletBalance)
			adm.POST("/maintenance/expiry-sweep", h.RunExpirySweep)
			adm.POST("/maintenance/backfill-ids", h.BackfillIDs)
			adm.POST("/maintenance/outbox/requeue", h.RequeueOutbox)
			adm.GET("/entities", h.ListEntities)
			adm.GET("/entities/:name", h.ListEntityRows)
			adm.GET("/entities/:name/:id", h.GetEntityRow)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
