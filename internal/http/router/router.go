package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/config"
	"github.com/ignatzorin/escrow-broker/internal/http/handlers"
	"github.com/ignatzorin/escrow-broker/internal/http/middleware"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

// Handlers набор обработчиков, которые монтирует роутер.
type Handlers struct {
	Health        *handlers.HealthHandler
	Deals         *handlers.DealHandler
	Payments      *handlers.PaymentHandler
	Disputes      *handlers.DisputeHandler
	Trust         *handlers.TrustHandler
	Monitoring    *handlers.MonitoringHandler
	Notifications *handlers.NotificationHandler
	WS            *handlers.WSHandler
}

// webhookRateLimit лимит на webhook шлюза в минуту с одного IP.
const webhookRateLimit = 120

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, log logrus.FieldLogger) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.ErrorHandler(log))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")
	api.GET("/health", h.Health.Health)

	// webhook без JWT, проверяется подписью
	api.POST("/payments/webhook",
		middleware.RateLimitMiddleware(webhookRateLimit, cfg.RateLimitPeriod),
		h.Payments.Webhook)

	api.GET("/ws", h.WS.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	admin := middleware.RequireAdmin()
	uuidID := middleware.UUIDParam("id")

	deals := protected.Group("/deals")
	{
		deals.POST("", h.Deals.CreateDeal)
		deals.GET("", h.Deals.ListDeals)
		deals.GET("/my", h.Deals.MyDeals)
		deals.GET("/:id", uuidID, h.Deals.GetDeal)
		deals.PUT("/:id/price", uuidID, h.Deals.UpdatePrice)
		deals.POST("/:id/purchase", uuidID, h.Deals.Purchase)
		deals.POST("/:id/confirm-delivery", uuidID, h.Deals.ConfirmDelivery)
		deals.POST("/:id/release", uuidID, h.Deals.ReleaseFunds)
		deals.POST("/:id/cancel", uuidID, h.Deals.Cancel)

		deals.POST("/:id/dispute", uuidID, h.Disputes.CreateDispute)
		deals.POST("/:id/ratings", uuidID, h.Trust.RateUser)

		deals.POST("/:id/payment", uuidID, h.Payments.CreatePayment)
		deals.POST("/:id/checkout", uuidID, h.Payments.CreateCheckout)
		deals.GET("/:id/payment/status", uuidID, h.Payments.PaymentStatus)
		deals.POST("/:id/withdraw", uuidID, h.Payments.Withdraw)
	}

	protected.GET("/payments/coins", h.Payments.Coins)

	disputes := protected.Group("/disputes")
	{
		disputes.GET("/reasons", h.Disputes.Reasons)
		disputes.GET("/statistics", admin, h.Disputes.Statistics)
		disputes.GET("", admin, h.Disputes.ListDisputes)
		disputes.GET("/:id", uuidID, h.Disputes.GetDispute)
		disputes.POST("/:id/evidence", uuidID, h.Disputes.AddEvidence)
		disputes.POST("/:id/resolve", admin, uuidID, h.Disputes.ResolveDispute)
		disputes.PUT("/:id/status", admin, uuidID, h.Disputes.UpdateStatus)
	}

	users := protected.Group("/users")
	{
		users.GET("/:id/ratings", h.Trust.UserRatings)
		users.GET("/:id/ban-status", h.Trust.BanStatus)
		users.POST("/:id/ban", admin, h.Trust.BanUser)
		users.GET("/:id/suspicious-activity", admin, h.Trust.SuspiciousActivity)
	}

	protected.POST("/bans/:id/lift", admin, uuidID, h.Trust.LiftBan)
	protected.GET("/security/logs", admin, h.Trust.SecurityLogs)

	monitoring := protected.Group("/monitoring", admin)
	{
		monitoring.GET("/stats", h.Monitoring.Stats)
		monitoring.GET("/deals", h.Monitoring.DealStatistics)
		monitoring.POST("/deals/:id/check", uuidID, h.Monitoring.ForceCheck)
	}

	protected.GET("/notifications", h.Notifications.List)
	protected.PUT("/notifications/:id/read", uuidID, h.Notifications.MarkRead)

	return r
}
