package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/servicedesk-backend/internal/config"
	"github.com/ignatzorin/servicedesk-backend/internal/http/handlers"
	"github.com/ignatzorin/servicedesk-backend/internal/http/middleware"
	"github.com/ignatzorin/servicedesk-backend/internal/metrics"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
)

// Handlers все хэндлеры приложения.
type Handlers struct {
	Jobs          *handlers.JobHandler
	Payments      *handlers.PaymentHandler
	Finance       *handlers.FinanceHandler
	Settings      *handlers.SettingsHandler
	Notifications *handlers.NotificationHandler
	Health        *handlers.HealthHandler
	WS            *handlers.WSHandler
}

// SetupRouter собирает маршруты. limiterStore nil означает лимиты в памяти процесса.
func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, limiterStore limiter.Store) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	if h.Health != nil {
		r.GET("/health", h.Health.Health)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	rateLimit := middleware.RateLimitMiddleware(limiterStore, cfg.RateLimitLimit, cfg.RateLimitPeriod)
	auth := middleware.AuthMiddleware(tokenManager)

	if h.WS != nil {
		api.GET("/ws", h.WS.Handle)
	}

	// Вебхуки шлюза: без JWT, подлинность проверяется подписью
	webhook := api.Group("/payments")
	webhook.Use(rateLimit)
	{
		webhook.POST("/webhook", h.Payments.Webhook)
		webhook.POST("/paypal/webhook", h.Payments.Webhook)
		if cfg.Env == "development" {
			webhook.POST("/webhook/manual-trigger", h.Payments.ManualTrigger)
		}
	}

	api.GET("/jobs/:id", middleware.UUIDValidator("id"), h.Jobs.GetJob)
	api.POST("/jobs/:id/complete",
		middleware.UUIDValidator("id"),
		rateLimit,
		middleware.AuthOrAutoComplete(tokenManager, cfg.Escrow.AutoCompleteToken),
		h.Jobs.Complete,
	)

	protected := api.Group("/")
	protected.Use(auth)
	{
		protected.POST("/jobs", h.Jobs.CreateJob)
		protected.POST("/jobs/:id/hire", middleware.UUIDValidator("id"), h.Jobs.Hire)
		protected.POST("/jobs/:id/cancel", middleware.UUIDValidator("id"), h.Jobs.Cancel)

		protected.POST("/payments/capture", rateLimit, h.Payments.Capture)
		protected.POST("/payments/withdraw", rateLimit, h.Payments.Withdraw)
		protected.GET("/users/financial-dashboard", h.Finance.Dashboard)

		protected.GET("/notifications", h.Notifications.ListNotifications)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkAsRead)
	}

	admin := api.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	{
		admin.GET("/settings", h.Settings.Get)
		admin.PUT("/settings", h.Settings.Update)
	}

	return r
}
