package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/config"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/health"
	"mailsync/backend/internal/middleware"
	"mailsync/backend/internal/monitoring"
	"mailsync/backend/internal/scheduler"
	"mailsync/backend/internal/service"
	"mailsync/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config           *config.Config
	RecordService    *service.RecordService
	SenderService    *service.SenderService
	AnalyticsService *service.AnalyticsService
	AuthService      *auth.Service
	Scheduler        *scheduler.Scheduler // 未配置邮箱时为 nil
	WebSocketHub     *websocket.Hub       // 可选
	HealthChecker    *health.HealthChecker
	Metrics          *monitoring.Metrics
	SyncLimiter      *middleware.RateLimiter // 为 nil 时不限流
	LoginLimiter     *middleware.RateLimiter
	Logger           *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitor.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 人工录入允许更大的正文
	router.Use(middleware.RouteBodySizeLimit(map[string]int64{
		"/api/emails":        middleware.RecordBodyLimit,
		"/api/emails/create": middleware.RecordBodyLimit,
	}, middleware.DefaultBodyLimit))

	rules := domain.ClassificationRules{
		StrictRegions: deps.Config.Classification.StrictRegions,
		Categories:    deps.Config.Classification.Categories,
	}

	// 创建处理器
	recordHandler := NewRecordHandler(deps.RecordService, log)
	senderHandler := NewSenderHandler(deps.SenderService, log)
	dashboardHandler := NewDashboardHandler(deps.AnalyticsService, rules, log)
	authHandler := NewAuthHandler(deps.AuthService, log)

	var syncController SyncController
	if deps.Scheduler != nil {
		syncController = deps.Scheduler
	}
	syncHandler := NewSyncHandler(syncController, log)

	// 创建中间件
	jwtAuth := middleware.NewJWTAuth(deps.AuthService.Tokens(), log)
	guard := jwtAuth.Guard(deps.Config.Manager.RequireAuth)
	syncLimit := limiterOrPass(deps.SyncLimiter)
	loginLimit := limiterOrPass(deps.LoginLimiter)

	// 健康检查与监控
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	{
		// ========== Auth Routes ==========
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", loginLimit, authHandler.Login)
			authRoutes.POST("/refresh", loginLimit, authHandler.Refresh)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
		}

		// ========== Email Routes ==========
		emailRoutes := api.Group("/emails")
		{
			emailRoutes.GET("", recordHandler.List)
			emailRoutes.GET("/pending", recordHandler.ListPending)
			emailRoutes.GET("/:id", recordHandler.Get)

			// 写操作在 manager.require_auth 开启时需要登录
			emailRoutes.POST("", guard, recordHandler.Create)
			emailRoutes.POST("/create", guard, recordHandler.Create)
			emailRoutes.PUT("/:id/classify", guard, recordHandler.Classify)
			emailRoutes.DELETE("/:id", guard, recordHandler.Delete)
		}

		// ========== Funcionários Routes ==========
		senderRoutes := api.Group("/funcionarios")
		{
			senderRoutes.GET("", senderHandler.List)
			senderRoutes.GET("/:id", senderHandler.Get)
			senderRoutes.GET("/:id/emails", senderHandler.Records)
		}

		// ========== Dashboard & Sync Routes ==========
		api.GET("/dashboard/stats", dashboardHandler.Stats)
		api.POST("/sync/trigger", guard, syncLimit, syncHandler.Trigger)
		api.GET("/sync/status", syncHandler.Status)

		// ========== Reference Data ==========
		api.GET("/meta/regions", dashboardHandler.Regions)
		api.GET("/meta/categories", dashboardHandler.Categories)

		// ========== WebSocket ==========
		if deps.WebSocketHub != nil {
			api.GET("/ws", deps.WebSocketHub.Handler())
		}
	}

	return router
}

func limiterOrPass(rl *middleware.RateLimiter) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}
