package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/proxy/internal/auth"
	"tempmail/proxy/internal/catalog"
	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/middleware"
	"tempmail/proxy/internal/monitoring"
	"tempmail/proxy/internal/provision"
	"tempmail/proxy/internal/registry"
	"tempmail/proxy/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Engine       *provision.Engine
	Registry     *registry.Registry
	Catalog      *catalog.Catalog
	TokenManager *auth.Manager
	Metrics      *monitoring.Metrics
	Health       healthcheck.Handler
	WebSocketHub *websocket.Hub
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics)
	router.Use(monitoringMW.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Mailbox-Token"},
		ExposeHeaders: []string{
			"Content-Length",
		},
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

	// 创建处理器与中间件
	mailboxHandler := NewMailboxHandler(deps.Engine, deps.Registry, deps.TokenManager, deps.Logger)
	publicHandler := NewPublicHandler(deps.Catalog)
	mailboxAuth := middleware.NewMailboxAuth(deps.TokenManager, deps.Logger)

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 健康检查
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))

	// V1 API
	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimitByIP(10, 20, deps.Logger))
	{
		// ========== Public Routes（无需认证的公开API） ==========
		publicRoutes := v1.Group("/public")
		{
			publicRoutes.GET("/domains", publicHandler.GetAvailableDomains) // 获取可用域名列表
		}

		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", mailboxHandler.CreateMailbox)

			// 需要邮箱令牌的端点
			mailboxRoutes.GET("/:id", mailboxAuth.RequireMailboxToken(), mailboxHandler.GetMailbox)
			mailboxRoutes.POST("/:id/extend", mailboxAuth.RequireMailboxToken(), mailboxHandler.ExtendMailbox)
			mailboxRoutes.GET("/:id/messages", mailboxAuth.RequireMailboxToken(), mailboxHandler.ListMessages)
			mailboxRoutes.DELETE("/:id", mailboxAuth.RequireMailboxToken(), mailboxHandler.DeleteMailbox)

			// WebSocket 推送（令牌经查询参数传入）
			if deps.WebSocketHub != nil {
				mailboxRoutes.GET("/:id/ws", mailboxAuth.RequireMailboxToken(), websocket.Handle(deps.WebSocketHub, deps.Logger))
			}
		}
	}

	return router
}
