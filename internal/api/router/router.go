package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/api/handler"
	"github.com/usermicrodevices/mas/internal/api/middleware"
	"github.com/usermicrodevices/mas/internal/service"
	"github.com/usermicrodevices/mas/pkg/jwt"
)

const (
	maxBodyBytes    = 1 << 20
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// Setup 初始化并返回 Gin 路由引擎
// limiter 为 nil 时登录接口不限流
func Setup(
	cfg *config.Config,
	h *handler.Handler,
	jwtMgr *jwt.Manager,
	authSvc service.AuthService,
	limiter middleware.RateLimiter,
	logger *zap.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 / 指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", middleware.RateLimit(limiter, loginRateLimit, loginRateWindow), h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, authSvc))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)
			authorized.GET("/auth/me", h.Auth.Me)

			// 字段级权限
			authorized.GET("/permissions/:model", h.Permission.GetPermissions)

			// 用户模块（可见性由 Service 按角色权重判定）
			users := authorized.Group("/users")
			{
				users.GET("", h.User.ListUsers)
				users.GET("/:id", h.User.GetUser)
				users.POST("", middleware.SuperuserOnly(), h.User.CreateUser)
				users.PUT("/:id", h.User.UpdateUser)
				users.DELETE("/:id", h.User.DeleteUser)
			}

			// 角色模块
			roles := authorized.Group("/roles")
			{
				roles.GET("", h.Role.ListRoles)
				roles.GET("/:id", h.Role.GetRole)
				roles.POST("", h.Role.CreateRole)
				roles.PUT("/:id", h.Role.UpdateRole)
				roles.DELETE("/:id", h.Role.DeleteRole)
				roles.POST("/:id/sync-matrix", middleware.SuperuserOnly(), h.Role.SyncMatrix)
				roles.PUT("/:id/fields", middleware.SuperuserOnly(), h.Role.UpdateRoleFields)
			}

			// 通知模块
			notifications := authorized.Group("/notifications")
			{
				notifications.GET("/sources", h.Notification.ListSources)
				notifications.POST("/sources", middleware.SuperuserOnly(), h.Notification.CreateSource)
				notifications.PUT("/sources/:id", middleware.SuperuserOnly(), h.Notification.UpdateSource)
				notifications.DELETE("/sources/:id", middleware.SuperuserOnly(), h.Notification.DeleteSource)

				notifications.GET("/source-groups", h.Notification.ListSourceGroups)
				notifications.POST("/source-groups", middleware.SuperuserOnly(), h.Notification.CreateSourceGroup)
				notifications.GET("/types", h.Notification.ListTypes)
				notifications.POST("/types", middleware.SuperuserOnly(), h.Notification.CreateType)
				notifications.GET("/templates", middleware.SuperuserOnly(), h.Notification.ListTemplates)
				notifications.POST("/templates", middleware.SuperuserOnly(), h.Notification.CreateTemplate)

				notifications.GET("/options/current", h.Notification.CurrentOptions)
				notifications.POST("/options", h.Notification.CreateOption)
				notifications.PUT("/options/:id", h.Notification.UpdateOption)
				notifications.GET("/delays/current", h.Notification.CurrentDelays)
				notifications.POST("/delays", h.Notification.CreateDelay)
				notifications.PUT("/delays/:id", h.Notification.UpdateDelay)

				notifications.GET("/bulk-emails", middleware.SuperuserOnly(), h.Notification.ListBulkEmails)
				notifications.POST("/bulk-emails", middleware.SuperuserOnly(), h.Notification.CreateBulkEmail)

				notifications.POST("/set-all-push", middleware.SuperuserOnly(), h.Notification.SetAllPush)
				notifications.POST("/notify", middleware.SuperuserOnly(), h.Notification.Notify)
			}

			// 设备模块（字段读写由 AccessResolver 判定）
			devices := authorized.Group("/devices")
			{
				devices.GET("", h.Device.ListDevices)
				devices.GET("/:id", h.Device.GetDevice)
				devices.PATCH("/:id", h.Device.UpdateDevice)
				devices.PUT("/:id/status", h.Device.ChangeStatus)
				devices.PUT("/:id/owner", h.Device.AssignOwner)
			}
		}
	}

	return r
}
