package handler

import (
	"peerpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)
	authRequired := AuthMiddleware(h.accountService)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 认证相关
		auth := api.Group("/auth")
		{
			auth.POST("/signup", h.Signup)
			auth.POST("/login", h.Login)
			auth.GET("/me", authRequired, h.Me)
			auth.GET("/balance", authRequired, h.GetBalance)
		}

		// 转账相关
		transfers := api.Group("/transfers", authRequired)
		{
			transfers.POST("", h.Transfer)
			transfers.GET("", h.ListTransfers)
			transfers.GET("/users/search", h.SearchRecipients)
			transfers.GET("/:id", h.GetTransfer)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
