package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/configs"
)

// CORSMiddleware 允许浏览器客户端调用 API 并建立同步连接.
// 分片字节直接写入对象存储，那一侧的 CORS 由存储桶策略决定.
func CORSMiddleware(cfg configs.ServerConfig) gin.HandlerFunc {
	config := cors.DefaultConfig()

	if len(cfg.CORSOrigins) == 0 || cfg.Debug {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = cfg.CORSOrigins
		config.AllowCredentials = true
	}

	config.AllowWebSockets = true
	config.AddAllowHeaders("Authorization", "X-User-ID", "X-Role")
	config.AddExposeHeaders("Retry-After")
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}
