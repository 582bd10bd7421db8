package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "github.com/yeisme/syncvault/pkg/context"
	"github.com/yeisme/syncvault/pkg/internal/storage"
)

// StorageMiddleware 把存储管理器放入 request context，供健康检查读取各后端客户端.
func StorageMiddleware(manager *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(appctx.WithStorageManager(c.Request.Context(), manager))
		c.Next()
	}
}
