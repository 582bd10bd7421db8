package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/configs"
	appctx "github.com/yeisme/syncvault/pkg/context"
	"github.com/yeisme/syncvault/pkg/internal/identity"
)

const userIDKey = "user_id"

// AuthMiddleware 用 resolver 解析调用方身份，成功后写入 gin.Context 与 request context.
//   - 配置中的 skip_paths 前缀不做校验（如 /metrics, /api/v1/health）
//   - 解析失败返回 401，WebSocket 握手也在升级前被拒绝；关闭校验时只记录能解析出的身份
//   - 角色只取自解析结果，JWT 模式下 X-Role 不生效.
func AuthMiddleware(conf configs.AuthConfig, resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSkippedPath(c.Request.URL.Path, conf.SkipPaths) {
			c.Next()
			return
		}

		id, err := resolver.Resolve(c.Request)
		if err != nil {
			if conf.Enabled {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}

			// 关闭校验时匿名放行，需要身份的处理器自行拒绝
			c.Next()

			return
		}

		c.Set(userIDKey, id.UserID)

		r := parseRole(id.Role)
		c.Set(roleKeyName, r)

		ctx := withRole(appctx.WithUserID(c.Request.Context(), id.UserID), r)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetUserID 返回已认证的用户 ID.
func GetUserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return appctx.UserID(c.Request.Context())
}

func isSkippedPath(path string, skips []string) bool {
	if path == "" || len(skips) == 0 {
		return false
	}

	for _, p := range skips {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}
