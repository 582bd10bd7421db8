package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Role 调用方角色，数值越大权限越高.
type Role int

const (
	// RoleAnonymous 未通过身份解析的请求.
	RoleAnonymous Role = iota
	// RoleUser 普通用户，只能操作自己的会话与文件.
	RoleUser
	// RoleAdmin 可以访问 /admin 下的调度任务管理.
	RoleAdmin
)

const roleKeyName = "role"

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	default:
		return "anonymous"
	}
}

type roleKey struct{}

// parseRole 解析身份中的角色，空值与未知值视为 user.
func parseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), "admin") {
		return RoleAdmin
	}

	return RoleUser
}

// RoleMiddleware 把请求初始化为匿名角色，AuthMiddleware 解析成功后再提升.
func RoleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(roleKeyName, RoleAnonymous)
		c.Next()
	}
}

func withRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, roleKey{}, r)
}

// GetRole 返回当前请求角色.
func GetRole(c *gin.Context) Role {
	if v, ok := c.Get(roleKeyName); ok {
		if r, ok := v.(Role); ok {
			return r
		}
	}

	if r, ok := c.Request.Context().Value(roleKey{}).(Role); ok {
		return r
	}

	return RoleAnonymous
}

// RequireMinRole 角色低于 minRole 时返回 403.
func RequireMinRole(minRole Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) < minRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: insufficient role", "code": "Forbidden"})
			return
		}

		c.Next()
	}
}
