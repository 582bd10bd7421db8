// Package middleware 提供 gin 中间件：身份、角色、日志、指标、追踪、限流、熔断与依赖注入.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/configs"
)

// Common 返回所有路由共用的中间件，顺序即执行顺序.
func Common(cfg *configs.AppConfig) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		gin.Recovery(),
		CORSMiddleware(cfg.Server),
		GinLoggerMiddleware(),
		RoleMiddleware(),
		RateLimitMiddleware(cfg.RateLimit),
		CircuitBreakerMiddleware(cfg.CircuitBreaker),
	}

	if cfg.Metrics.Enabled {
		chain = append(chain, PrometheusMiddleware())
	}

	if cfg.Tracing.Enabled {
		chain = append(chain, TracingMiddleware())
	}

	return chain
}
