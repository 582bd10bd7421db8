package middleware

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/yeisme/syncvault/pkg/configs"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

var errServerStatus = errors.New("server error status")

// CircuitBreakerMiddleware 按路由模板熔断：对象存储或数据库故障导致某条路由持续 5xx 时
// 快速返回 503，其余路由不受影响.WebSocket 升级请求不计入统计.
func CircuitBreakerMiddleware(cfg configs.CircuitBreakerConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	l := nlog.Component("breaker")

	var breakers sync.Map

	get := func(route string) *gobreaker.CircuitBreaker {
		if cb, ok := breakers.Load(route); ok {
			return cb.(*gobreaker.CircuitBreaker)
		}

		cb, _ := breakers.LoadOrStore(route, gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        route,
			MaxRequests: cfg.MaxRequestsInHalf,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}

				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Warn().Str("route", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
			},
		}))

		return cb.(*gobreaker.CircuitBreaker)
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || c.IsWebsocket() {
			c.Next()
			return
		}

		_, err := get(c.Request.Method+" "+route).Execute(func() (any, error) {
			c.Next()

			if c.Writer.Status() >= http.StatusInternalServerError {
				return nil, errServerStatus
			}

			return nil, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "service temporarily unavailable", "code": "UpstreamFailure"})
		}
	}
}
