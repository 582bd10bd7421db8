package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/log"
)

// GinLoggerMiddleware 记录访问日志：5xx 为 error，4xx 为 warn，健康检查降为 debug.
func GinLoggerMiddleware() gin.HandlerFunc {
	l := log.Component("http")

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path

		level := zerolog.InfoLevel

		switch {
		case status >= http.StatusInternalServerError:
			level = zerolog.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zerolog.WarnLevel
		case strings.Contains(path, "/health"):
			level = zerolog.DebugLevel
		}

		event := l.WithLevel(level).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", path).
			Int("bytes", c.Writer.Size()).
			Str("client_ip", c.ClientIP())

		if user := GetUserID(c); user != "" {
			event = event.Str("user", user)
		}

		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.String())
		}

		event.Msg("http request")
	}
}
