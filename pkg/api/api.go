// Package api 组装 /api/v1 路由组：身份、依赖注入、压缩与各业务路由.
package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/handle"
	"github.com/yeisme/syncvault/pkg/internal/identity"
	"github.com/yeisme/syncvault/pkg/internal/router"
	"github.com/yeisme/syncvault/pkg/internal/storage"
	"github.com/yeisme/syncvault/pkg/middleware"
	"github.com/yeisme/syncvault/pkg/scheduler"
)

// Prefix API 路径前缀.
const Prefix = "/api/v1"

// Deps 路由组需要的依赖，Manager 与 Scheduler 可以为空.
type Deps struct {
	Config    *configs.AppConfig
	Resolver  identity.Resolver
	Handlers  *handle.Handlers
	Manager   *storage.Manager
	Scheduler *scheduler.Scheduler
}

// RegisterGroup 在 e 上注册 /api/v1 下的全部路由.
func RegisterGroup(e *gin.Engine, d Deps) *gin.Engine {
	v1 := e.Group(Prefix)

	// WebSocket 握手不能被压缩
	v1.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{Prefix + "/sync"})))

	if d.Manager != nil {
		v1.Use(middleware.StorageMiddleware(d.Manager))
	}

	router.RegisterHealthCheckRoute(v1)

	authed := v1.Group("", middleware.AuthMiddleware(d.Config.Auth, d.Resolver))
	router.RegisterUploadRoutes(authed, d.Handlers)
	router.RegisterFilesRoutes(authed, d.Handlers)
	router.RegisterSyncRoutes(authed, d.Handlers)

	if d.Scheduler != nil {
		admin := authed.Group("/admin",
			middleware.RequireMinRole(middleware.RoleAdmin),
			middleware.SchedulerMiddleware(d.Scheduler),
		)
		router.RegisterSchedulerRoutes(admin)
	}

	return e
}
