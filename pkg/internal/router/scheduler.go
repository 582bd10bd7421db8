package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/internal/handle"
)

// RegisterSchedulerRoutes 注册调度器管理路由，调用方负责挂载权限中间件.
func RegisterSchedulerRoutes(g *gin.RouterGroup) {
	g.GET("/scheduler/jobs", handle.SchedulerJobs)

	g.POST("/scheduler/jobs/:name/run", handle.SchedulerRunJob)

	g.DELETE("/scheduler/jobs/:name", handle.SchedulerRemoveJob)

	g.GET("/scheduler/queue/waiting", handle.SchedulerQueueWaiting)
}
