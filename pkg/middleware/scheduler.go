package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/syncvault/pkg/scheduler"
)

const schedulerKeyName = "scheduler"

// SchedulerMiddleware 为 /admin/scheduler 路由注入调度器.
func SchedulerMiddleware(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(schedulerKeyName, sched)
		c.Next()
	}
}

// GetScheduler 返回注入的调度器，未注入时为 nil.
func GetScheduler(c *gin.Context) *scheduler.Scheduler {
	if v, ok := c.Get(schedulerKeyName); ok {
		if sched, ok := v.(*scheduler.Scheduler); ok {
			return sched
		}
	}

	return nil
}
