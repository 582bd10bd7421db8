package handle

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	ctxPkg "github.com/yeisme/syncvault/pkg/context"
)

const timeout = 2 * time.Second

type checker interface {
	HealthCheck(ctx context.Context) error
}

// probe 执行一次健康检查并写出统一格式.
func probe(c *gin.Context, component string, target checker, missing bool) {
	if missing {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"component": component, "status": "unhealthy", "error": component + " client not initialized",
		})

		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	if err := target.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"component": component, "status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"component": component, "status": "ok"})
}

// HealthDB 元数据库健康检查.
func HealthDB(c *gin.Context) {
	dbc := ctxPkg.GetDBClient(c.Request.Context())
	probe(c, "db", dbc, dbc == nil || dbc.DB == nil)
}

// HealthS3 对象存储健康检查.
func HealthS3(c *gin.Context) {
	s3c := ctxPkg.GetS3Client(c.Request.Context())
	probe(c, "s3", s3c, s3c == nil)
}

// HealthMQ 消息队列健康检查.
func HealthMQ(c *gin.Context) {
	mqc := ctxPkg.GetMQClient(c.Request.Context())
	probe(c, "mq", mqc, mqc == nil)
}

// HealthKV KV 健康检查.
func HealthKV(c *gin.Context) {
	kvc := ctxPkg.GetKVClient(c.Request.Context())
	probe(c, "kv", kvc, kvc == nil)
}

// HealthAll 并行检查全部后端，任一失败时返回 503.
func HealthAll(c *gin.Context) {
	ctx := c.Request.Context()

	targets := map[string]checker{}
	if db := ctxPkg.GetDBClient(ctx); db != nil && db.DB != nil {
		targets["db"] = db
	}

	if s3 := ctxPkg.GetS3Client(ctx); s3 != nil {
		targets["s3"] = s3
	}

	if mq := ctxPkg.GetMQClient(ctx); mq != nil {
		targets["mq"] = mq
	}

	if kv := ctxPkg.GetKVClient(ctx); kv != nil {
		targets["kv"] = kv
	}

	if len(targets) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "storage not initialized"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(gin.H, len(targets))
		healthy = true
		g       errgroup.Group
	)

	for name, target := range targets {
		g.Go(func() error {
			status := "ok"
			if err := target.HealthCheck(ctx); err != nil {
				status = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()

			results[name] = status
			if status != "ok" {
				healthy = false
			}

			return nil
		})
	}

	_ = g.Wait()

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "components": results})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "components": results})
}
