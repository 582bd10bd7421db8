package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/jobs"
	"github.com/yeisme/syncvault/pkg/internal/storage"
	"github.com/yeisme/syncvault/pkg/internal/storage/db"
	"github.com/yeisme/syncvault/pkg/internal/storage/kv"
	"github.com/yeisme/syncvault/pkg/internal/storage/mq"
	"github.com/yeisme/syncvault/pkg/internal/storage/s3"
)

// healthyStore 只实现健康检查与关闭，其余方法不应被调用.
type healthyStore struct{ s3.Store }

func (healthyStore) HealthCheck(context.Context) error { return nil }
func (healthyStore) Close() error                      { return nil }

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return port
}

func newManager(t *testing.T, cfg *configs.AppConfig) *storage.Manager {
	t.Helper()

	ctx := context.Background()

	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:app_%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	dbClient := db.Wrap(gdb)
	require.NoError(t, dbClient.Migrate(ctx))

	store, err := kv.NewMemoryKV(ctx, &cfg.KV)
	require.NoError(t, err)

	mqClient, err := mq.Open(ctx, &cfg.MQ, false)
	require.NoError(t, err)

	return &storage.Manager{
		DB: dbClient,
		S3: healthyStore{},
		MQ: mqClient,
		KV: kv.Wrap(store, cfg.KV.Prefix),
	}
}

// TestAssembleAndRun 测试组装后的服务能响应健康检查、注册维护任务并在取消后退出.
func TestAssembleAndRun(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := configs.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Auth.Mode = configs.AuthModeHeader

	a, err := assemble(&cfg, newManager(t, &cfg))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"db":"ok"`)
	assert.Contains(t, w.Body.String(), `"mq":"ok"`)

	names := map[string]bool{}
	for _, info := range a.sched.GetJobInfos() {
		names[info.Name] = true
	}

	assert.True(t, names[jobs.JobReapSessions])
	assert.True(t, names[jobs.JobPurgeTrash])
	assert.True(t, names[jobs.JobPruneOutbox])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- a.Run(ctx) }()

	url := fmt.Sprintf("http://%s/api/v1/health/db", cfg.Server.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
