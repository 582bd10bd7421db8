// Package app 提供应用程序的初始化、组装与生命周期管理.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yeisme/syncvault/pkg/api"
	"github.com/yeisme/syncvault/pkg/cache"
	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/fanout"
	"github.com/yeisme/syncvault/pkg/internal/feed"
	"github.com/yeisme/syncvault/pkg/internal/handle"
	"github.com/yeisme/syncvault/pkg/internal/identity"
	"github.com/yeisme/syncvault/pkg/internal/jobs"
	"github.com/yeisme/syncvault/pkg/internal/repository"
	"github.com/yeisme/syncvault/pkg/internal/service"
	"github.com/yeisme/syncvault/pkg/internal/storage"
	"github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/metrics"
	"github.com/yeisme/syncvault/pkg/middleware"
	"github.com/yeisme/syncvault/pkg/scheduler"
	"github.com/yeisme/syncvault/pkg/tracing"
)

const sessionCacheSpace = "session."

// App 组装后的服务实例.
type App struct {
	Engine *gin.Engine

	config   *configs.AppConfig
	manager  *storage.Manager
	handlers *handle.Handlers
	fanout   *fanout.Service
	relay    *feed.Relay
	sched    *scheduler.Scheduler
	logger   zerolog.Logger
}

// NewApp 加载配置并初始化追踪、指标、存储、服务与路由.
// 配置已由命令行加载时不再重复读取 configPath.
func NewApp(configPath string) (*App, error) {
	ctx := context.Background()

	// 初始化配置
	if configs.GetViper() == nil {
		if err := configs.InitConfig(configPath); err != nil {
			return nil, fmt.Errorf("init config: %w", err)
		}
	}

	config := configs.GetConfig()

	// 初始化追踪
	if err := tracing.InitTracer(config.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// 初始化监控
	if err := metrics.InitMetrics(config.Metrics); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	manager, err := storage.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := manager.DB.Migrate(ctx); err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a, err := assemble(config, manager)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	return a, nil
}

// assemble 在已打开的存储上构造服务、后台任务与路由.
func assemble(config *configs.AppConfig, manager *storage.Manager) (*App, error) {
	resolver, err := identity.FromConfig(config.Auth)
	if err != nil {
		return nil, err
	}

	repo := repository.New(manager.DB.DB)

	uploadOpts := service.UploadOptionsFromConfig(config.Upload)
	if config.Upload.SessionCacheTTL > 0 {
		uploadOpts = append(uploadOpts,
			service.WithSessionCache(cache.NewCache(manager.KV, sessionCacheSpace), config.Upload.SessionCacheTTL))
	}

	uploads := service.NewUploadService(repo, manager.S3, uploadOpts...)
	files := service.NewFileService(repo, manager.S3, config.Upload)

	registry := fanout.NewRegistry()
	fan := fanout.NewService(
		feed.NewMQFeed(manager.MQ, config.Sync.Topic),
		registry,
		fanout.WithBackoff(config.Sync.ResubscribeBackoff),
	)

	var relay *feed.Relay
	if config.Sync.RelayEnabled {
		relay = feed.NewRelay(repo, manager.MQ, manager.KV,
			feed.WithTopic(config.Sync.Topic),
			feed.WithInterval(config.Sync.RelayInterval),
			feed.WithBatch(config.Sync.RelayBatch),
			feed.WithGapGrace(config.Sync.RelayGapGrace),
			feed.WithProducer("syncvault"),
		)
	}

	sched, err := scheduler.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	jobDeps := jobs.Deps{
		Reaper: uploads,
		Trash:  files,
		Outbox: repo,
		Upload: config.Upload,
		Sync:   config.Sync,
	}
	if relay != nil {
		jobDeps.Cursor = relay
	}

	if err := jobs.RegisterCronJobs(sched, jobDeps); err != nil {
		_ = sched.Stop()
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	handlers := handle.New(uploads, files, registry, fanout.WSOptions{
		SendBuffer:   config.Sync.SendBuffer,
		WriteTimeout: config.Sync.WriteTimeout,
		PingInterval: config.Sync.PingInterval,
	})

	l := log.Logger()
	gin.DefaultWriter = log.NewGinWriter(l, zerolog.InfoLevel)
	gin.DefaultErrorWriter = log.NewGinWriter(l, zerolog.ErrorLevel)

	engine := gin.New()
	engine.Use(middleware.Common(config)...)

	if config.Metrics.Enabled {
		_ = metrics.StartMetricsServer(config.Metrics, engine)
	}

	api.RegisterGroup(engine, api.Deps{
		Config:    config,
		Resolver:  resolver,
		Handlers:  handlers,
		Manager:   manager,
		Scheduler: sched,
	})

	return &App{
		Engine:   engine,
		config:   config,
		manager:  manager,
		handlers: handlers,
		fanout:   fan,
		relay:    relay,
		sched:    sched,
		logger:   log.Component("app"),
	}, nil
}

// Run 启动 HTTP 服务与后台组件，ctx 取消后优雅退出并释放存储.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.handlers.BindContext(ctx)

	if err := a.fanout.Start(ctx); err != nil {
		return err
	}

	a.sched.Start()

	srv := &http.Server{
		Addr:              a.config.Server.Addr(),
		Handler:           a.Engine,
		ReadHeaderTimeout: a.config.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Msg("http server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			if err := a.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) close() {
	a.fanout.Stop()

	if err := a.sched.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("stop scheduler")
	}

	if err := a.manager.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := tracing.ShutdownTracer(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown tracer")
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.config.Server.ShutdownTimeout; d > 0 {
		return d
	}

	return configs.DefaultShutdownTimeout
}
