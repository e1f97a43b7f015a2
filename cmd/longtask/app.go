package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/longtask/api/handlers"
	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/config"
	"github.com/BaSui01/longtask/internal/cache"
	"github.com/BaSui01/longtask/internal/database"
	"github.com/BaSui01/longtask/internal/idempotency"
	"github.com/BaSui01/longtask/internal/metrics"
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/internal/server"
	"github.com/BaSui01/longtask/logs"
	"github.com/BaSui01/longtask/persistence"
	"github.com/BaSui01/longtask/runners/deletemodel"
	"github.com/BaSui01/longtask/runners/prunelogs"
	"github.com/BaSui01/longtask/runners/syncindex"
	"github.com/BaSui01/longtask/search"
	"github.com/BaSui01/longtask/task"
)

// =============================================================================
// 🧩 App：组件装配
// =============================================================================

// App 持有一次进程内所有已装配的组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	orch        *task.Orchestrator
	scheduler   *task.Scheduler
	deleteModel *deletemodel.Service
	collector   *metrics.Collector
	health      *handlers.HealthHandler

	cms   cms.Repository
	logs  logs.Repository
	index search.Index
	idem  idempotency.Store

	closers []func(context.Context) error
}

type autoMigrator interface {
	AutoMigrate() error
}

// NewApp 按配置打开外部连接并装配 orchestrator、runner 与处理器。
// 失败时已打开的连接会被关闭。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, metricsNamespace string) (app *App, err error) {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(metricsNamespace, logger),
		health:    handlers.NewHealthHandler(logger),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	// ---- 外部连接 ----
	var redisMgr *cache.Manager
	if cfg.NeedsRedis() {
		rc := cache.DefaultConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.SlowThreshold = cfg.Redis.SlowThreshold
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = cfg.Redis.MinIdleConns
		}
		if redisMgr, err = cache.NewManager(rc, logger); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func(context.Context) error { return redisMgr.Close() })
		a.health.RegisterCheck(handlers.NewPingCheck("redis", redisMgr.Ping))
	}

	var db *gorm.DB
	if cfg.NeedsDatabase() {
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return pool.Close() })
		pool.Observe(func(s database.PoolStats) {
			a.collector.RecordDBConnections(cfg.Database.Driver, s.Open, s.Idle)
		})
		a.health.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
		db = pool.DB()
	}

	// ---- 存储 ----
	backends := persistence.Backends{DB: db}
	if redisMgr != nil {
		backends.Redis = redisMgr.Client()
	}
	tasks, err := persistence.NewTaskStore(persistence.StoreConfig{
		Type:      persistence.StoreType(cfg.Store.Type),
		BaseDir:   cfg.Store.BaseDir,
		KeyPrefix: cfg.Store.KeyPrefix,
	}, backends)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return tasks.Close() })
	a.health.RegisterCheck(handlers.NewPingCheck("task_store", tasks.Ping))
	a.collector.WatchTaskCounts(func(ctx context.Context) (map[task.Status]int64, error) {
		stats, err := tasks.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return stats.StatusCounts, nil
	})

	checkpoints, err := checkpoint.NewStore(checkpoint.Config{
		Type:      checkpoint.Type(cfg.Checkpoint.Type),
		KeyPrefix: cfg.Checkpoint.KeyPrefix,
		TTL:       cfg.Checkpoint.TTL,
	}, checkpoint.Backends{Redis: redisMgr, DB: db}, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return checkpoints.Close() })
	a.health.RegisterCheck(handlers.NewPingCheck("checkpoint_store", checkpoints.Ping))

	retryer := retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       cfg.Retry.Jitter,
	}, logger)

	// 有数据库时 CMS 走 SQL，否则走内存
	if db != nil {
		a.cms = cms.NewGormRepository(db).WithRetry(retryer)
	} else {
		a.cms = cms.NewMemoryRepository()
	}
	for _, s := range []any{tasks, checkpoints, a.cms} {
		if m, ok := s.(autoMigrator); ok {
			if err := m.AutoMigrate(); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
	}

	if cfg.MongoDB.Enabled {
		repo, err := logs.NewMongoRepository(ctx, logs.MongoConfig{
			URI:            cfg.MongoDB.URI,
			Database:       cfg.MongoDB.Database,
			Collection:     cfg.MongoDB.Collection,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.logs = repo
	} else {
		a.logs = logs.NewMemoryRepository()
	}
	a.onClose(a.logs.Close)

	if redisMgr != nil {
		a.index = search.NewRedisIndex(redisMgr.Client(), cfg.Runners.SyncIndex.KeyPrefix)
		a.idem = idempotency.NewRedisStore(redisMgr.Client(), cfg.Store.KeyPrefix+"idempotency:", logger)
	} else {
		a.index = search.NewMemoryIndex()
		mem := idempotency.NewMemoryStore(time.Minute, logger)
		a.onClose(func(context.Context) error { return mem.Close() })
		a.idem = mem
	}

	// ---- 任务定义 ----
	registry := task.NewRegistry()
	rc := cfg.Runners
	registry.MustRegister(deletemodel.NewDefinition(a.cms, retryer, deletemodel.Config{
		PageSize:     rc.DeleteModel.PageSize,
		ReprobeDelay: rc.DeleteModel.ReprobeDelay,
		MaxReprobes:  rc.DeleteModel.MaxReprobes,
	}))
	registry.MustRegister(prunelogs.NewDefinition(a.logs, retryer, prunelogs.Config{
		PageSize:  rc.PruneLogs.PageSize,
		Retention: rc.PruneLogs.Retention,
	}))
	registry.MustRegister(syncindex.NewDefinition(a.index, cms.NewIndexSource(a.cms, rc.SyncIndex.IndexPrefix), retryer, syncindex.Config{
		PageSize:        rc.SyncIndex.PageSize,
		BatchReadSize:   rc.SyncIndex.BatchReadSize,
		ReadConcurrency: rc.SyncIndex.ReadConcurrency,
		IndexPrefix:     rc.SyncIndex.IndexPrefix,
	}))

	a.orch = task.NewOrchestrator(task.OrchestratorConfig{
		InvocationTimeout:    cfg.Task.InvocationTimeout,
		SafetyMargin:         cfg.Task.SafetyMargin,
		DefaultMaxIterations: cfg.Task.DefaultMaxIterations,
	}, registry, tasks, checkpoints, logger, task.WithMetrics(a.collector))

	a.scheduler = task.NewScheduler(a.orch, task.SchedulerConfig{
		PollInterval: cfg.Task.PollInterval,
		BatchSize:    cfg.Task.BatchSize,
		Workers:      cfg.Task.Workers,
		QueueSize:    cfg.Task.QueueSize,
	}, logger)
	a.collector.WatchInFlight(a.scheduler.InFlight)
	a.deleteModel = deletemodel.NewService(a.orch, a.cms, logger)

	logger.Info("components initialized",
		zap.String("task_store", cfg.Store.Type),
		zap.String("checkpoint_store", cfg.Checkpoint.Type),
		zap.Bool("database", db != nil),
		zap.Bool("redis", redisMgr != nil),
		zap.Bool("mongodb", cfg.MongoDB.Enabled),
	)
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close 逆序关闭已打开的连接
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// Handler 返回带中间件链的 API 处理器。ctx 控制限流器后台清理。
func (a *App) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health.HandleHealth)
	mux.HandleFunc("GET /healthz", a.health.HandleHealthz)
	mux.HandleFunc("GET /ready", a.health.HandleReady)
	mux.HandleFunc("GET /version", a.health.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))
	handlers.NewTaskHandler(a.orch, a.logger).
		WithIdempotency(a.idem, a.cfg.Task.IdempotencyTTL).
		Register(mux)
	handlers.NewModelHandler(a.deleteModel, a.logger).Register(mux)

	chain := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		Observe(a.logger, a.collector),
	}
	if a.cfg.AuthEnabled() {
		chain = append(chain, JWTAuth(a.cfg.JWT, publicPaths, a.logger))
	} else {
		a.logger.Warn("JWT secret not configured, API authentication disabled")
	}
	chain = append(chain, RateLimiter(ctx, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, publicPaths))
	return Chain(mux, chain...)
}

// MetricsHandler 返回 metrics 端口的处理器
func (a *App) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collector.Handler())
	return mux
}

// =============================================================================
// 🚀 运行
// =============================================================================

// Run 启动 API、metrics 服务与调度器，直到 ctx 取消或任一组件失败。
// extra 为额外的后台任务（例如配置热加载）。
func (a *App) Run(ctx context.Context, extra ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := a.cfg.Server

	api := server.NewManager(a.Handler(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", srv.HTTPPort),
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		IdleTimeout:     2 * srv.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: srv.ShutdownTimeout,
		TLSCertFile:     srv.TLSCertFile,
		TLSKeyFile:      srv.TLSKeyFile,
	}, a.logger)
	g.Go(func() error { return api.Run(ctx) })

	metricsSrv := server.NewManager(a.MetricsHandler(), server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", srv.MetricsPort),
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		ShutdownTimeout: srv.ShutdownTimeout,
	}, a.logger)
	g.Go(func() error { return metricsSrv.Run(ctx) })

	if srv.SchedulerEnabled {
		g.Go(func() error { return a.scheduler.Run(ctx) })
	} else {
		a.logger.Info("local scheduler disabled")
	}

	for _, fn := range extra {
		g.Go(func() error { return fn(ctx) })
	}

	a.logger.Info("longtask started",
		zap.Int("http_port", srv.HTTPPort),
		zap.Int("metrics_port", srv.MetricsPort),
		zap.Bool("scheduler", srv.SchedulerEnabled),
	)
	return g.Wait()
}

