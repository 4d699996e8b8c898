package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/cache"
	"mailsync/backend/internal/config"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/health"
	"mailsync/backend/internal/logger"
	"mailsync/backend/internal/mailaddr"
	"mailsync/backend/internal/mailsource"
	"mailsync/backend/internal/middleware"
	"mailsync/backend/internal/monitoring"
	"mailsync/backend/internal/pool"
	"mailsync/backend/internal/scheduler"
	"mailsync/backend/internal/service"
	"mailsync/backend/internal/storage"
	"mailsync/backend/internal/storage/hybrid"
	"mailsync/backend/internal/storage/memory"
	"mailsync/backend/internal/storage/postgres"
	"mailsync/backend/internal/storage/redis"
	httptransport "mailsync/backend/internal/transport/http"
	"mailsync/backend/internal/websocket"
)

const version = "1.0.0"

// main 启动 HTTP API 与邮箱同步调度器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailsync server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	backend, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer backend.close(log)
	store := backend.store

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	startedAt := time.Now()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, log)
	if backend.pgx != nil {
		healthChecker.AddPinger("postgres", backend.pgx)
	}
	if backend.redis != nil {
		healthChecker.AddPinger("redis", backend.redis)
	}

	// 统计缓存：混合存储使用 Redis，否则使用本地缓存
	localCache := cache.NewLocalCache(cfg.Analytics.CacheTTL)
	var statsCache service.StatsCache = cache.NewStatsCache(localCache)
	if backend.statsCache != nil {
		statsCache = backend.statsCache
	}

	// WebSocket Hub
	authTokens := auth.NewTokenManager(cfg.JWT)
	wsHub := websocket.NewHub(websocket.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequireAuth:    cfg.Manager.RequireAuth,
		Tokens:         authTokens,
	}, log)
	wsHub.SetMetrics(metrics)

	// 初始化服务层
	normalizer := mailaddr.NewNormalizer(cfg.Normalizer.AutoDisplayName)
	rules := domain.ClassificationRules{
		StrictRegions: cfg.Classification.StrictRegions,
		Categories:    cfg.Classification.Categories,
	}

	recordService := service.NewRecordService(store, normalizer, rules, log)
	recordService.SetEventPublisher(wsHub)
	recordService.SetStatsCache(statsCache)
	recordService.SetMetrics(metrics)

	senderService := service.NewSenderService(store, store, log)
	senderService.SetMetrics(metrics)

	analyticsService := service.NewAnalyticsService(store, store, service.AnalyticsConfig{
		TopRecipients: cfg.Analytics.TopRecipients,
		TopSenders:    cfg.Analytics.TopSenders,
		CacheTTL:      cfg.Analytics.CacheTTL,
	}, log)
	analyticsService.SetStatsCache(statsCache)

	// 初始化认证服务，管理员表为空时创建默认管理员
	authService := auth.NewService(store, authTokens, log)
	seeded, err := authService.SeedDefault(ctx, cfg.Manager.DefaultEmail, cfg.Manager.DefaultPassword, cfg.Manager.DefaultName)
	if err != nil {
		log.Error("failed to seed default manager", zap.Error(err))
	} else if seeded {
		log.Info("default manager created", zap.String("email", cfg.Manager.DefaultEmail))
	}

	// 初始化同步调度器（配置了邮箱时）
	var sched *scheduler.Scheduler
	if cfg.IMAP.Enabled() {
		source := mailsource.NewIMAPSource(mailsource.Config{
			Host:               cfg.IMAP.Host,
			Port:               cfg.IMAP.Port,
			Username:           cfg.IMAP.Username,
			Password:           cfg.IMAP.Password,
			Mailbox:            cfg.IMAP.Mailbox,
			UseTLS:             cfg.IMAP.UseTLS,
			InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
			Policy:             cfg.Sync.Policy,
			Window:             cfg.Sync.Window,
			MarkSeen:           cfg.Sync.MarkSeen,
			DialTimeout:        cfg.IMAP.DialTimeout,
		}, log)

		ingestService := service.NewIngestService(
			source,
			store,
			senderService,
			normalizer,
			backend.seen,
			pool.NewWorkerPool(cfg.Sync.Workers, log),
			service.IngestOptions{
				Mailbox:          source.Mailbox(),
				AttributeSenders: cfg.Sync.AttributeSenders,
			},
			log,
		)
		ingestService.SetEventPublisher(wsHub)
		ingestService.SetStatsCache(statsCache)
		ingestService.SetMetrics(metrics)

		sched = scheduler.New(ingestService, scheduler.Options{
			Interval:          cfg.Sync.Interval,
			MaxConcurrentRuns: cfg.Sync.MaxConcurrentRuns,
			RunTimeout:        cfg.Sync.RunTimeout,
		}, log)
		sched.SetMetrics(metrics)

		// 同步超过 10 个周期没有成功时就绪检查失败
		healthChecker.AddReadinessCheck("sync-freshness",
			health.FreshnessCheck("mailbox sync", sched.LastSuccess, 10*cfg.Sync.Interval+cfg.Sync.RunTimeout))
	} else {
		log.Warn("imap not configured, mailbox sync disabled")
	}

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0)) // 512MB
	alertManager.AddRule(monitoring.StoreConnectionRule(store))
	if sched != nil {
		alertManager.AddRule(monitoring.SyncFailureRule(sched.ConsecutiveFailures, 3))
	}

	log.Info("monitoring system initialized")

	// 接口限流
	syncLimiter := middleware.NewRateLimiter("sync_trigger", cfg.RateLimit.SyncPerMinute, metrics)
	loginLimiter := middleware.NewRateLimiter("auth_login", cfg.RateLimit.LoginPerMinute, metrics)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:           cfg,
		RecordService:    recordService,
		SenderService:    senderService,
		AnalyticsService: analyticsService,
		AuthService:      authService,
		Scheduler:        sched,
		WebSocketHub:     wsHub,
		HealthChecker:    healthChecker,
		Metrics:          metrics,
		SyncLimiter:      syncLimiter,
		LoginLimiter:     loginLimiter,
		Logger:           log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 手动同步在请求内执行
		WriteTimeout: cfg.Sync.RunTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 同步调度 goroutine
	if sched != nil && cfg.Sync.Enabled {
		group.Go(func() error {
			log.Info("starting mailbox sync scheduler",
				zap.Duration("interval", cfg.Sync.Interval),
				zap.Int("max_concurrent_runs", cfg.Sync.MaxConcurrentRuns),
			)
			return sched.Start(groupCtx)
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 本地缓存与限流器清理 goroutine
	group.Go(func() error {
		localCache.Run(groupCtx, time.Minute)
		return nil
	})
	group.Go(func() error {
		syncLimiter.Cleanup(groupCtx, 10*time.Minute)
		return nil
	})
	group.Go(func() error {
		loginLimiter.Cleanup(groupCtx, 10*time.Minute)
		return nil
	})

	// 监控服务 goroutine
	group.Go(func() error {
		log.Info("starting monitoring services")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(startedAt))
				if backend.pgx != nil {
					metrics.UpdateDatabaseConnections(int(backend.pgx.Stats().TotalConns()))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// storageBackend 初始化后的存储及其附属客户端
type storageBackend struct {
	store      storage.Store
	seen       service.SeenFilter // 为 nil 时由入库服务使用存储查询去重
	statsCache service.StatsCache // 为 nil 时使用本地缓存
	redis      *redis.Client      // 混合存储时非 nil
	pgx        *postgres.Client   // PostgreSQL 时非 nil，用于健康检查与连接数指标
}

// initializeStorage 根据配置选择存储
//
//   - 未配置数据库：内存存储
//   - 配置数据库且启用 Redis：混合存储，Redis 负责读缓存、统计缓存与 Message-ID 去重
//   - 仅配置数据库：GORM 存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (*storageBackend, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return &storageBackend{store: memory.NewStore()}, nil
	}

	backend := &storageBackend{}

	if cfg.Redis.Enabled {
		store, err := hybrid.NewStoreWithType(cfg.Database, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		backend.store = store
		backend.redis = store.RedisClient()
		backend.statsCache = store.Cache()
		backend.seen = redis.NewSeenFilter(store.RedisClient(), cfg.Redis.DedupTTL)
		log.Info("using hybrid storage",
			zap.String("type", cfg.Database.Type),
			zap.String("redis", cfg.Redis.Address),
		)
	} else {
		opts := postgres.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}
		var (
			store *postgres.Store
			err   error
		)
		switch cfg.Database.Type {
		case "mysql":
			store, err = postgres.NewMySQLStore(cfg.Database.DSN, opts)
		case "postgres", "postgresql":
			store, err = postgres.NewStore(cfg.Database.DSN, opts)
		default:
			return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Database.Type)
		}
		if err != nil {
			return nil, err
		}
		backend.store = store
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	}

	if cfg.Database.Type == "postgres" || cfg.Database.Type == "postgresql" {
		client, err := postgres.NewClient(&cfg.Database, log)
		if err != nil {
			// 连接池只用于健康检查与指标，失败不影响启动
			log.Warn("failed to initialize pgx pool", zap.Error(err))
		} else {
			backend.pgx = client
		}
	}

	return backend, nil
}

func (b *storageBackend) close(log *zap.Logger) {
	if b.pgx != nil {
		b.pgx.Close()
	}
	if err := b.store.Close(); err != nil {
		log.Warn("failed to close store", zap.Error(err))
	}
}
