package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"sudooom.im.chat/internal/auth"
	"sudooom.im.chat/internal/blob"
	"sudooom.im.chat/internal/config"
	"sudooom.im.chat/internal/connection"
	"sudooom.im.chat/internal/events"
	"sudooom.im.chat/internal/fanout"
	"sudooom.im.chat/internal/health"
	"sudooom.im.chat/internal/repository"
	"sudooom.im.chat/internal/server"
	"sudooom.im.chat/internal/workerpool"
	"sudooom.im.chat/pkg/snowflake"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// 加载配置
	configPath := os.Getenv("CHAT_CONFIG_FILE")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	gin.SetMode(cfg.App.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			logger.Error("Failed to migrate schema", "error", err)
			os.Exit(1)
		}
	}

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())

	// 连接 NATS（事件发布或 JetStream 附件存储需要）
	var natsClient *events.Client
	if cfg.NATS.EventsEnabled || cfg.Blob.Driver == "jetstream" {
		natsClient, err = events.NewClient(cfg.NATS, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	// 存储
	messages := repository.NewMessageRepository(db, cfg.Database.QueryTimeout)
	var groups fanout.GroupDirectory = repository.NewGroupRepository(db, cfg.Database.QueryTimeout)
	if cfg.GroupCache.Enabled {
		groups = repository.NewCachedGroupDirectory(groups, redisClient, cfg.GroupCache.TTL, logger)
	}

	blobs, err := newBlobStore(ctx, cfg, natsClient, logger)
	if err != nil {
		logger.Error("Failed to init blob store", "driver", cfg.Blob.Driver, "error", err)
		os.Exit(1)
	}

	// 连接注册表、探活、路由
	registry := connection.NewRegistry(logger)
	monitor := connection.NewMonitor(registry, cfg.Liveness.ProbeInterval, cfg.Liveness.ProbeDeadline, logger)
	router := fanout.NewRouter(messages, groups, blobs, registry, snowflake.NewNode(cfg.App.NodeID), logger)
	registry.SetPresenceHook(router.NotifyOnlinePeople)

	var pool *workerpool.Pool
	if cfg.NATS.EventsEnabled {
		pool = workerpool.New(cfg.WorkerPool.Workers, cfg.WorkerPool.QueueSize, logger)
		router.SetPublisher(events.NewPublisher(natsClient.Conn(), pool, cfg.NATS.SubjectPrefix, logger))
	}

	srv := server.New(cfg.Server, cfg.Auth.CookieName, newResolver(cfg.Auth, redisClient), registry, monitor, router, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 启动健康检查 HTTP 服务
	var nc *nats.Conn
	if natsClient != nil {
		nc = natsClient.Conn()
	}
	healthServer := startHealthServer(cfg.Server.HealthAddr, health.NewChecker(db, nc, redisClient, registry), logger)

	logger.Info("Chat server started",
		"name", cfg.App.Name,
		"addr", cfg.Server.Addr,
		"node_id", cfg.App.NodeID,
		"probe_interval", monitor.Interval(),
		"probe_deadline", monitor.Deadline())

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", "error", err)
	}
	if pool != nil {
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Event pool shutdown incomplete", "error", err)
		}
	}
	_ = healthServer.Shutdown(shutdownCtx)
	cancel()
	logger.Info("Server stopped", "evictions", monitor.Evictions())
}

// newLogger 按配置构造 slog 日志
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newResolver 按 auth.mode 选择身份解析器
func newResolver(cfg config.AuthConfig, redisClient redis.UniversalClient) auth.Resolver {
	if cfg.Mode == "redis" {
		return auth.NewRedisResolver(redisClient)
	}
	return auth.NewJWTResolver(cfg.TokenSecret)
}

// newBlobStore 按 blob.driver 选择附件存储
func newBlobStore(ctx context.Context, cfg *config.Config, natsClient *events.Client, logger *slog.Logger) (blob.Store, error) {
	if cfg.Blob.Driver != "jetstream" {
		return blob.NewLocalStore(cfg.Blob.Dir, logger)
	}
	if natsClient == nil {
		return nil, errors.New("jetstream driver requires a NATS connection")
	}

	js, err := jetstream.New(natsClient.Conn())
	if err != nil {
		return nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return blob.NewJetStreamStore(initCtx, js, cfg.NATS.ObjectBucket, logger)
}

// startHealthServer 启动健康检查 HTTP 服务
func startHealthServer(addr string, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	mux.Handle("/ready", checker.ReadyHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("Health check server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()
	return httpServer
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
