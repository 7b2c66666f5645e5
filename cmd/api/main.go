package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"roomit/internal/config"
	"roomit/internal/db"
	apihttp "roomit/internal/http"
	"roomit/internal/relay"
	"roomit/internal/repository"
	"roomit/internal/service"
	"roomit/internal/stream"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	roomRepo := repository.NewPgChatRoomRepository(pool)
	chatMessageRepo := repository.NewPgChatMessageRepository(pool)
	notificationRepo := repository.NewPgNotificationRepository(pool)
	businessRepo := repository.NewPgBusinessRepository(pool)
	memberRepo := repository.NewPgMemberRepository(pool)

	broker := relay.NewBroker(logger, 0)
	buffer := service.NewMemoryMessageBuffer()
	limiter := service.NewMemorySendRateLimiter(cfg.ChatRateWindow, cfg.ChatRateBurst)
	var (
		publisher   relay.Publisher = broker
		redisClient *redis.Client
		bridge      *relay.Bridge
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory chat buffer", zap.Error(err))
			redisClient = nil
		} else {
			buffer = service.NewRedisMessageBuffer(redisClient)
			limiter = service.NewRedisSendRateLimiter(redisClient, cfg.ChatRateWindow, cfg.ChatRateBurst)
			publisher = relay.NewRedisPublisher(redisClient)
			bridge = relay.NewBridge(logger, redisClient, broker)
		}
		cancel()
	} else {
		logger.Warn("redis not configured, chat buffer and relay are local to this instance")
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, 0)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	chatSvc := service.NewChatService(logger, publisher, buffer, roomRepo, chatMessageRepo, service.ChatSettings{
		BufferTTL:   cfg.ChatBufferTTL,
		Retention:   cfg.ChatRetention,
		RateLimiter: limiter,
	})
	registry := stream.NewRegistry(cfg.SSEEventCacheSize)
	notificationSvc := service.NewNotificationService(logger, registry, notificationRepo, businessRepo, memberRepo, cfg.SSETimeout)
	scheduler := service.NewScheduler(logger, chatSvc, notificationSvc, service.SchedulerSettings{
		HeartbeatInterval: cfg.SSEHeartbeatInterval,
		FlushInterval:     cfg.ChatFlushInterval,
		PruneInterval:     cfg.ChatPruneInterval,
	})

	checks := map[string]apihttp.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.Ping(ctx, pool) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	chatHandler := apihttp.NewChatHandler(logger, chatSvc, broker)
	notificationHandler := apihttp.NewNotificationHandler(logger, notificationSvc)
	healthHandler := apihttp.NewHealthHandler(logger, checks)
	router := apihttp.NewRouter(logger, jwtSvc, chatHandler, notificationHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		scheduler.Run(ctx)
	}()
	if bridge != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay bridge stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// las conexiones SSE no terminan solas; se cierran antes de esperar al server.
	notificationSvc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	workers.Wait()

	// último flush para no depender del TTL con lo que quedó en el buffer.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelFlush()
	if res, err := chatSvc.FlushAll(flushCtx); err != nil {
		logger.Warn("final chat flush incomplete", zap.Int("flushed", res.Flushed), zap.Int("failed", res.Failed), zap.Error(err))
	}
}
