package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-service/internal/config"
	"notification-service/internal/events"
	"notification-service/internal/httpserver"
	"notification-service/internal/mqhandler"
	"notification-service/internal/realtime"
	"notification-service/internal/repository"
	"notification-service/internal/scheduler"
	"notification-service/internal/service"
	"notification-service/pkg/circuitbreaker"
	"notification-service/pkg/db"
	"notification-service/pkg/logger"
	"notification-service/pkg/mq"
	"notification-service/pkg/otel"
	"notification-service/pkg/redis"
	"notification-service/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Server.LogLevel)
	defer log.Sync() //nolint:errcheck

	log.Info("Starting notification-service...",
		zap.String("store", cfg.Store.Driver),
		zap.String("fanout", cfg.Realtime.Fanout),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.Bool("tracing_enabled", cfg.Tracing.Enabled),
	)

	shutdownTracing, err := otel.Init(cfg.Tracing, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup

	// Store
	var store repository.NotificationStore
	var pinger httpserver.Pinger
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Warn("Using in-memory store, notifications are lost on restart")
		store = repository.NewMemoryNotificationRepository(log)
	default:
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()

		if err := repository.Migrate(ctx, pool, log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
		store = repository.NewNotificationRepository(pool, log)
		pinger = pool
	}

	// Redis
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	// Realtime delivery
	hub := realtime.NewHub(log)
	var fanout realtime.Fanout = hub
	if cfg.Realtime.Fanout == config.FanoutRedis {
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("Realtime broker circuit changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		broker := realtime.NewRedisBroker(rdb, cfg.Realtime.RedisChannel, hub, circuitbreaker.NewCircuitBreaker(breakerCfg), log)
		fanout = broker

		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = broker.Run(ctx)
		}()
	}
	dispatcher := realtime.NewDispatcher(fanout, log, cfg.Realtime.Shards, cfg.Realtime.QueueSize)

	// Services
	n := cfg.Notification
	notificationService := service.NewNotificationService(store, dispatcher, log,
		service.WithRecentWindow(n.RecentWindow),
		service.WithRetention(n.Retention),
		service.WithPageSize(n.DefaultPageSize, n.MaxPageSize),
	)
	publisher := events.NewPublisher(notificationService, events.NewRegistry(), log)

	var deduper *util.Deduper
	if rdb != nil {
		deduper = util.NewDeduper(rdb, n.DedupTTL, log)
	}

	// Domain event consumer
	var consumerStatus httpserver.ConnectionChecker
	if cfg.MQ.Enabled {
		dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL, "notification-service")
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer dlqPublisher.Close()

		var (
			dedup   mqhandler.Deduper
			retries mqhandler.RetryCounter
		)
		if rdb != nil {
			dedup = deduper
			retries = util.NewRetryCounter(rdb, n.DedupTTL)
		}
		handler := mqhandler.NewDomainEventHandler(publisher, dedup, retries, dlqPublisher, cfg.MQ.MaxRetries, log)

		log.Info("Initializing MQ consumer for domain events...",
			zap.String("queue", cfg.MQ.Queue),
			zap.String("routing_key", cfg.MQ.RoutingKey),
		)
		consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Queue, cfg.MQ.RoutingKey, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(handler.Handle)
		consumerStatus = consumer

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Domain event consumer stopped", zap.Error(err))
			}
		}()
	}

	// Maintenance
	cleanup := scheduler.NewCleanupWorker(notificationService, log).
		WithInterval(n.CleanupInterval).
		WithArchiveAfter(n.ArchiveDismissedAfter).
		WithRetention(n.Retention)
	if deduper != nil {
		cleanup = cleanup.WithLocker(deduper)
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanup.Start(ctx)
	}()

	// HTTP
	wsHandler := realtime.NewWSHandler(hub, notificationService, httpserver.WSAuthenticator(cfg.JWT.Secret), realtime.WSConfig{
		SessionBuffer: cfg.Realtime.SessionBuffer,
		PingInterval:  cfg.Realtime.PingInterval,
		WriteTimeout:  cfg.Realtime.WriteTimeout,
	}, log)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Notifications: httpserver.NewNotificationHandler(notificationService, log),
		Admin:         httpserver.NewAdminHandler(notificationService, publisher, log),
		WebSocket:     wsHandler,
		JWTSecret:     cfg.JWT.Secret,
		DB:            pinger,
		Consumer:      consumerStatus,
		Logger:        log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notification-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification-service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Hijacked websocket connections are not covered by Shutdown.
	hub.CloseAll()
	cancel()
	workers.Wait()
	dispatcher.Close()

	log.Info("notification-service shutdown complete")
}
