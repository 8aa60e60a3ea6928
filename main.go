package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"realtime-service/internal/auth"
	"realtime-service/internal/broker"
	"realtime-service/internal/config"
	"realtime-service/internal/db"
	"realtime-service/internal/gateway"
	"realtime-service/internal/handlers"
	"realtime-service/internal/logger"
	"realtime-service/internal/middleware"
	"realtime-service/internal/observability"
	"realtime-service/internal/outbox"
	"realtime-service/internal/presence"
	"realtime-service/internal/repositories"
	"realtime-service/internal/scanner"
	"realtime-service/internal/snowflake"
	"realtime-service/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg, err := logger.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.Postgres.DSN)
	if err != nil {
		logg.Fatalw("failed to connect to postgres", "error", err)
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logg.Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	bus, err := broker.Connect(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		logg.Fatalw("failed to connect to amqp", "error", err)
	}
	defer bus.Close()

	objectStore, err := storage.NewS3Storage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket)
	if err != nil {
		logg.Fatalw("failed to build object storage", "error", err)
	}

	idGen, err := snowflake.NewGenerator(cfg.Server.NodeID)
	if err != nil {
		logg.Fatalw("invalid node id", "error", err)
	}

	outboxRepo := repositories.NewOutboxRepo(database)
	attachmentRepo := repositories.NewAttachmentRepo(database, outboxRepo)
	messageRepo := repositories.NewMessageRepo(database, outboxRepo)
	memberRepo := repositories.NewMemberRepo(database)

	presenceStore := presence.NewRedisStore(redisClient)
	typingStore := presence.NewRedisTypingStore(redisClient)
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret)

	hub := gateway.NewHub()
	gatewayHandler := gateway.NewHandler(hub, tokens, memberRepo, presenceStore, typingStore, bus, idGen, logg, gateway.Config{
		HeartbeatInterval:  cfg.Gateway.HeartbeatInterval,
		RateLimitPerSecond: cfg.Gateway.RateLimitPerSecond,
		MaxPayloadBytes:    cfg.Gateway.MaxPayloadBytes,
		SendBufferSize:     cfg.Gateway.SendBufferSize,
	})

	attachmentHandler := handlers.NewAttachmentHandler(attachmentRepo, memberRepo, objectStore, idGen, logg)
	messageHandler := handlers.NewMessageHandler(messageRepo, memberRepo, idGen, logg)
	presenceHandler := handlers.NewPresenceHandler(presenceStore, typingStore, memberRepo, logg)

	// Broker-to-hub bridge: one subscription per instance covers every
	// session; per-session filtering happens in the hub.
	err = bus.Subscribe(ctx, []string{broker.AllServerEvents, broker.AllUserEvents}, func(topic string, body []byte) {
		hub.Dispatch(topic, body)
	})
	if err != nil {
		logg.Fatalw("failed to subscribe to broker", "error", err)
	}

	publisher := outbox.NewPublisher(outboxRepo, bus, logg, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	go publisher.Run(ctx)

	clam := scanner.NewClamAV(cfg.ClamAV.Host, cfg.ClamAV.Port)
	pipeline := scanner.NewPipeline(attachmentRepo, objectStore, clam, idGen, logg,
		cfg.Scan.Interval, cfg.Scan.BatchSize, cfg.Scan.StuckThreshold)
	go pipeline.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.POST("/servers/:server_id/channels/:channel_id/messages", authMiddleware, messageHandler.PostMessage)
	router.GET("/servers/:server_id/channels/:channel_id/messages", authMiddleware, messageHandler.ListMessages)

	router.GET("/servers/:server_id/presence", authMiddleware, presenceHandler.GetServerPresence)
	router.GET("/servers/:server_id/channels/:channel_id/typing", authMiddleware, presenceHandler.GetChannelTyping)

	router.POST("/servers/:server_id/channels/:channel_id/attachments", authMiddleware, attachmentHandler.InitUpload)
	router.POST("/attachments/:id/complete", authMiddleware, attachmentHandler.CompleteUpload)
	router.GET("/attachments/:id/download", authMiddleware, attachmentHandler.GetDownloadURL)
	router.DELETE("/attachments/:id", authMiddleware, attachmentHandler.Delete)

	router.GET("/ws", gatewayHandler.Handle)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logg.Infow("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("server shutdown failed", "error", err)
	}
}
