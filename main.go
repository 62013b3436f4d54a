package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"agency-chat/internal/auth"
	"agency-chat/internal/chat"
	"agency-chat/internal/config"
	"agency-chat/internal/db"
	"agency-chat/internal/feed"
	"agency-chat/internal/handlers"
	"agency-chat/internal/logging"
	"agency-chat/internal/media"
	"agency-chat/internal/middleware"
	"agency-chat/internal/observability"
	"agency-chat/internal/presence"
	"agency-chat/internal/rabbitmq"
	"agency-chat/internal/repositories"
	"agency-chat/internal/telemetry"
	"agency-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "error").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, logger)

	var registry presence.Registry = presence.NewMemory()
	if cfg.RedisURL != "" {
		r, err := presence.NewRedis(ctx, cfg.RedisURL, cfg.PresenceTTL, logger)
		if err != nil {
			logger.Warn("redis unavailable, presence is per-instance", "error", err)
		} else {
			registry = r
		}
	}
	defer registry.Close()

	broker := feed.NewBroker(logger, cfg.FeedBufferSize)
	defer broker.Close()
	listener := feed.NewListener(cfg.DatabaseDSN, db.NotifyChannel, broker, logger)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change feed stopped", "error", err)
		}
	}()

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	profileRepo := repositories.NewProfileRepo(database)

	tokens := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	aggregator := chat.NewAggregator(conversationRepo, messageRepo, profileRepo, cfg.SupportProfileID)
	messageSync := chat.NewMessageSync(conversationRepo, messageRepo, profileRepo, broker, logger)
	sender := chat.NewSender(conversationRepo, messageRepo, logger)

	var signer media.Signer
	if cfg.MediaEnabled() {
		client, err := media.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("failed to create media client", "error", err)
			os.Exit(1)
		}
		if err := media.EnsureBucket(ctx, client, cfg.MinioBucket); err != nil {
			logger.Warn("media bucket check failed", "bucket", cfg.MinioBucket, "error", err)
		}
		signer = media.NewUploads(client, cfg.MinioBucket, cfg.MediaPublicURL, cfg.UploadURLTTL)
	}

	hub := ws.NewHub(registry, logger)
	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, profileRepo, aggregator, messageSync, sender, audit, logger)
	mentionHandler := handlers.NewMentionHandler(chat.NewMentionDirectory(profileRepo))
	mediaHandler := handlers.NewMediaHandler(signer)
	conversationWS := ws.NewConversationSocket(hub, conversationRepo, profileRepo, messageSync, sender, tokens, cfg.TypingTimeout, logger)
	presenceWS := ws.NewPresenceSocket(hub, aggregator, broker, profileRepo, tokens, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations", authMiddleware, conversationHandler.StartConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.PostMessage)
	router.POST("/conversations/:conversation_id/messages/:message_id/read", authMiddleware, conversationHandler.MarkRead)
	router.GET("/mentions", authMiddleware, mentionHandler.Search)
	router.POST("/media/uploads", authMiddleware, mediaHandler.CreateUpload)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)
	router.GET("/ws/presence", presenceWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, registry, cfg.EnableDebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	// Shutdown leaves hijacked websocket connections alone.
	hub.Close()
}
