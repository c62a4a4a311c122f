package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-chat/internal/config"
	"relay-chat/internal/gateway"
	"relay-chat/internal/handler"
	"relay-chat/internal/middleware"
	"relay-chat/internal/queue"
	"relay-chat/internal/redis"
	"relay-chat/internal/repository"
	"relay-chat/internal/services"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const presenceSweepInterval = time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Server.Environment)
	defer log.Sync()
	logger.SetGlobalLogger(log)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Errorf("api: connect database: %v", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Errorf("api: migrate: %v", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redis.Ping(ctx, rdb); err != nil {
		log.Errorf("api: redis ping: %v", err)
		os.Exit(1)
	}

	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	presence := redis.NewPresenceStore(rdb, 0)
	cache := redis.NewCacheStore(rdb, redis.DefaultCacheConfig())
	limiter := redis.NewRateLimiter(rdb, redis.DefaultRateLimitConfig())
	publisher := redis.NewPublisher(rdb)
	subscriber := redis.NewSubscriber(rdb)
	ingress := queue.NewRedisStreamQueue(rdb, log)
	defer ingress.Close()

	hub := gateway.NewHub()
	go hub.Run(ctx)

	authService := services.NewAuthService(cfg.Auth.JWTSecret)
	gw := gateway.NewGateway(hub, presence, ingress, cache, limiter, publisher, conversationRepo, messageRepo, nil, log)
	deliveryService := services.NewDeliveryService(deliveryRepo, messageRepo, cache, gw, log)
	gw.SetDeliveryTracker(deliveryService)
	notificationService := services.NewNotificationService(notificationRepo, cache, gw, log)

	bridge := gateway.NewRedisBridge(subscriber, hub)
	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("api: redis bridge: %v", err)
		}
	}()

	go sweepStalePresence(ctx, presence, log)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.ErrorHandler(log))

	wsHandler := gateway.NewHandler(authService, gw, log)
	router.GET("/ws", wsHandler.Connect)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	handler.NewNotificationHandler(notificationService).RegisterRoutes(api)
	handler.NewReceiptHandler(deliveryService, messageRepo, conversationRepo).RegisterRoutes(api)
	handler.NewPresenceHandler(presence).RegisterRoutes(api)
	handler.NewOpsHandler(ingress).RegisterRoutes(api)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Infof("api: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("api: serve: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("api: shutdown: %v", err)
	}
}

// sweepStalePresence evicts sockets whose owner process died without
// unregistering, so presence converges even after crashes.
func sweepStalePresence(ctx context.Context, presence *redis.PresenceStore, log *logger.Logger) {
	ticker := time.NewTicker(presenceSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := presence.CleanupStale(ctx, 3*presenceSweepInterval)
			if err != nil {
				log.Warnf("api: presence sweep: %v", err)
				continue
			}
			if removed > 0 {
				log.Infof("api: presence sweep evicted %d stale users", removed)
			}
		}
	}
}
