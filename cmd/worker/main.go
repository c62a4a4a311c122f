package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"relay-chat/internal/config"
	"relay-chat/internal/queue"
	"relay-chat/internal/redis"
	"relay-chat/internal/repository"
	"relay-chat/internal/services"
	"relay-chat/internal/worker"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"

	"github.com/joho/godotenv"
)

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
		log.Errorf("worker: connect database: %v", err)
		os.Exit(1)
	}
	defer database.Close(db)

	rdb := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redis.Ping(ctx, rdb); err != nil {
		log.Errorf("worker: redis ping: %v", err)
		os.Exit(1)
	}

	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	presence := redis.NewPresenceStore(rdb, 0)
	cache := redis.NewCacheStore(rdb, redis.DefaultCacheConfig())
	publisher := redis.NewPublisher(rdb)
	ingress := queue.NewRedisStreamQueue(rdb, log)
	defer ingress.Close()

	pusher := services.NewChannelPusher(presence, publisher)
	conversationService := services.NewConversationService(conversationRepo)
	deliveryService := services.NewDeliveryService(deliveryRepo, messageRepo, cache, pusher, log)
	notificationService := services.NewNotificationService(notificationRepo, cache, pusher, log)

	persistence := worker.NewPersistenceWorker(
		conversationService,
		messageRepo,
		conversationRepo,
		deliveryService,
		pusher,
		ingress,
		log,
	)
	notifications := worker.NewNotificationConsumer(notificationService, log)

	opts := queue.ConsumeOptions{
		Prefetch:      cfg.Queue.Prefetch,
		RetryAttempts: cfg.Queue.RetryAttempts,
		RetryDelay:    cfg.Queue.RetryDelay,
		Group:         cfg.Queue.Group,
		Consumer:      cfg.Queue.Consumer,
	}

	var wg sync.WaitGroup
	consume := func(class string, handler queue.Handler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ingress.Consume(ctx, class, handler, opts); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("worker: consume %s: %v", class, err)
				stop()
			}
		}()
	}

	log.Infof("worker: consuming as %s/%s", cfg.Queue.Group, cfg.Queue.Consumer)
	consume(queue.ClassMessages, persistence.Handle)
	consume(queue.ClassNotifications, notifications.Handle)

	<-ctx.Done()
	wg.Wait()
	log.Infof("worker: drained, exiting")
}
