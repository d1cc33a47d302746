package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopstream/commerce-core/internal/application/inventory"
	"github.com/shopstream/commerce-core/internal/application/order"
	"github.com/shopstream/commerce-core/internal/application/payment"
	"github.com/shopstream/commerce-core/internal/config"
	"github.com/shopstream/commerce-core/internal/infrastructure/postgres"
	"github.com/shopstream/commerce-core/internal/infrastructure/redisstream"
	"github.com/shopstream/commerce-core/internal/infrastructure/taskqueue"
	"github.com/shopstream/commerce-core/internal/logger"
	"github.com/shopstream/commerce-core/internal/monitoring"
	"github.com/shopstream/commerce-core/internal/outbox"
	opshttp "github.com/shopstream/commerce-core/internal/transport/http"
	"github.com/shopstream/commerce-core/internal/worker"
)

func main() {
	logger.Init()
	log := logger.Component("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	log.Info().Str("env", cfg.AppEnv).Str("service", cfg.ServiceName).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres
	pool, err := postgres.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	db := postgres.NewDB(pool)
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema ensure failed")
	}

	// --- Redis (broker + task queue)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}

	// --- Repositories and outbox
	outboxStore := postgres.NewOutboxStore(db)
	orderRepo := postgres.NewOrderRepo(db)
	variantRepo := postgres.NewVariantRepo(db)
	reservationRepo := postgres.NewReservationRepo(db)
	paymentRepo := postgres.NewPaymentRepo(db)

	broker := redisstream.New(rdb, logger.Logger)
	publisher := outbox.NewPublisher(outboxStore, broker, outbox.PublisherConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
	}, logger.Logger)

	// --- Application services
	orderSvc := order.NewService(db, orderRepo, variantRepo, outboxStore, cfg.ServiceName, logger.Logger)

	defaultStrategy := inventory.Strategy(cfg.Inventory.DefaultStrategy)
	inventorySvc := inventory.NewService(db, variantRepo, reservationRepo,
		inventory.FixedExperiments{Default: defaultStrategy}, outboxStore,
		inventory.Config{
			ReservationTTL:    cfg.Inventory.ReservationTTL,
			OptimisticRetries: cfg.Inventory.OptimisticRetries,
		}, cfg.ServiceName, logger.Logger)

	providerSecret := os.Getenv("MOCK_PROVIDER_SECRET")
	if providerSecret == "" {
		providerSecret = "dev-secret"
	}
	providers := payment.ProviderRegistry{
		"mock": payment.NewMockProvider("mock", providerSecret),
	}
	paymentSvc := payment.NewService(db, paymentRepo, orderRepo, orderSvc, providers,
		outboxStore, cfg.ServiceName, logger.Logger)
	reconciler := payment.NewReconciler(db, paymentRepo, orderSvc, providers,
		outboxStore, cfg.ServiceName, logger.Logger)

	// --- Task queues and workers
	queues := taskqueue.New(rdb, []string{
		worker.QueueWebhookRetry,
		worker.QueueReconciliation,
		worker.QueueSearchIndexing,
	})
	dlq := taskqueue.NewDLQ(queues)

	webhookRetrier := worker.NewWebhookRetrier(queues, paymentSvc, taskqueue.EnqueueOptions{
		MaxAttempts: cfg.Payment.WebhookMaxAttempts,
		BackoffBase: cfg.Payment.WebhookRetryBase,
		BackoffCap:  cfg.Payment.WebhookRetryCap,
	}, logger.Logger)

	searchIndexer := worker.NewSearchIndexer(queues, worker.NewMemorySearchIndex(), db,
		outboxStore, taskqueue.EnqueueOptions{MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: 30 * time.Second},
		cfg.ServiceName, logger.Logger)

	searchBridge := worker.NewSearchBridge(searchIndexer,
		worker.NewDeduper(rdb, "search-bridge", 24*time.Hour), logger.Logger)
	streamConsumer := redisstream.NewConsumer(rdb, "search-bridge", hostname(),
		searchBridge.Topics(), logger.Logger)
	if err := streamConsumer.EnsureGroups(ctx); err != nil {
		log.Fatal().Err(err).Msg("consumer group setup failed")
	}

	reconcileScheduler := worker.NewReconcileScheduler(queues, 5*time.Minute, 100, logger.Logger)

	// --- Monitoring and ops surface
	monitor := monitoring.NewQueueMonitor(queues, monitoring.Thresholds{
		Waiting: cfg.Monitoring.WarnWaiting,
		Failed:  cfg.Monitoring.WarnFailed,
		Delayed: cfg.Monitoring.WarnDelayed,
	}, cfg.Monitoring.PollInterval, logger.Logger)

	health := monitoring.NewHealthRegistry()
	health.Register("postgres", monitoring.PingChecker(db.Ping))
	health.Register("broker", monitoring.PingChecker(broker.Ping))
	health.Register("taskqueue", monitoring.PingChecker(queues.Ping))
	health.Register("queues", monitor.Checker())

	opsServer := opshttp.NewServer(health, monitor, dlq, outboxStore, cfg.Outbox.MaxAttempts, logger.Logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: opsServer.Router(),
	}

	// --- Start everything
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug().Str("task", name).Msg("task exited")
		}()
	}

	start("outbox_publisher", publisher.Run)
	start("outbox_gauge", func(ctx context.Context) { publisher.RunBacklogGauge(ctx, cfg.Monitoring.PollInterval) })
	start("reservation_sweeper", func(ctx context.Context) { inventorySvc.RunSweeper(ctx, cfg.Inventory.SweepInterval) })
	start("queue_monitor", monitor.Run)
	start("reconcile_scheduler", reconcileScheduler.Run)
	start("stream_consumer", func(ctx context.Context) { streamConsumer.Run(ctx, searchBridge.Handle) })

	start("webhook_consumer", taskqueue.NewConsumer(queues, taskqueue.ConsumerConfig{
		Queue:       worker.QueueWebhookRetry,
		Concurrency: cfg.Payment.WebhookConcurrency,
		Observe:     monitoring.RecordJobProcessed,
	}, webhookRetrier.Handler(), logger.Logger).Run)

	start("reconcile_consumer", taskqueue.NewConsumer(queues, taskqueue.ConsumerConfig{
		Queue:        worker.QueueReconciliation,
		Concurrency:  cfg.Payment.ReconcileConcurrency,
		RateInterval: time.Minute / time.Duration(max(cfg.Payment.ReconcileRatePerMin, 1)),
		Observe:      monitoring.RecordJobProcessed,
	}, worker.ReconcileHandler(reconciler, logger.Logger), logger.Logger).Run)

	start("search_consumer", taskqueue.NewConsumer(queues, taskqueue.ConsumerConfig{
		Queue:        worker.QueueSearchIndexing,
		Concurrency:  cfg.Search.Concurrency,
		RateInterval: time.Second / time.Duration(max(cfg.Search.RatePerSec, 1)),
		Observe:      monitoring.RecordJobProcessed,
	}, searchIndexer.Handler(), logger.Logger).Run)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("ops server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()

	// --- Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown failed")
	}

	cancel()
	wg.Wait()
	log.Info().Msg("stopped")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}
