package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dunning-engine/internal/analytics"
	"github.com/kursadbilgin/dunning-engine/internal/config"
	"github.com/kursadbilgin/dunning-engine/internal/gateway"
	"github.com/kursadbilgin/dunning-engine/internal/handler"
	"github.com/kursadbilgin/dunning-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/dunning-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/dunning-engine/internal/infra/redis"
	"github.com/kursadbilgin/dunning-engine/internal/notify"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"github.com/kursadbilgin/dunning-engine/internal/queue"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/kursadbilgin/dunning-engine/internal/scheduler"
	"github.com/kursadbilgin/dunning-engine/internal/service"
	"github.com/kursadbilgin/dunning-engine/internal/token"
	"github.com/kursadbilgin/dunning-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	// Stores.
	attempts := repository.NewGormAttemptRepo(db)
	billing := repository.NewGormBillingRepo(db)
	analyticsRepo := repository.NewGormAnalyticsRepo(db)
	configRepo := repository.NewGormConfigRepo(db)
	access := repository.NewGormAccessManager(db)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.GatewayRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	slotCache, err := infraredis.NewSlotCache(rdb, cfg.SlotCacheTTL)
	if err != nil {
		logger.Fatal("slot cache initialization failed", zap.Error(err))
	}

	// Outbound adapters.
	stripe, err := gateway.NewStripeProcessor(gateway.StripeConfig{
		SecretKey:          cfg.StripeSecretKey,
		APIURL:             cfg.StripeAPIURL,
		PaymentLinkBaseURL: cfg.PaymentLinkBaseURL,
		Timeout:            cfg.GatewayTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("stripe gateway initialization failed", zap.Error(err))
	}
	processor, err := gateway.NewExecutor(stripe, cfg.GatewayTimeout)
	if err != nil {
		logger.Fatal("payment executor initialization failed", zap.Error(err))
	}
	notifier, err := notify.NewWebhookNotifier(cfg.NotifierWebhookURL)
	if err != nil {
		logger.Fatal("notifier initialization failed", zap.Error(err))
	}
	issuer, err := token.NewIssuer(cfg.CardUpdateSecret, cfg.CardUpdateBaseURL)
	if err != nil {
		logger.Fatal("card update token issuer initialization failed", zap.Error(err))
	}

	// Dunning core.
	store, err := analytics.NewStore(analyticsRepo, billing, slotCache, location, cfg.BestSlotsLimit, logger)
	if err != nil {
		logger.Fatal("analytics store initialization failed", zap.Error(err))
	}
	holidays, err := scheduler.NewFixedCalendar(cfg.Holidays())
	if err != nil {
		logger.Fatal("invalid holiday calendar", zap.Error(err))
	}
	retryScheduler := scheduler.NewRetryScheduler(store, holidays, location, cfg.RNGSeed, logger)

	configs, err := service.NewConfigProvider(configRepo, cfg.ConfigCacheTTL, logger)
	if err != nil {
		logger.Fatal("config provider initialization failed", zap.Error(err))
	}
	dispatcher, err := service.NewNotificationDispatcher(notifier, billing, attempts, issuer, logger)
	if err != nil {
		logger.Fatal("notification dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	terminal, err := service.NewTerminalActionHandler(billing, access, dispatcher, logger)
	if err != nil {
		logger.Fatal("terminal action handler initialization failed", zap.Error(err))
	}
	terminal.SetMetrics(metrics)

	engine, err := service.NewRetryEngine(service.RetryEngineDeps{
		Attempts:   attempts,
		Billing:    billing,
		Configs:    configs,
		Scheduler:  retryScheduler,
		Analytics:  store,
		Processor:  processor,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Terminal:   terminal,
		Verifier:   issuer,
	}, cfg.WorkerConcurrency, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("retry engine initialization failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	sweeper, err := service.NewReconcileSweeper(attempts, cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.MaxReclaims, logger)
	if err != nil {
		logger.Fatal("reconcile sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := []handler.Check{
		{Name: "postgres", Ping: sqlDB.PingContext},
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	g, groupCtx := errgroup.WithContext(ctx)

	if cfg.QueueMode() {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer mq.Close()
		checks = append(checks, handler.Check{Name: "rabbitmq", Ping: mq.Ping})

		guard, err := infraredis.NewEnqueueGuard(rdb, cfg.RunInterval)
		if err != nil {
			logger.Fatal("enqueue guard initialization failed", zap.Error(err))
		}
		scanner, err := service.NewRetryScanner(attempts, queue.NewRabbitMQPublisher(mq), guard, cfg.RunInterval, cfg.ScanLimit, logger)
		if err != nil {
			logger.Fatal("retry scanner initialization failed", zap.Error(err))
		}
		workers, err := service.NewWorkerService(queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger), engine, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("worker service initialization failed", zap.Error(err))
		}

		g.Go(func() error { return scanner.Start(groupCtx) })
		g.Go(func() error { return workers.Start(groupCtx) })
	} else {
		runner, err := service.NewRunner(engine, cfg.RunInterval, logger)
		if err != nil {
			logger.Fatal("retry runner initialization failed", zap.Error(err))
		}
		g.Go(func() error { return runner.Start(groupCtx) })
	}
	g.Go(func() error { return sweeper.Start(groupCtx) })

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterOpsRoutes(app, metrics.Handler(), checks...)

	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("ops server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("dunning-engine started",
		zap.String("dispatchMode", cfg.DispatchMode),
		zap.Int("port", cfg.APIPort),
		zap.Int("workerConcurrency", cfg.WorkerConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dunning-engine stopped with error", zap.Error(err))
		return
	}
	logger.Info("dunning-engine stopped")
}
