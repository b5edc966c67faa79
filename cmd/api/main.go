package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/sitemap-engine/internal/artifact"
	"github.com/kursadbilgin/sitemap-engine/internal/config"
	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/kursadbilgin/sitemap-engine/internal/download"
	"github.com/kursadbilgin/sitemap-engine/internal/handler"
	"github.com/kursadbilgin/sitemap-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/sitemap-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/sitemap-engine/internal/infra/redis"
	"github.com/kursadbilgin/sitemap-engine/internal/notify"
	"github.com/kursadbilgin/sitemap-engine/internal/observability"
	"github.com/kursadbilgin/sitemap-engine/internal/queue"
	"github.com/kursadbilgin/sitemap-engine/internal/ratelimit"
	"github.com/kursadbilgin/sitemap-engine/internal/repository"
	"github.com/kursadbilgin/sitemap-engine/internal/service"
	"github.com/kursadbilgin/sitemap-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	uploadBodyLimit = 50 * 1024 * 1024
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		batches repository.BatchRepository
		sqlDB   *sql.DB
	)
	if cfg.PersistentBatches() {
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
		sqlDB, err = db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		defer sqlDB.Close()
		batches = repository.NewGormBatchRepo(db)
	} else {
		logger.Warn("DATABASE_DSN not set, batches are kept in memory")
		batches = repository.NewMemoryBatchRepo()
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	store, err := artifact.NewFSStore(cfg.StorageDir)
	if err != nil {
		logger.Fatal("storage initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	tracker, err := service.NewBatchTracker(batches, store, cfg.MaxFileRetries, logger)
	if err != nil {
		logger.Fatal("batch tracker initialization failed", zap.Error(err))
	}
	tracker.SetMetrics(metrics)

	if cfg.CompletionWebhookEnabled() {
		notifier, err := notify.NewWebhookNotifier(cfg.BatchWebhookURL)
		if err != nil {
			logger.Fatal("webhook notifier initialization failed", zap.Error(err))
		}
		tracker.SetNotifier(notifier)
	}

	var (
		broker    *queue.RabbitMQ
		publisher queue.Publisher
	)
	if cfg.AsyncEnabled() {
		broker, err = queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer broker.Close()
		publisher = queue.NewRabbitMQPublisher(broker)
	} else {
		logger.Warn("RABBITMQ_URL not set, async batch conversion is disabled")
	}

	conversions, err := service.NewConversionService(tracker, store, publisher, cfg.MaxConcurrentFiles, logger)
	if err != nil {
		logger.Fatal("conversion service initialization failed", zap.Error(err))
	}
	conversions.SetMetrics(metrics)

	sitemaps, err := service.NewSitemapService(tracker, store, domain.SitemapConfig{
		BaseURL: cfg.SitemapBaseURL,
		MaxURLs: cfg.SitemapMaxURLs,
	}, logger)
	if err != nil {
		logger.Fatal("sitemap service initialization failed", zap.Error(err))
	}
	sitemaps.SetMetrics(metrics)

	tokens, err := download.NewIssuer(rdb, cfg.DownloadTokenTTL)
	if err != nil {
		logger.Fatal("download issuer initialization failed", zap.Error(err))
	}

	janitor, err := service.NewJanitor(batches, tracker, store, cfg.JanitorInterval, cfg.JobTTL, logger)
	if err != nil {
		logger.Fatal("janitor initialization failed", zap.Error(err))
	}
	janitor.SetMetrics(metrics)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	h, err := handler.NewHandler(tracker, conversions, sitemaps, store, tokens, logger)
	if err != nil {
		logger.Fatal("handler initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "sitemap-engine",
		BodyLimit:             uploadBodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationIDMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterRoutes(app, h, ratelimit.Middleware(limiter, ratelimit.ClientIPKey, logger))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("sitemap-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api listener stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		return ignoreCanceled(janitor.Start(gctx))
	})

	if broker != nil {
		consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
		defer consumer.Close()

		worker, err := service.NewConversionWorker(conversions, consumer, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("conversion worker initialization failed", zap.Error(err))
		}
		g.Go(func() error {
			return ignoreCanceled(worker.Start(gctx))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("sitemap-engine stopped with error", zap.Error(err))
		return
	}
	logger.Info("sitemap-engine stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
