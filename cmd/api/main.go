package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/talentflow/bulkops-engine/internal/cancel"
	"github.com/talentflow/bulkops-engine/internal/config"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/handler"
	"github.com/talentflow/bulkops-engine/internal/infra/postgresql"
	"github.com/talentflow/bulkops-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/talentflow/bulkops-engine/internal/infra/redis"
	"github.com/talentflow/bulkops-engine/internal/observability"
	"github.com/talentflow/bulkops-engine/internal/processor"
	"github.com/talentflow/bulkops-engine/internal/queue"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"github.com/talentflow/bulkops-engine/internal/service"
	"github.com/talentflow/bulkops-engine/internal/storage"
	"github.com/talentflow/bulkops-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	operationRepo := repository.NewGormOperationRepo(db)
	itemRepo := repository.NewGormItemRepo(db)

	canceller, err := cancel.NewRedisController(operationRepo, rdb)
	if err != nil {
		logger.Fatal("cancellation controller init failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.Error(err))
	}

	registry, err := buildProcessorRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("processor registry init failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.ItemConcurrency, logger)

	metrics := observability.NewMetrics()

	operationService, err := service.NewOperationService(operationRepo, itemRepo, canceller, publisher, logger)
	if err != nil {
		logger.Fatal("operation service init failed", zap.Error(err))
	}
	operationService.SetMetrics(metrics)

	executor, err := service.NewExecutorService(
		operationRepo,
		itemRepo,
		consumer,
		registry,
		canceller,
		rateLimiter,
		cfg.ExecutorConcurrency,
		cfg.ItemConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("executor init failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	staleAfter := time.Duration(cfg.StaleTimeoutSec) * time.Second
	reaper, err := service.NewReaper(operationRepo, itemRepo, publisher, staleAfter/4, staleAfter, logger)
	if err != nil {
		logger.Fatal("reaper init failed", zap.Error(err))
	}
	reaper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "bulkops-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterOperationRoutes(app, operationService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return executor.Start(groupCtx)
	})

	g.Go(func() error {
		return reaper.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && groupCtx.Err() == nil {
		logger.Fatal("engine terminated", zap.Error(err))
	}

	logger.Info("engine stopped")
}

// buildProcessorRegistry wires every operation type to its side-effect
// implementation. The export processor is registered only when an artifact
// bucket is configured; submitting bulk_export without one fails the
// operation with a clear reason instead of failing every item.
func buildProcessorRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*processor.Registry, error) {
	api, err := processor.NewDashboardClient(cfg.DashboardAPIURL)
	if err != nil {
		return nil, err
	}

	registry := processor.NewRegistry()
	if err := registry.Register(domain.TypeBulkEmail, processor.NewEmailProcessor(api)); err != nil {
		return nil, err
	}
	if err := registry.Register(domain.TypeBulkStatusUpdate, processor.NewStatusUpdateProcessor(api)); err != nil {
		return nil, err
	}
	if err := registry.Register(domain.TypeBulkInterviewSchedule, processor.NewInterviewScheduleProcessor(api)); err != nil {
		return nil, err
	}
	if err := registry.Register(domain.TypeBulkEnrichment, processor.NewEnrichmentProcessor(api)); err != nil {
		return nil, err
	}

	if !cfg.ExportEnabled() {
		logger.Warn("export bucket not configured, bulk_export disabled")
		return registry, nil
	}

	store, err := storage.NewS3Store(ctx, cfg.ExportAccessKey, cfg.ExportSecretKey, cfg.ExportBucket, cfg.ExportRegion)
	if err != nil {
		return nil, err
	}
	exporter, err := processor.NewExportProcessor(api, store)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(domain.TypeBulkExport, exporter); err != nil {
		return nil, err
	}

	return registry, nil
}
