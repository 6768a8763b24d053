package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/config"
	"github.com/cuongbtq/offer-ingest/internal/extraction"
	"github.com/cuongbtq/offer-ingest/internal/ingest"
	ingeststorage "github.com/cuongbtq/offer-ingest/internal/ingest/storage"
	"github.com/cuongbtq/offer-ingest/internal/offercache"
	"github.com/cuongbtq/offer-ingest/internal/prompt"
	"github.com/cuongbtq/offer-ingest/internal/worker"
	workerstorage "github.com/cuongbtq/offer-ingest/internal/worker/storage"
	"github.com/cuongbtq/offer-ingest/shared/logger"
	"github.com/cuongbtq/offer-ingest/shared/postgresql"
	"github.com/cuongbtq/offer-ingest/shared/rabbitmq"
	"github.com/cuongbtq/offer-ingest/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initPostgreSQL(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	var cache worker.CacheInvalidator
	if cfg.Redis.URL != "" {
		redisClient, err := redis.NewClient(ctx, &redis.Config{URL: cfg.Redis.URL}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()

		cache = offercache.New(redisClient, cfg.Redis.TTL, appLogger.Component("offercache"))
	}

	db := dbClient.GetDB()
	storage := workerstorage.NewStorage(db, appLogger.Component("worker-storage"))

	pipeline := ingest.NewPipeline(&ingest.Config{
		Logger:      appLogger.Component("ingest"),
		Store:       ingeststorage.NewStore(db, appLogger.Component("ingest-storage")),
		PayloadKey:  cfg.Ingest.PayloadKey,
		MaxParallel: cfg.Ingest.MaxParallel,
	})

	extractor, err := extraction.NewClient(ctx, &extraction.Config{
		Endpoint:    cfg.Extraction.Endpoint,
		APIKey:      cfg.Extraction.APIKey,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.Timeout,
	}, appLogger.Component("extraction"))
	if err != nil {
		return fmt.Errorf("failed to initialize extraction client: %w", err)
	}
	defer extractor.Close()

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		Storage:           storage,
		Broker:            rabbitClient,
		Extractor:         extractor,
		Ingester:          pipeline,
		Prompts:           prompt.NewBuilder(cfg.Ingest.PayloadKey),
		Cache:             cache,
		WorkerID:          cfg.RabbitMQ.Consumer.Tag,
		Concurrency:       cfg.Worker.Concurrency,
		DefaultTimeout:    cfg.Worker.DefaultTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	reaper := worker.NewReaper(&worker.ReaperConfig{
		Logger:     appLogger.Logger,
		Storage:    storage,
		Publisher:  rabbitClient,
		Schedule:   cfg.Reaper.Schedule,
		StaleAfter: cfg.Reaper.StaleAfter,
	})
	if err := reaper.Start(ctx); err != nil {
		return err
	}
	defer reaper.Stop()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerInstance.ID()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error", slog.Any("error", runErr))
	}

	// stop accepting messages; in-flight requests get the shutdown timeout
	cancel()

	if err := workerInstance.Stop(cfg.Worker.ShutdownTimeout); err != nil {
		appLogger.Warn("Worker shutdown incomplete", slog.String("error", err.Error()))
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		DSN:             cfg.Database.DSN(),
		ApplicationName: cfg.App.Name + "-worker",
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectInterval: cfg.Database.ConnectInterval,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		URL:                cfg.URL(),
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		ConsumerExclusive:  cfg.Consumer.Exclusive,
	}, logger)
}
