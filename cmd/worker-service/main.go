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

	"github.com/joho/godotenv"
	"github.com/noatgnu/UniprotWebParser/internal/config"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	"github.com/noatgnu/UniprotWebParser/internal/journal"
	"github.com/noatgnu/UniprotWebParser/internal/worker"
	"github.com/noatgnu/UniprotWebParser/shared/logger"
	"github.com/noatgnu/UniprotWebParser/shared/postgresql"
	"github.com/noatgnu/UniprotWebParser/shared/rabbitmq"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
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

	resolvers, err := cfg.Resolvers(appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize UniProt clients: %w", err)
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	// Initialize the optional PostgreSQL journal
	var dbClient *postgresql.Client
	var recorder idmapping.Recorder
	if cfg.Database.Enabled {
		var j *journal.Journal
		dbClient, j, err = initJournal(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		recorder = j

		appLogger.Info("Mapping journal enabled")
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		if dbClient != nil {
			dbClient.Close()
		}
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:           appLogger.Logger,
		Broker:           rabbitClient,
		Resolvers:        resolvers,
		Recorder:         recorder,
		Strategy:         strategy,
		Defaults:         cfg.Selection(),
		DefaultFormat:    cfg.Mapping.Format,
		BatchSize:        cfg.Mapping.BatchSize,
		RequestQueue:     cfg.RabbitMQ.Queue.Name,
		ResultRoutingKey: cfg.RabbitMQ.ResultRoutingKey,
		Concurrency:      cfg.Worker.Concurrency,
		PrefetchCount:    cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:       cfg.Worker.JobTimeout,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		cancel()
		workerInstance.Stop()
		rabbitClient.Close()
		if dbClient != nil {
			dbClient.Close()
		}
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initJournal connects to PostgreSQL and prepares the journal table
func initJournal(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, *journal.Journal, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbClient, err := postgresql.NewClient(ctx, dbConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	j := journal.New(dbClient.GetDB(), logger)
	if err := j.EnsureSchema(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	return dbClient, j, nil
}

// initRabbitMQ initializes the RabbitMQ client and declares the request and
// result queues
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues: []rabbitmq.QueueBinding{
			{
				Name:       cfg.Queue.Name,
				RoutingKey: cfg.RoutingKey,
				Durable:    cfg.Queue.Durable,
				AutoDelete: cfg.Queue.AutoDelete,
				Exclusive:  cfg.Queue.Exclusive,
			},
			{
				Name:       cfg.ResultQueue.Name,
				RoutingKey: cfg.ResultRoutingKey,
				Durable:    cfg.ResultQueue.Durable,
				AutoDelete: cfg.ResultQueue.AutoDelete,
				Exclusive:  cfg.ResultQueue.Exclusive,
			},
		},
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
