package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/noatgnu/UniprotWebParser/internal/api/handler"
	"github.com/noatgnu/UniprotWebParser/internal/api/router"
	"github.com/noatgnu/UniprotWebParser/internal/config"
	"github.com/noatgnu/UniprotWebParser/internal/fields"
	"github.com/noatgnu/UniprotWebParser/internal/journal"
	"github.com/noatgnu/UniprotWebParser/shared/logger"
	"github.com/noatgnu/UniprotWebParser/shared/postgresql"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
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

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("uniprot", cfg.UniProt.BaseURL),
	)

	resolvers, err := cfg.Resolvers(appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize UniProt clients: %w", err)
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	deps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		Catalog:        fields.Default(),
		Resolvers:      resolvers,
		Strategy:       strategy,
		Defaults:       cfg.Selection(),
		DefaultFormat:  cfg.Mapping.Format,
		BatchSize:      cfg.Mapping.BatchSize,
		MaxIdentifiers: cfg.Server.MaxIdentifiers,
	}

	// Initialize the optional PostgreSQL journal
	var dbClient *postgresql.Client
	if cfg.Database.Enabled {
		var j *journal.Journal
		dbClient, j, err = initJournal(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		deps.Recorder = j
		deps.Runs = j
		deps.Database = dbClient

		appLogger.Info("Mapping journal enabled")
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
