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

	"github.com/joho/godotenv"

	"github.com/taskbid/taskbid-backend/internal/config"
	"github.com/taskbid/taskbid-backend/internal/event"
	"github.com/taskbid/taskbid-backend/internal/geo"
	"github.com/taskbid/taskbid-backend/internal/geosync"
	"github.com/taskbid/taskbid-backend/internal/lifecycle"
	"github.com/taskbid/taskbid-backend/internal/lock"
	"github.com/taskbid/taskbid-backend/internal/storage"
	"github.com/taskbid/taskbid-backend/internal/sweeper"
	"github.com/taskbid/taskbid-backend/shared/logger"
	"github.com/taskbid/taskbid-backend/shared/postgresql"
	sharedredis "github.com/taskbid/taskbid-backend/shared/redis"
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

	defaultConfigPath := os.Getenv("SWEEPER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/sweeper-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateSweeperConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting sweeper service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := sharedredis.NewClient(&sharedredis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	store := storage.NewStorage(dbClient, appLogger.Logger)
	bus := event.NewBus(appLogger.Logger)
	defer bus.Close()

	geoIndex := geo.Index(geo.NewNoopIndex())
	if cfg.Geo.Profile != "noop" {
		geoIndex = geo.NewRedisIndex(redisClient, cfg.Geo.IndexKey)
	}

	geoSyncSvc := geosync.NewService(store, geoIndex, appLogger.Logger, geosync.Config{
		MaxRetries: cfg.Geo.MaxRetries,
		BatchSize:  cfg.Geo.RetryBatchSize,
	})
	bus.Subscribe(geoSyncSvc)

	lifecycleSvc := lifecycle.NewService(store, bus, appLogger.Logger)

	taskLock := lock.NewTaskLock(redisClient, appLogger.Logger)
	sw := sweeper.New(geoSyncSvc, lifecycleSvc, taskLock, appLogger.Logger, sweeper.Config{
		CleanupInterval: cfg.Sweeper.CleanupInterval,
		RetryInterval:   cfg.Sweeper.RetryInterval,
		ExpireInterval:  cfg.Sweeper.ExpireInterval,
		JobMaxAge:       cfg.Sweeper.JobMaxAge,
		ExpireBatchSize: cfg.Sweeper.ExpireBatchSize,
		LockTTL:         cfg.Sweeper.LockTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	appLogger.Info("Sweeper service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down sweeper service...")
	sw.Stop()

	appLogger.Info("Sweeper service stopped")
	return nil
}
