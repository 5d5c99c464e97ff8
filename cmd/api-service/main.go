package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/taskbid/taskbid-backend/internal/api/handler"
	"github.com/taskbid/taskbid-backend/internal/api/router"
	"github.com/taskbid/taskbid-backend/internal/bidding"
	"github.com/taskbid/taskbid-backend/internal/cache"
	"github.com/taskbid/taskbid-backend/internal/config"
	"github.com/taskbid/taskbid-backend/internal/escrow"
	"github.com/taskbid/taskbid-backend/internal/event"
	"github.com/taskbid/taskbid-backend/internal/geo"
	"github.com/taskbid/taskbid-backend/internal/geosync"
	"github.com/taskbid/taskbid-backend/internal/lifecycle"
	"github.com/taskbid/taskbid-backend/internal/storage"
	"github.com/taskbid/taskbid-backend/shared/logger"
	"github.com/taskbid/taskbid-backend/shared/postgresql"
	"github.com/taskbid/taskbid-backend/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
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

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
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

	store := storage.NewStorage(dbClient, appLogger.Logger)
	bus := event.NewBus(appLogger.Logger)
	defer bus.Close()

	// Geo index + cache invalidation run against Redis unless the noop
	// profile is selected; the profile is fixed at startup.
	geoIndex := geo.Index(geo.NewNoopIndex())
	if cfg.Geo.Profile != "noop" {
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

		geoIndex = geo.NewRedisIndex(redisClient, cfg.Geo.IndexKey)
		bus.Subscribe(cache.NewInvalidator(redisClient, appLogger.Logger))
	}

	geoSyncSvc := geosync.NewService(store, geoIndex, appLogger.Logger, geosync.Config{
		MaxRetries: cfg.Geo.MaxRetries,
		BatchSize:  cfg.Geo.RetryBatchSize,
	})
	bus.Subscribe(geoSyncSvc)

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               cfg.RabbitMQ.Host,
			Port:               cfg.RabbitMQ.Port,
			User:               cfg.RabbitMQ.User,
			Password:           cfg.RabbitMQ.Password,
			VHost:              cfg.RabbitMQ.VHost,
			ExchangeName:       cfg.RabbitMQ.ExchangeName,
			ExchangeType:       cfg.RabbitMQ.ExchangeType,
			ExchangeDurable:    cfg.RabbitMQ.ExchangeDurable,
			RoutingKey:         cfg.RabbitMQ.RoutingKey,
			RetryAttempts:      cfg.RabbitMQ.RetryAttempts,
			RetryInterval:      cfg.RabbitMQ.RetryInterval,
			Heartbeat:          cfg.RabbitMQ.Heartbeat,
			PublishRetries:     cfg.RabbitMQ.PublishRetries,
			PublishRetryDelay:  cfg.RabbitMQ.PublishRetryDelay,
			PublishBackoffMult: cfg.RabbitMQ.PublishBackoffMult,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		bus.Subscribe(event.NewAMQPBridge(rabbitClient, appLogger.Logger))
	}

	lifecycleSvc := lifecycle.NewService(store, bus, appLogger.Logger)
	biddingSvc := bidding.NewService(store, bus, appLogger.Logger, cfg.Bidding.BloomCapacity, cfg.Bidding.BloomFPRate)
	escrowSvc := escrow.NewService(store, bus, appLogger.Logger, escrow.Config{
		CodeTTL:            cfg.Escrow.CodeTTL,
		MaxAttempts:        cfg.Escrow.MaxAttempts,
		RegenerateInterval: cfg.Escrow.RegenerateInterval,
	})

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(&handler.Dependencies{
		Logger:    appLogger.Logger,
		Lifecycle: lifecycleSvc,
		Bidding:   biddingSvc,
		Escrow:    escrowSvc,
		GeoSync:   geoSyncSvc,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	appLogger.Info("Shutting down API service...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	appLogger.Info("API service stopped")
	return nil
}
