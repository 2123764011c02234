/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection pool, the Redis rate limiter, the RabbitMQ producer,
 * the repository, the core application service, the cron scheduler, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/billing-service/internal/api"
	"github.com/transfa/billing-service/internal/app"
	"github.com/transfa/billing-service/internal/config"
	"github.com/transfa/billing-service/internal/store"
	"github.com/transfa/billing-service/pkg/rabbitmq"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting billing-service", "port", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind pgbouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// The RabbitMQ producer is optional: without it, applied transitions are
	// simply not broadcast.
	var producer app.EventPublisher
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, app.EventsExchange)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; event publishing disabled", "error", err)
		} else {
			defer rabbitProducer.Close()
			producer = rabbitProducer
			logger.Info("rabbitmq producer connected")
		}
	}

	// Redis is optional: without it, rate limiting is disabled.
	var limiter app.RateLimiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; rate limiting disabled", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed; rate limiting disabled", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, "")
				logger.Info("redis connected")
			}
		}
	}

	repository := store.NewPostgresRepository(dbpool)

	billingService := app.NewService(
		repository,
		limiter,
		producer,
		logger,
		cfg.APIKeyRateLimit,
		time.Duration(cfg.APIKeyRateWindowSeconds)*time.Second,
	)

	// Start the subscription expiry scheduler.
	jobs := app.NewJobs(repository, producer, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	handlers := api.NewHandlers(billingService, logger)
	webhookHandler := api.NewWebhookHandler(billingService, cfg.BillingWebhookSecret, logger)
	router := api.BillingRoutes(handlers, webhookHandler, cfg.AuthJWTSecret, cfg.AuthJWTIssuer, billingService)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()

	logger.Info("shutdown complete")
}
