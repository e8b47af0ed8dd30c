/**
 * @description
 * This is the main entry point for the arcdrop API. It is responsible for
 * initializing all components of the service, including configuration, the database
 * connection pool, the custody provider, message brokers, Redis, the core application
 * service, and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiting and idempotency keys on /pay.
 * - github.com/shopspring/decimal: USDC amounts are rendered as JSON numbers.
 * - internal/api, internal/app, internal/config, internal/store, internal/wallet: Internal packages.
 * - pkg/circleclient, pkg/rabbitmq: Clients for Circle and RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/api"
	"github.com/ValenciaLim/arcdrop/internal/app"
	"github.com/ValenciaLim/arcdrop/internal/bridge"
	"github.com/ValenciaLim/arcdrop/internal/config"
	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/gasless"
	"github.com/ValenciaLim/arcdrop/internal/metrics"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/internal/wallet"
	"github.com/ValenciaLim/arcdrop/pkg/circleclient"
	"github.com/ValenciaLim/arcdrop/pkg/rabbitmq"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply the database schema before serving")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Amounts go over the wire as numbers, matching what the web client sends.
	decimal.MarshalJSONWithoutQuotes = true

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	if *migrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema applied")
	}

	var producer rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		logger.Info("rabbitmq producer connected")
	}

	redisClient := connectRedis(logger, cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	recorder := metrics.NewPrometheusRecorder()
	repository := store.NewPostgresRepository(dbpool)
	provider, transferer := walletBackends(cfg, repository, recorder, logger)

	sessions, err := gasless.NewIssuer(cfg.GaslessSigningKey, 0)
	if err != nil {
		logger.Error("failed to initialise gasless session issuer", "error", err)
		os.Exit(1)
	}

	service := app.NewService(
		repository,
		provider,
		transferer,
		sessions,
		bridge.NewStub(),
		producer,
		recorder,
		logger,
		app.Options{
			EventsExchange:    cfg.EventsExchange,
			ProviderTimeout:   cfg.ProviderTimeout(),
			PendingTipTimeout: cfg.PendingTipTimeout(),
			BatchSize:         cfg.RenewalBatchSize,
			Modular:           modularSettings(cfg),
		},
	)

	// Scheduled renewals arrive through the broker; without it they are not processed.
	if consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq consumer unavailable; subscription renewals disabled", "error", err)
	} else {
		defer consumer.Close()
		renewals := app.NewRenewalConsumer(service, logger)
		bindings := map[string]rabbitmq.Handler{
			domain.EventSubscriptionRenewalDue: renewals.HandleMessage,
		}
		if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.RenewalQueue, bindings); err != nil {
			logger.Error("renewal consumer start failed", "error", err)
			os.Exit(1)
		}
		logger.Info("renewal consumer started", "queue", cfg.RenewalQueue)
	}

	var (
		limiter     *app.RedisRateLimiter
		idempotency *app.RedisIdempotencyStore
	)
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
		idempotency = app.NewRedisIdempotencyStore(redisClient, cfg.RedisKeyPrefix, cfg.IdempotencyTTL())
	}

	handlers := api.NewHandlers(service, rateLimiterOrNil(limiter), cfg.PayRateLimitPerMinute, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		MetricsHandler: recorder.Handler(),
		Idempotency:    idempotencyOrNil(idempotency),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// connectRedis returns nil when Redis is not configured or unreachable, which disables
// rate limiting and idempotency keys without blocking startup.
func connectRedis(logger *slog.Logger, redisURL string) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; pay rate limiting and idempotency disabled", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; pay rate limiting and idempotency disabled", "error", err)
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; pay rate limiting and idempotency disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

// walletBackends picks Circle custody when credentials are present and the simulated
// ledger otherwise. Provisioning is wrapped with the placeholder fallback when enabled.
func walletBackends(cfg config.Config, repository *store.PostgresRepository, recorder metrics.Recorder, logger *slog.Logger) (wallet.Provider, wallet.Transferer) {
	var (
		provider   wallet.Provider
		transferer wallet.Transferer
	)
	if cfg.CircleConfigured() {
		client := circleclient.NewClient(cfg.CircleAPIBase, cfg.CircleAPIKey, cfg.ProviderTimeout())
		ciphertext := wallet.StaticCiphertext(cfg.CircleEntitySecretCiphertext)
		provider = wallet.NewCircleProvider(client, ciphertext, repository, cfg.CircleBlockchain, logger)
		transferer = wallet.NewCircleTransferer(client, ciphertext, cfg.CircleBlockchain)
		logger.Info("using circle developer-controlled wallets", "base_url", cfg.CircleAPIBase)
	} else {
		provider = wallet.NewSimulatedProvider(repository, logger)
		transferer = wallet.NewSimulatedTransferer(repository)
		logger.Warn("circle not configured; using simulated wallets and ledger")
	}

	if cfg.WalletFallbackEnabled {
		provider = wallet.NewFallbackProvider(provider, logger, func(network domain.Network) {
			recorder.WalletFallback(string(network))
		})
		logger.Warn("wallet fallback enabled; placeholder addresses may be issued when provisioning fails")
	}
	return provider, transferer
}

func modularSettings(cfg config.Config) app.ModularSettings {
	if !cfg.ModularConfigured() {
		return app.ModularSettings{}
	}
	return app.ModularSettings{
		ClientURL:    cfg.ModularClientURL,
		ClientKey:    cfg.ModularClientKey,
		DefaultChain: cfg.ModularDefaultChain,
	}
}

// The helpers below keep a nil pointer from becoming a non-nil interface.

func rateLimiterOrNil(limiter *app.RedisRateLimiter) api.RateLimiter {
	if limiter == nil {
		return nil
	}
	return limiter
}

func idempotencyOrNil(s *app.RedisIdempotencyStore) api.IdempotencyStore {
	if s == nil {
		return nil
	}
	return s
}
