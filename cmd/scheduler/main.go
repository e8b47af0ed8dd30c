/**
 * @description
 * This is the main entry point for the arcdrop scheduler.
 * It is a non-HTTP, long-running process that enqueues due subscription renewals and
 * fails stale PENDING tips on a cron schedule. Renewal charges themselves run in the
 * API process, which consumes the subscription.renewal.due events.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ValenciaLim/arcdrop/internal/app"
	"github.com/ValenciaLim/arcdrop/internal/config"
	"github.com/ValenciaLim/arcdrop/internal/metrics"
	"github.com/ValenciaLim/arcdrop/internal/scheduler"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	// Load application configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// The scheduler runs a handful of batch queries; keep the pool small.
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Renewal events are the scheduler's only output, so the broker is required.
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("unable to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Initialize dependencies
	recorder := metrics.NewNoopRecorder()
	repository := store.NewPostgresRepository(dbpool)
	reconciler := app.NewService(repository, nil, nil, nil, nil, producer, recorder, logger, app.Options{
		EventsExchange:    cfg.EventsExchange,
		PendingTipTimeout: cfg.PendingTipTimeout(),
		BatchSize:         cfg.RenewalBatchSize,
	})
	jobs := scheduler.NewJobs(repository, reconciler, producer, recorder, logger, scheduler.JobsConfig{
		EventsExchange: cfg.EventsExchange,
		BatchSize:      cfg.RenewalBatchSize,
	})
	cron := scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
		Renewals:     cfg.RenewalJobSchedule,
		TipReconcile: cfg.TipReconcileJobSchedule,
	})
	if err := cron.Register(); err != nil {
		logger.Error("failed to register jobs", "error", err)
		os.Exit(1)
	}

	// Start the cron scheduler in the background
	cron.Start()
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := cron.Stop()
	<-stopCtx.Done() // Wait for running jobs to finish
	logger.Info("scheduler stopped gracefully")
}
