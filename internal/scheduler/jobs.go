/**
 * @description
 * Scheduled job implementations for the arcdrop scheduler process.
 *
 * - EnqueueDueRenewals publishes a subscription.renewal.due event for every ACTIVE
 *   subscription whose billing date has passed. The API process consumes them.
 * - ReconcilePendingTips fails tips stuck in PENDING after a crash mid-payment.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/metrics"
	"github.com/ValenciaLim/arcdrop/pkg/rabbitmq"
)

const (
	jobRenewals     = "enqueue_due_renewals"
	jobTipReconcile = "reconcile_pending_tips"

	defaultJobTimeout = 2 * time.Minute
)

// Repository defines database operations needed by the jobs.
type Repository interface {
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
}

// TipReconciler fails stale PENDING tips.
type TipReconciler interface {
	ReconcilePendingTips(ctx context.Context) (int, error)
}

// JobsConfig carries the knobs the jobs read.
type JobsConfig struct {
	EventsExchange string
	BatchSize      int
	Timeout        time.Duration
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo       Repository
	reconciler TipReconciler
	producer   rabbitmq.Publisher
	metrics    metrics.Recorder
	logger     *slog.Logger
	config     JobsConfig
	now        func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, reconciler TipReconciler, producer rabbitmq.Publisher, recorder metrics.Recorder, logger *slog.Logger, cfg JobsConfig) *Jobs {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventsExchange == "" {
		cfg.EventsExchange = "arcdrop.events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJobTimeout
	}
	return &Jobs{
		repo:       repo,
		reconciler: reconciler,
		producer:   producer,
		metrics:    recorder,
		logger:     logger,
		config:     cfg,
		now:        time.Now,
	}
}

// EnqueueDueRenewals is the cron entry point for the renewal job.
func (j *Jobs) EnqueueDueRenewals() {
	j.logger.Info("starting subscription renewal job")
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	enqueued, err := j.enqueueDueRenewals(ctx)
	if err != nil {
		j.metrics.JobRun(jobRenewals, "error")
		j.logger.Error("subscription renewal job failed", "enqueued", enqueued, "error", err)
		return
	}

	j.metrics.JobRun(jobRenewals, "success")
	j.logger.Info("subscription renewal job finished", "enqueued", enqueued)
}

func (j *Jobs) enqueueDueRenewals(ctx context.Context) (int, error) {
	due, err := j.repo.ListDueSubscriptions(ctx, j.now(), j.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		j.logger.Info("no subscriptions due for renewal")
		return 0, nil
	}

	enqueued := 0
	for _, sub := range due {
		event := domain.RenewalDueEvent{SubscriptionID: sub.ID, DueAt: sub.NextBillingAt}
		if err := j.producer.Publish(ctx, j.config.EventsExchange, domain.EventSubscriptionRenewalDue, event); err != nil {
			// The next run picks the subscription up again.
			j.logger.Warn("failed to enqueue renewal", "subscription_id", sub.ID, "error", err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// ReconcilePendingTips is the cron entry point for tip reconciliation.
func (j *Jobs) ReconcilePendingTips() {
	j.logger.Info("starting pending tip reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	failed, err := j.reconciler.ReconcilePendingTips(ctx)
	if err != nil {
		j.metrics.JobRun(jobTipReconcile, "error")
		j.logger.Error("pending tip reconciliation failed", "failed_tips", failed, "error", err)
		return
	}

	j.metrics.JobRun(jobTipReconcile, "success")
	j.logger.Info("pending tip reconciliation finished", "failed_tips", failed)
}
