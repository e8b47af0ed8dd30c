package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

// Renewer charges a due subscription.
type Renewer interface {
	RenewSubscription(ctx context.Context, subscriptionID uuid.UUID) (*SubscriptionResult, error)
}

// RenewalConsumer handles subscription.renewal.due events published by the scheduler.
type RenewalConsumer struct {
	renewer Renewer
	logger  *slog.Logger
	timeout time.Duration
}

func NewRenewalConsumer(renewer Renewer, logger *slog.Logger) *RenewalConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenewalConsumer{renewer: renewer, logger: logger, timeout: 15 * time.Second}
}

// HandleMessage returns true to acknowledge and false to ask for a redelivery.
func (c *RenewalConsumer) HandleMessage(body []byte) bool {
	var event domain.RenewalDueEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("renewal-consumer: failed to unmarshal payload", "error", err)
		return true
	}
	if event.SubscriptionID == uuid.Nil {
		c.logger.Warn("renewal-consumer: missing subscription id", "body", string(body))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.renewer.RenewSubscription(ctx, event.SubscriptionID)
	switch {
	case err == nil:
		c.logger.Info("renewal-consumer: subscription renewed",
			"subscription_id", event.SubscriptionID, "next_billing_at", res.NextBillingAt)
		return true
	case errors.Is(err, ErrRenewalNotDue), errors.Is(err, ErrSubscriptionNotActive), errors.Is(err, store.ErrSubscriptionNotFound):
		// Duplicate or stale event; nothing left to charge.
		c.logger.Info("renewal-consumer: skipping renewal", "subscription_id", event.SubscriptionID, "reason", err.Error())
		return true
	case errors.Is(err, ErrSettlementIncomplete):
		// The charge went through; a redelivery would charge again.
		c.logger.Error("renewal-consumer: renewal charged but not recorded", "subscription_id", event.SubscriptionID, "error", err)
		return true
	default:
		c.logger.Error("renewal-consumer: processing error", "subscription_id", event.SubscriptionID, "error", err)
		return false
	}
}
