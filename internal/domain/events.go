/**
 * @description
 * Event payloads published to the message broker. Routing keys are constants so
 * producers and consumers share one definition.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTipSettled               = "payment.tip.settled"
	EventTipFailed                = "payment.tip.failed"
	EventSubscriptionCharged      = "payment.subscription.charged"
	EventSubscriptionStatusChange = "subscription.status.changed"
	EventSubscriptionRenewalDue   = "subscription.renewal.due"
)

// TipEvent is published when a tip settles or fails.
type TipEvent struct {
	TipID     uuid.UUID       `json:"tip_id"`
	CreatorID uuid.UUID       `json:"creator_id"`
	LinkSlug  string          `json:"link_slug,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TipStatus       `json:"status"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubscriptionChargedEvent is published after every successful subscription charge.
type SubscriptionChargedEvent struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	TierID         uuid.UUID       `json:"tier_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Kind           PaymentKind     `json:"kind"`
	Sequence       int64           `json:"sequence"`
	Amount         decimal.Decimal `json:"amount"`
	TxHash         string          `json:"tx_hash"`
	NextBillingAt  time.Time       `json:"next_billing_at"`
	Timestamp      time.Time       `json:"timestamp"`
}

// SubscriptionStatusEvent is published when a subscription's status is changed explicitly.
type SubscriptionStatusEvent struct {
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	Status         SubscriptionStatus `json:"status"`
	Timestamp      time.Time          `json:"timestamp"`
}

// RenewalDueEvent asks the payments service to charge a subscription whose billing date has passed.
type RenewalDueEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	DueAt          time.Time `json:"due_at"`
}
