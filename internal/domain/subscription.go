/**
 * @description
 * Subscription models. A Subscription is unique per (user, tier); every charge
 * against it is appended to the SubscriptionPayment ledger with a sequence number.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPaused    SubscriptionStatus = "PAUSED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// ParseSubscriptionStatus accepts only ACTIVE, PAUSED or CANCELLED.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, bool) {
	switch s := SubscriptionStatus(raw); s {
	case SubscriptionActive, SubscriptionPaused, SubscriptionCancelled:
		return s, true
	}
	return "", false
}

// Subscription is a user's enrollment in a tier.
type Subscription struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"userId"`
	TierID        uuid.UUID          `json:"tierId"`
	Status        SubscriptionStatus `json:"status"`
	NextBillingAt time.Time          `json:"nextBillingAt"`
	LastPaymentAt *time.Time         `json:"lastPaymentAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// PaymentKind distinguishes how a subscription charge was triggered.
type PaymentKind string

const (
	PaymentInitial     PaymentKind = "INITIAL"
	PaymentResubscribe PaymentKind = "RESUBSCRIBE"
	PaymentRenewal     PaymentKind = "RENEWAL"
)

// SubscriptionPayment is one row of the ordered subscription payment ledger.
type SubscriptionPayment struct {
	Sequence         int64           `json:"sequence"`
	SubscriptionID   uuid.UUID       `json:"subscriptionId"`
	Kind             PaymentKind     `json:"kind"`
	Amount           decimal.Decimal `json:"amount"`
	TxHash           string          `json:"txHash"`
	GaslessSessionID string          `json:"sessionId"`
	GaslessToken     string          `json:"sessionToken,omitempty"`
	GaslessExpiresAt *time.Time      `json:"sessionExpiresAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Subscriber is the per-tier subscriber listing row.
type Subscriber struct {
	ID            uuid.UUID          `json:"id"`
	UserEmail     string             `json:"userEmail"`
	Status        SubscriptionStatus `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
	LastPaymentAt *time.Time         `json:"lastPaymentAt"`
	NextBillingAt time.Time          `json:"nextBillingAt"`
}

// NextDueAfter advances due by whole intervals until it is strictly after now.
// Scheduled renewals use it so billing periods never drift towards the charge time.
func NextDueAfter(due time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	next := due.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
