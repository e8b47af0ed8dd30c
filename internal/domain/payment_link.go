/**
 * @description
 * Payment links and subscription tiers: the shareable checkout configuration a
 * creator publishes. TIP links carry a fixed amount, SUBSCRIPTION links point at a tier.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLinkType selects the orchestration flow for a link.
type PaymentLinkType string

const (
	PaymentLinkTip          PaymentLinkType = "TIP"
	PaymentLinkSubscription PaymentLinkType = "SUBSCRIPTION"
)

// Valid reports whether t is a known link type.
func (t PaymentLinkType) Valid() bool {
	return t == PaymentLinkTip || t == PaymentLinkSubscription
}

// PaymentLink is a slug-addressed checkout endpoint.
type PaymentLink struct {
	ID          uuid.UUID        `json:"id"`
	CreatorID   uuid.UUID        `json:"creatorId"`
	Slug        string           `json:"slug"`
	Type        PaymentLinkType  `json:"type"`
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	TierID      *uuid.UUID       `json:"tierId,omitempty"`
	Metadata    json.RawMessage  `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`

	// Populated by lookups that join the owning creator and tier.
	Creator *CreatorProfile   `json:"creator,omitempty"`
	Tier    *SubscriptionTier `json:"tier,omitempty"`
}

// SubscriptionTier is a recurring price point owned by a creator.
type SubscriptionTier struct {
	ID           uuid.UUID       `json:"id"`
	CreatorID    uuid.UUID       `json:"creatorId"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	IntervalDays int             `json:"intervalDays"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Interval returns the billing interval as a duration.
func (t SubscriptionTier) Interval() time.Duration {
	return time.Duration(t.IntervalDays) * 24 * time.Hour
}

// USDCDecimals is the number of fractional digits USDC carries on every supported network.
const USDCDecimals = 6

// ValidUSDCAmount reports whether amount is positive and representable in USDC base units.
// Trailing zeros beyond the sixth decimal are accepted.
func ValidUSDCAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(USDCDecimals))
}
