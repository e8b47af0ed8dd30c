package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TipStatus tracks a one-time payment through settlement.
type TipStatus string

const (
	TipPending TipStatus = "PENDING"
	TipSettled TipStatus = "SETTLED"
	// TipFailed is set when the transfer errors or a PENDING tip outlives the reconciliation timeout.
	TipFailed TipStatus = "FAILED"
)

// Tip is a one-time payment record tied to a TIP link.
type Tip struct {
	ID            uuid.UUID       `json:"id"`
	CreatorID     uuid.UUID       `json:"creatorId"`
	PaymentLinkID *uuid.UUID      `json:"paymentLinkId,omitempty"`
	FromUserID    uuid.UUID       `json:"fromUserId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        TipStatus       `json:"status"`
	TxHash        *string         `json:"txHash,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TipMetadata is stored alongside a settled tip. The session token is the signed grant a
// relayer presents to sponsor gas for the creator wallet.
type TipMetadata struct {
	GaslessSessionID        string     `json:"arcSessionId"`
	GaslessSessionToken     string     `json:"arcSessionToken,omitempty"`
	GaslessSessionExpiresAt *time.Time `json:"arcSessionExpiresAt,omitempty"`
	BridgeTxHash            *string    `json:"bridgeTxHash,omitempty"`
}
