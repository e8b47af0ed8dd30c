// Package bridge models a cross-chain USDC transfer (burn on the source chain, attest,
// mint on the destination). No chain is contacted; the result is a deterministic
// reference and must not be treated as final.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

var (
	ErrInvalidAmount  = errors.New("bridge amount must be positive")
	ErrInvalidNetwork = errors.New("unsupported bridge network")
)

// StepStatus is one phase of a bridge transfer.
type StepStatus string

const (
	StepBurned   StepStatus = "BURNED"
	StepAttested StepStatus = "ATTESTED"
	StepMinted   StepStatus = "MINTED"
)

// Step is reported to clients in order.
type Step struct {
	Status StepStatus `json:"status"`
	TxHash *string    `json:"txHash,omitempty"`
}

// Result of a bridge call. TxHash is nil when no bridging was needed.
type Result struct {
	TxHash *string `json:"txHash"`
	Steps  []Step  `json:"steps"`
}

// Bridger moves USDC between networks.
type Bridger interface {
	Bridge(ctx context.Context, amount decimal.Decimal, source, destination domain.Network) (*Result, error)
}

// Stub is the CCTP stand-in.
type Stub struct{}

// NewStub returns a bridge stub.
func NewStub() *Stub { return &Stub{} }

// Bridge returns cctp-<SRC>-<DST>-<amount> for cross-network transfers. A same-network request
// returns an empty result before the amount is looked at.
func (Stub) Bridge(_ context.Context, amount decimal.Decimal, source, destination domain.Network) (*Result, error) {
	if !source.Valid() || !destination.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidNetwork, source, destination)
	}
	if source == destination {
		return &Result{Steps: []Step{}}, nil
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	hash := fmt.Sprintf("cctp-%s-%s-%s", source, destination, amount.String())
	return &Result{
		TxHash: &hash,
		Steps: []Step{
			{Status: StepBurned, TxHash: &hash},
			{Status: StepAttested},
			{Status: StepMinted},
		},
	}, nil
}
