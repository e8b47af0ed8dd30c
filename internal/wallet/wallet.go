/**
 * @description
 * Package wallet adapts the custodial wallet provider. A Provider creates wallets
 * for a user on a network; a Transferer moves USDC between wallets. Circle backs
 * both in production, and simulated implementations backed by the Postgres ledger
 * stand in for local development and mock mode.
 */
package wallet

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

var (
	ErrInvalidTransferAmount = errors.New("transfer amount must be positive")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrProvisionFailed       = errors.New("wallet provisioning failed")
	ErrCiphertextMissing     = errors.New("entity secret ciphertext is not configured")
)

// ProvisionedWallet is what a provider hands back for a new wallet.
type ProvisionedWallet struct {
	ProviderID  string
	Address     string
	Network     domain.Network
	Placeholder bool
}

// Provider creates custodial wallets.
type Provider interface {
	EnsureWallet(ctx context.Context, email string, network domain.Network) (*ProvisionedWallet, error)
}

// TransferResult is the outcome of a successful transfer.
type TransferResult struct {
	TxHash string
}

// Transferer moves USDC between wallets and reports balances.
type Transferer interface {
	Transfer(ctx context.Context, from, to domain.Wallet, amount decimal.Decimal) (*TransferResult, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// CiphertextSource yields the entity-secret ciphertext attached to every mutating Circle call.
type CiphertextSource interface {
	Ciphertext(ctx context.Context) (string, error)
}

// StaticCiphertext serves a single pre-registered ciphertext from configuration.
type StaticCiphertext string

// Ciphertext implements CiphertextSource.
func (s StaticCiphertext) Ciphertext(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrCiphertextMissing
	}
	return string(s), nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidTransferAmount
	}
	return nil
}
