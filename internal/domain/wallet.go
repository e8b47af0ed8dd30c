package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a blockchain account associated with a user.
// ProviderWalletID is globally unique and acts as the upsert key.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"userId"`
	Address          string    `json:"address"`
	ProviderWalletID string    `json:"providerWalletId"`
	Network          Network   `json:"network"`
	// Placeholder marks wallets produced while the custody provider was unavailable.
	// They are syntactically valid but hold no real funds.
	Placeholder bool      `json:"placeholder"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WalletSummary is the public projection of a wallet.
type WalletSummary struct {
	Address     string  `json:"address"`
	Network     Network `json:"network"`
	Placeholder bool    `json:"placeholder,omitempty"`
}

// Summary returns the public projection of w.
func (w Wallet) Summary() WalletSummary {
	return WalletSummary{Address: w.Address, Network: w.Network, Placeholder: w.Placeholder}
}

// WalletBalance is returned by balance lookups. Balances is keyed by token symbol.
type WalletBalance struct {
	Email         string                     `json:"email,omitempty"`
	WalletAddress string                     `json:"walletAddress,omitempty"`
	Balances      map[string]decimal.Decimal `json:"balances"`
	TotalUSD      decimal.Decimal            `json:"totalUsd"`
	Wallets       []WalletSummary            `json:"wallets"`
}

// NewWalletBalance reports a single USDC balance, which is also the USD total.
func NewWalletBalance(usdc decimal.Decimal, wallets []WalletSummary) *WalletBalance {
	if wallets == nil {
		wallets = []WalletSummary{}
	}
	return &WalletBalance{
		Balances: map[string]decimal.Decimal{"USDC": usdc},
		TotalUSD: usdc,
		Wallets:  wallets,
	}
}
