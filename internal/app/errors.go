package app

import (
	"errors"

	"github.com/ValenciaLim/arcdrop/internal/wallet"
)

// Payment orchestration errors.
var (
	ErrLinkNotFound    = errors.New("payment link not found")
	ErrInvalidLinkType = errors.New("payment link type does not match the requested operation")
	ErrInvalidAmount   = errors.New("amount must be a positive number with at most 6 decimal places")
	ErrTierMissing     = errors.New("subscription tier missing")
	ErrWalletNotFound  = errors.New("wallet not found")
	// ErrTransferFailed is the wallet package sentinel so callers can match either.
	ErrTransferFailed      = wallet.ErrTransferFailed
	ErrProviderUnavailable = errors.New("wallet provider unavailable")

	// ErrSettlementIncomplete means the transfer went through but recording it failed.
	// Retrying would move the funds a second time.
	ErrSettlementIncomplete = errors.New("payment sent but not recorded")

	ErrSubscriptionNotActive = errors.New("subscription is not active")
	ErrRenewalNotDue         = errors.New("subscription renewal is not due yet")
)

// Registry and request validation errors.
var (
	ErrInvalidEmail              = errors.New("a valid email is required")
	ErrInvalidHandle             = errors.New("handle must contain at least one letter or digit")
	ErrInvalidNetwork            = errors.New("network must be one of BASE, POLYGON, AVALANCHE")
	ErrInvalidAddress            = errors.New("invalid wallet address")
	ErrInvalidTitle              = errors.New("title is required")
	ErrInvalidTierName           = errors.New("tier name is required")
	ErrInvalidInterval           = errors.New("interval days must be positive")
	ErrTierOwnership             = errors.New("tier does not belong to this creator")
	ErrInvalidSubscriptionStatus = errors.New("status must be one of ACTIVE, PAUSED, CANCELLED")
	ErrBalanceLookupRequired     = errors.New("provide email or walletAddress")
	ErrModularNotConfigured      = errors.New("modular wallet client is not configured")
)
