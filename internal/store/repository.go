/**
 * @description
 * This file defines the data access contracts used by the payments service. The
 * Postgres implementation lives in postgres_repository.go; tests substitute stubs
 * that embed these interfaces.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrCreatorNotFound      = errors.New("creator not found")
	ErrPaymentLinkNotFound  = errors.New("payment link not found")
	ErrTierNotFound         = errors.New("subscription tier not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrTipNotFound          = errors.New("tip not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDuplicateSlug        = errors.New("payment link slug already exists")
	ErrProviderStateMissing = errors.New("provider state not set")
)

// UpsertSubscriptionParams carries the fields written on subscribe. The row is keyed by (UserID, TierID).
type UpsertSubscriptionParams struct {
	UserID        uuid.UUID
	TierID        uuid.UUID
	Status        domain.SubscriptionStatus
	NextBillingAt time.Time
	LastPaymentAt time.Time
}

// TierDeletion reports what a cascading tier delete removed.
type TierDeletion struct {
	TierID               uuid.UUID `json:"id"`
	SubscriptionsRemoved int64     `json:"subscriptionsRemoved"`
	LinksRemoved         int64     `json:"linksRemoved"`
}

// Repository defines every persistence operation the payments service needs.
type Repository interface {
	GetOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	FindCreatorByUserOrHandle(ctx context.Context, userID uuid.UUID, handle string) (*domain.CreatorProfile, error)
	CreateCreatorProfile(ctx context.Context, profile *domain.CreatorProfile) (*domain.CreatorProfile, error)
	FindCreatorByID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorProfile, error)
	FindCreatorByHandle(ctx context.Context, handle string) (*domain.CreatorProfile, error)
	FindCreatorByUserID(ctx context.Context, userID uuid.UUID) (*domain.CreatorProfile, error)

	PaymentLinkSlugExists(ctx context.Context, slug string) (bool, error)
	CreatePaymentLink(ctx context.Context, link *domain.PaymentLink) (*domain.PaymentLink, error)
	FindPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error)
	ListPaymentLinksByCreator(ctx context.Context, creatorID uuid.UUID) ([]domain.PaymentLink, error)

	CreateTier(ctx context.Context, tier *domain.SubscriptionTier) (*domain.SubscriptionTier, error)
	FindTierByID(ctx context.Context, tierID uuid.UUID) (*domain.SubscriptionTier, error)
	ListTiersByCreator(ctx context.Context, creatorID uuid.UUID) ([]domain.SubscriptionTier, error)
	DeleteTierCascade(ctx context.Context, tierID uuid.UUID) (*TierDeletion, error)
	ListSubscribersByTier(ctx context.Context, tierID uuid.UUID) ([]domain.Subscriber, error)

	FindWallet(ctx context.Context, userID uuid.UUID, address string, network domain.Network) (*domain.Wallet, error)
	FindWalletByUserAndNetwork(ctx context.Context, userID uuid.UUID, network domain.Network) (*domain.Wallet, error)
	FindWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error)
	UpsertWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
	// LockWalletProvisioning serializes provisioning for one (user, network) pair across processes.
	LockWalletProvisioning(ctx context.Context, userID uuid.UUID, network domain.Network) (unlock func(), err error)

	CreateTip(ctx context.Context, tip *domain.Tip) (*domain.Tip, error)
	SettleTip(ctx context.Context, tipID uuid.UUID, txHash string, metadata json.RawMessage) (*domain.Tip, error)
	MarkTipFailed(ctx context.Context, tipID uuid.UUID, reason string) (bool, error)
	ListStalePendingTips(ctx context.Context, olderThan time.Time, limit int) ([]domain.Tip, error)
	SumSettledTipsByCreator(ctx context.Context, creatorID uuid.UUID) (decimal.Decimal, error)

	UpsertSubscription(ctx context.Context, params UpsertSubscriptionParams) (*domain.Subscription, bool, error)
	FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID uuid.UUID, status domain.SubscriptionStatus) (*domain.Subscription, error)
	AdvanceSubscriptionBilling(ctx context.Context, subscriptionID uuid.UUID, nextBillingAt, lastPaymentAt time.Time) (*domain.Subscription, error)
	AppendSubscriptionPayment(ctx context.Context, payment *domain.SubscriptionPayment) (*domain.SubscriptionPayment, error)
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
}

// LedgerStore persists the simulated USDC balances used when no custody provider is configured.
type LedgerStore interface {
	SeedLedgerBalance(ctx context.Context, address string, amount decimal.Decimal) error
	GetLedgerBalance(ctx context.Context, address string) (decimal.Decimal, error)
	ApplyLedgerTransfer(ctx context.Context, fromAddress, toAddress string, amount decimal.Decimal) error
}

// ProviderStateStore keeps small provider-owned values (such as the Circle wallet-set id) across restarts.
type ProviderStateStore interface {
	GetProviderState(ctx context.Context, key string) (string, error)
	PutProviderState(ctx context.Context, key, value string) error
}
