/**
 * @description
 * This file contains the payment orchestration for arcdrop. The `Service` struct
 * coordinates the repository, the custodial wallet provider, the transfer executor,
 * the gasless session issuer and the message broker.
 *
 * Key features:
 * - Implements the TIP and SUBSCRIPTION payment flows behind a single `Pay` entry point.
 * - Always auto-provisions missing payer and creator wallets.
 * - Marks a tip FAILED when its transfer errors, and fails stale PENDING tips on reconciliation.
 * - Renews due subscriptions, extending from the previous due date.
 * - Publishes payment events to RabbitMQ and records Prometheus metrics.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/bridge"
	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/gasless"
	"github.com/ValenciaLim/arcdrop/internal/metrics"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/internal/wallet"
	"github.com/ValenciaLim/arcdrop/pkg/rabbitmq"
)

const (
	defaultEventsExchange    = "arcdrop.events"
	defaultProviderTimeout   = 15 * time.Second
	defaultPendingTipTimeout = 30 * time.Minute
	defaultBatchSize         = 100

	pendingTimeoutReason = "pending tip exceeded reconciliation timeout"
)

// SessionIssuer opens sponsored-gas sessions.
type SessionIssuer interface {
	BeginSession(ctx context.Context, walletID string, network domain.Network) (*gasless.Session, error)
}

// ModularSettings is the client-side modular wallet configuration handed to browsers.
type ModularSettings struct {
	ClientURL    string `json:"clientUrl"`
	ClientKey    string `json:"clientKey"`
	DefaultChain string `json:"defaultChain"`
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	EventsExchange    string
	ProviderTimeout   time.Duration
	PendingTipTimeout time.Duration
	BatchSize         int
	Modular           ModularSettings
}

// Service provides the payment and registry business logic.
type Service struct {
	repo          store.Repository
	provider      wallet.Provider
	transferer    wallet.Transferer
	sessions      SessionIssuer
	bridger       bridge.Bridger
	eventProducer rabbitmq.Publisher
	metrics       metrics.Recorder
	logger        *slog.Logger
	opts          Options
	now           func() time.Time
}

// NewService creates a new payments service instance.
func NewService(
	repo store.Repository,
	provider wallet.Provider,
	transferer wallet.Transferer,
	sessions SessionIssuer,
	bridger bridge.Bridger,
	producer rabbitmq.Publisher,
	recorder metrics.Recorder,
	logger *slog.Logger,
	opts Options,
) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bridger == nil {
		bridger = bridge.NewStub()
	}
	if strings.TrimSpace(opts.EventsExchange) == "" {
		opts.EventsExchange = defaultEventsExchange
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.PendingTipTimeout <= 0 {
		opts.PendingTipTimeout = defaultPendingTipTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Service{
		repo:          repo,
		provider:      provider,
		transferer:    transferer,
		sessions:      sessions,
		bridger:       bridger,
		eventProducer: producer,
		metrics:       recorder,
		logger:        logger,
		opts:          opts,
		now:           time.Now,
	}
}

// PaymentRequest is the payer side of a tip or subscription.
type PaymentRequest struct {
	LinkSlug      string
	Email         string
	WalletAddress string
	Network       domain.Network
	// Amount overrides the link amount for tips. Subscriptions always charge the tier amount.
	Amount *decimal.Decimal
}

// TipResult is returned after a tip settles.
type TipResult struct {
	TipID            uuid.UUID        `json:"tipId"`
	Status           domain.TipStatus `json:"status"`
	Amount           decimal.Decimal  `json:"amount"`
	TxHash           string           `json:"txHash"`
	SessionID        string           `json:"sessionId"`
	SessionToken     string           `json:"sessionToken,omitempty"`
	SessionExpiresAt *time.Time       `json:"sessionExpiresAt,omitempty"`
}

// SubscriptionResult is returned after a subscription is charged.
type SubscriptionResult struct {
	SubscriptionID   uuid.UUID                 `json:"subscriptionId"`
	Status           domain.SubscriptionStatus `json:"status"`
	Kind             domain.PaymentKind        `json:"kind"`
	Amount           decimal.Decimal           `json:"amount"`
	TxHash           string                    `json:"txHash"`
	SessionID        string                    `json:"sessionId"`
	SessionToken     string                    `json:"sessionToken,omitempty"`
	SessionExpiresAt *time.Time                `json:"sessionExpiresAt,omitempty"`
	NextBillingAt    time.Time                 `json:"nextBillingAt"`
	PaymentSequence  int64                     `json:"paymentSequence"`
}

// PaymentResult holds exactly one of Tip or Subscription, matching Type.
type PaymentResult struct {
	Type         domain.PaymentLinkType
	Tip          *TipResult
	Subscription *SubscriptionResult
}

// MarshalJSON encodes whichever result is set.
func (r PaymentResult) MarshalJSON() ([]byte, error) {
	if r.Type == domain.PaymentLinkTip {
		return json.Marshal(r.Tip)
	}
	return json.Marshal(r.Subscription)
}

// Pay resolves the link and dispatches to the tip or subscription flow.
func (s *Service) Pay(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	link, err := s.findLink(ctx, req.LinkSlug)
	if err != nil {
		return nil, err
	}

	switch link.Type {
	case domain.PaymentLinkTip:
		tip, err := s.processTip(ctx, link, req)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Type: link.Type, Tip: tip}, nil
	case domain.PaymentLinkSubscription:
		sub, err := s.processSubscription(ctx, link, req)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Type: link.Type, Subscription: sub}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidLinkType, link.Type)
	}
}

// ProcessTip runs the one-time payment flow for a TIP link.
func (s *Service) ProcessTip(ctx context.Context, req PaymentRequest) (*TipResult, error) {
	link, err := s.findLink(ctx, req.LinkSlug)
	if err != nil {
		return nil, err
	}
	if link.Type != domain.PaymentLinkTip {
		return nil, fmt.Errorf("%w: link %s is %s", ErrInvalidLinkType, link.Slug, link.Type)
	}
	return s.processTip(ctx, link, req)
}

// ProcessSubscription runs the subscription payment flow for a SUBSCRIPTION link.
func (s *Service) ProcessSubscription(ctx context.Context, req PaymentRequest) (*SubscriptionResult, error) {
	link, err := s.findLink(ctx, req.LinkSlug)
	if err != nil {
		return nil, err
	}
	if link.Type != domain.PaymentLinkSubscription {
		return nil, fmt.Errorf("%w: link %s is %s", ErrInvalidLinkType, link.Slug, link.Type)
	}
	return s.processSubscription(ctx, link, req)
}

func (s *Service) processTip(ctx context.Context, link *domain.PaymentLink, req PaymentRequest) (*TipResult, error) {
	start := s.now()
	amount, err := tipAmount(link, req.Amount)
	if err != nil {
		return nil, err
	}
	network, err := normalizeNetwork(req.Network)
	if err != nil {
		return nil, err
	}

	payer, err := s.payer(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	payerWallet, err := s.resolvePayerWallet(ctx, payer, req.WalletAddress, network)
	if err != nil {
		return nil, fmt.Errorf("resolve payer wallet: %w", err)
	}
	creatorWallet, err := s.resolveCreatorWallet(ctx, link, network)
	if err != nil {
		return nil, fmt.Errorf("resolve creator wallet: %w", err)
	}

	linkID := link.ID
	tip, err := s.repo.CreateTip(ctx, &domain.Tip{
		CreatorID:     link.CreatorID,
		PaymentLinkID: &linkID,
		FromUserID:    payer.ID,
		Amount:        amount,
		Status:        domain.TipPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create tip: %w", err)
	}

	transfer, err := s.transfer(ctx, *payerWallet, *creatorWallet, amount)
	if err != nil {
		s.failTip(ctx, tip, link.Slug, err.Error())
		s.metrics.PaymentProcessed("tip", "failed", string(network))
		return nil, err
	}

	session := s.beginSession(ctx, creatorWallet, network)
	metadata, err := json.Marshal(domain.TipMetadata{
		GaslessSessionID:        session.ID,
		GaslessSessionToken:     session.Token,
		GaslessSessionExpiresAt: sessionExpiry(session),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode tip metadata: %v", ErrSettlementIncomplete, err)
	}

	settled, err := s.repo.SettleTip(ctx, tip.ID, transfer.TxHash, metadata)
	if err != nil {
		s.logger.Error("transfer succeeded but tip settlement write failed",
			"tip_id", tip.ID, "tx_hash", transfer.TxHash, "error", err)
		return nil, fmt.Errorf("%w: settle tip %s: %v", ErrSettlementIncomplete, tip.ID, err)
	}

	s.publish(ctx, domain.EventTipSettled, domain.TipEvent{
		TipID:     settled.ID,
		CreatorID: settled.CreatorID,
		LinkSlug:  link.Slug,
		Amount:    settled.Amount,
		Status:    settled.Status,
		TxHash:    transfer.TxHash,
		Timestamp: s.now().UTC(),
	})
	s.metrics.PaymentProcessed("tip", "settled", string(network))
	s.metrics.ObserveLatency("tip", string(network), s.now().Sub(start))
	s.logger.Info("tip settled", "tip_id", settled.ID, "link_slug", link.Slug, "amount", amount.String(), "network", network)

	return &TipResult{
		TipID:            settled.ID,
		Status:           settled.Status,
		Amount:           settled.Amount,
		TxHash:           transfer.TxHash,
		SessionID:        session.ID,
		SessionToken:     session.Token,
		SessionExpiresAt: sessionExpiry(session),
	}, nil
}

func (s *Service) processSubscription(ctx context.Context, link *domain.PaymentLink, req PaymentRequest) (*SubscriptionResult, error) {
	start := s.now()
	tier, err := s.linkTier(ctx, link)
	if err != nil {
		return nil, err
	}
	network, err := normalizeNetwork(req.Network)
	if err != nil {
		return nil, err
	}

	payer, err := s.payer(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	payerWallet, err := s.resolvePayerWallet(ctx, payer, req.WalletAddress, network)
	if err != nil {
		return nil, fmt.Errorf("resolve payer wallet: %w", err)
	}
	creatorWallet, err := s.resolveCreatorWallet(ctx, link, network)
	if err != nil {
		return nil, fmt.Errorf("resolve creator wallet: %w", err)
	}

	transfer, err := s.transfer(ctx, *payerWallet, *creatorWallet, tier.Amount)
	if err != nil {
		s.metrics.PaymentProcessed("subscription", "failed", string(network))
		return nil, err
	}
	session := s.beginSession(ctx, creatorWallet, network)

	// An explicit payment always opens a fresh window from now.
	now := s.now().UTC()
	sub, inserted, err := s.repo.UpsertSubscription(ctx, store.UpsertSubscriptionParams{
		UserID:        payer.ID,
		TierID:        tier.ID,
		Status:        domain.SubscriptionActive,
		NextBillingAt: now.Add(tier.Interval()),
		LastPaymentAt: now,
	})
	if err != nil {
		s.logger.Error("transfer succeeded but subscription upsert failed",
			"tier_id", tier.ID, "user_id", payer.ID, "tx_hash", transfer.TxHash, "error", err)
		return nil, fmt.Errorf("%w: upsert subscription: %v", ErrSettlementIncomplete, err)
	}

	kind := domain.PaymentResubscribe
	if inserted {
		kind = domain.PaymentInitial
	}
	result, err := s.recordCharge(ctx, sub, kind, tier.Amount, transfer.TxHash, session)
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentProcessed("subscription", strings.ToLower(string(kind)), string(network))
	s.metrics.ObserveLatency("subscription", string(network), s.now().Sub(start))
	s.logger.Info("subscription charged", "subscription_id", sub.ID, "tier_id", tier.ID, "kind", kind, "network", network)
	return result, nil
}

// RenewSubscription charges one due renewal. The next due date advances from the previous
// one, skipping whole missed periods, so late runs do not shift the billing anchor.
func (s *Service) RenewSubscription(ctx context.Context, subscriptionID uuid.UUID) (*SubscriptionResult, error) {
	start := s.now()
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubscriptionActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSubscriptionNotActive, sub.ID, sub.Status)
	}
	now := s.now().UTC()
	if sub.NextBillingAt.After(now) {
		return nil, fmt.Errorf("%w: %s due at %s", ErrRenewalNotDue, sub.ID, sub.NextBillingAt.Format(time.RFC3339))
	}

	tier, err := s.repo.FindTierByID(ctx, sub.TierID)
	if err != nil {
		return nil, fmt.Errorf("load tier: %w", err)
	}
	payer, err := s.repo.FindUserByID(ctx, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	payerWallet, err := s.renewalWallet(ctx, payer)
	if err != nil {
		return nil, fmt.Errorf("resolve payer wallet: %w", err)
	}
	creator, err := s.repo.FindCreatorByID(ctx, tier.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("load creator: %w", err)
	}
	creatorWallet, err := s.creatorWallet(ctx, creator, payerWallet.Network)
	if err != nil {
		return nil, fmt.Errorf("resolve creator wallet: %w", err)
	}

	network := payerWallet.Network
	transfer, err := s.transfer(ctx, *payerWallet, *creatorWallet, tier.Amount)
	if err != nil {
		s.metrics.PaymentProcessed("renewal", "failed", string(network))
		return nil, err
	}
	session := s.beginSession(ctx, creatorWallet, network)

	next := domain.NextDueAfter(sub.NextBillingAt, tier.Interval(), now)
	advanced, err := s.repo.AdvanceSubscriptionBilling(ctx, sub.ID, next, now)
	if err != nil {
		s.logger.Error("renewal transfer succeeded but billing advance failed",
			"subscription_id", sub.ID, "tx_hash", transfer.TxHash, "error", err)
		return nil, fmt.Errorf("%w: advance billing: %v", ErrSettlementIncomplete, err)
	}

	result, err := s.recordCharge(ctx, advanced, domain.PaymentRenewal, tier.Amount, transfer.TxHash, session)
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentProcessed("renewal", "charged", string(network))
	s.metrics.ObserveLatency("renewal", string(network), s.now().Sub(start))
	s.logger.Info("subscription renewed", "subscription_id", sub.ID, "next_billing_at", next)
	return result, nil
}

// ReconcilePendingTips fails PENDING tips older than the configured timeout. It returns
// the number of tips moved to FAILED.
func (s *Service) ReconcilePendingTips(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.PendingTipTimeout)
	stale, err := s.repo.ListStalePendingTips(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale tips: %w", err)
	}

	failed := 0
	for i := range stale {
		tip := stale[i]
		changed, err := s.repo.MarkTipFailed(ctx, tip.ID, pendingTimeoutReason)
		if err != nil {
			s.logger.Warn("failed to mark stale tip", "tip_id", tip.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		failed++
		s.publish(ctx, domain.EventTipFailed, domain.TipEvent{
			TipID:     tip.ID,
			CreatorID: tip.CreatorID,
			Amount:    tip.Amount,
			Status:    domain.TipFailed,
			Reason:    pendingTimeoutReason,
			Timestamp: s.now().UTC(),
		})
	}
	if failed > 0 {
		s.logger.Info("reconciled pending tips", "failed", failed, "scanned", len(stale))
	}
	return failed, nil
}

func (s *Service) recordCharge(ctx context.Context, sub *domain.Subscription, kind domain.PaymentKind, amount decimal.Decimal, txHash string, session gasless.Session) (*SubscriptionResult, error) {
	payment, err := s.repo.AppendSubscriptionPayment(ctx, &domain.SubscriptionPayment{
		SubscriptionID:   sub.ID,
		Kind:             kind,
		Amount:           amount,
		TxHash:           txHash,
		GaslessSessionID: session.ID,
		GaslessToken:     session.Token,
		GaslessExpiresAt: sessionExpiry(session),
	})
	if err != nil {
		s.logger.Error("subscription charged but payment ledger append failed",
			"subscription_id", sub.ID, "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("%w: append subscription payment: %v", ErrSettlementIncomplete, err)
	}

	s.publish(ctx, domain.EventSubscriptionCharged, domain.SubscriptionChargedEvent{
		SubscriptionID: sub.ID,
		TierID:         sub.TierID,
		UserID:         sub.UserID,
		Kind:           kind,
		Sequence:       payment.Sequence,
		Amount:         amount,
		TxHash:         txHash,
		NextBillingAt:  sub.NextBillingAt,
		Timestamp:      s.now().UTC(),
	})

	return &SubscriptionResult{
		SubscriptionID:   sub.ID,
		Status:           sub.Status,
		Kind:             kind,
		Amount:           amount,
		TxHash:           txHash,
		SessionID:        session.ID,
		SessionToken:     session.Token,
		SessionExpiresAt: sessionExpiry(session),
		NextBillingAt:    sub.NextBillingAt,
		PaymentSequence:  payment.Sequence,
	}, nil
}

func (s *Service) findLink(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrLinkNotFound
	}
	link, err := s.repo.FindPaymentLinkBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrPaymentLinkNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("find payment link: %w", err)
	}
	return link, nil
}

func (s *Service) linkTier(ctx context.Context, link *domain.PaymentLink) (*domain.SubscriptionTier, error) {
	if link.TierID == nil {
		return nil, ErrTierMissing
	}
	if link.Tier != nil {
		return link.Tier, nil
	}
	tier, err := s.repo.FindTierByID(ctx, *link.TierID)
	if err != nil {
		if errors.Is(err, store.ErrTierNotFound) {
			return nil, ErrTierMissing
		}
		return nil, fmt.Errorf("find tier: %w", err)
	}
	return tier, nil
}

func tipAmount(link *domain.PaymentLink, override *decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch {
	case override != nil:
		amount = *override
	case link.Amount != nil:
		amount = *link.Amount
	default:
		return decimal.Zero, ErrInvalidAmount
	}
	if !domain.ValidUSDCAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

func normalizeNetwork(network domain.Network) (domain.Network, error) {
	n, err := domain.ParseNetwork(string(network))
	if err != nil {
		return "", ErrInvalidNetwork
	}
	return n, nil
}

func (s *Service) payer(ctx context.Context, email string) (*domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	user, err := s.repo.GetOrCreateUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolve payer: %w", err)
	}
	return user, nil
}

// resolvePayerWallet prefers the wallet the payer named. When that address is unknown the
// payer's wallet on the network is used, provisioning one if none exists.
func (s *Service) resolvePayerWallet(ctx context.Context, user *domain.User, address string, network domain.Network) (*domain.Wallet, error) {
	if address = strings.TrimSpace(address); address != "" {
		w, err := s.repo.FindWallet(ctx, user.ID, address, network)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, store.ErrWalletNotFound) {
			return nil, err
		}
	}
	return s.ensureUserWallet(ctx, user, network)
}

func (s *Service) resolveCreatorWallet(ctx context.Context, link *domain.PaymentLink, network domain.Network) (*domain.Wallet, error) {
	creator := link.Creator
	if creator == nil {
		found, err := s.repo.FindCreatorByID(ctx, link.CreatorID)
		if err != nil {
			return nil, err
		}
		creator = found
	}
	return s.creatorWallet(ctx, creator, network)
}

func (s *Service) creatorWallet(ctx context.Context, creator *domain.CreatorProfile, network domain.Network) (*domain.Wallet, error) {
	owner, err := s.repo.FindUserByID(ctx, creator.UserID)
	if err != nil {
		return nil, err
	}
	return s.ensureUserWallet(ctx, owner, network)
}

// renewalWallet charges the subscriber's oldest wallet, provisioning one on the default
// network when they hold none.
func (s *Service) renewalWallet(ctx context.Context, user *domain.User) (*domain.Wallet, error) {
	wallets, err := s.repo.ListWalletsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(wallets) > 0 {
		return &wallets[0], nil
	}
	return s.ensureUserWallet(ctx, user, domain.DefaultNetwork)
}

// ensureUserWallet returns the user's wallet on network, provisioning and upserting one
// keyed by provider id when none is stored. Provisioning runs under a per (user, network)
// lock so concurrent first payments end up with a single custodial wallet.
func (s *Service) ensureUserWallet(ctx context.Context, user *domain.User, network domain.Network) (*domain.Wallet, error) {
	existing, err := s.repo.FindWalletByUserAndNetwork(ctx, user.ID, network)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrWalletNotFound) {
		return nil, err
	}

	unlock, err := s.repo.LockWalletProvisioning(ctx, user.ID, network)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another request may have provisioned the wallet while we waited.
	existing, err = s.repo.FindWalletByUserAndNetwork(ctx, user.ID, network)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrWalletNotFound) {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	provisioned, err := s.provider.EnsureWallet(callCtx, user.Email, network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return s.repo.UpsertWallet(ctx, &domain.Wallet{
		UserID:           user.ID,
		Address:          provisioned.Address,
		ProviderWalletID: provisioned.ProviderID,
		Network:          network,
		Placeholder:      provisioned.Placeholder,
	})
}

func (s *Service) transfer(ctx context.Context, from, to domain.Wallet, amount decimal.Decimal) (*wallet.TransferResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	start := s.now()
	res, err := s.transferer.Transfer(callCtx, from, to, amount)
	s.metrics.ObserveLatency("transfer", string(from.Network), s.now().Sub(start))
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidTransferAmount) {
			return nil, ErrInvalidAmount
		}
		if !errors.Is(err, ErrTransferFailed) {
			err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil, err
	}
	return res, nil
}

// beginSession never fails the payment: funds have already moved, so a session error only
// leaves the session empty.
func (s *Service) beginSession(ctx context.Context, target *domain.Wallet, network domain.Network) gasless.Session {
	if s.sessions == nil {
		return gasless.Session{}
	}
	session, err := s.sessions.BeginSession(ctx, target.ProviderWalletID, network)
	if err != nil || session == nil {
		s.logger.Warn("gasless session unavailable", "wallet_id", target.ProviderWalletID, "error", err)
		return gasless.Session{}
	}
	return *session
}

func sessionExpiry(session gasless.Session) *time.Time {
	if session.ExpiresAt.IsZero() {
		return nil
	}
	expires := session.ExpiresAt
	return &expires
}

func (s *Service) failTip(ctx context.Context, tip *domain.Tip, slug, reason string) {
	changed, err := s.repo.MarkTipFailed(ctx, tip.ID, reason)
	if err != nil {
		s.logger.Error("failed to mark tip failed", "tip_id", tip.ID, "error", err)
		return
	}
	if !changed {
		return
	}
	s.publish(ctx, domain.EventTipFailed, domain.TipEvent{
		TipID:     tip.ID,
		CreatorID: tip.CreatorID,
		LinkSlug:  slug,
		Amount:    tip.Amount,
		Status:    domain.TipFailed,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := s.eventProducer.Publish(ctx, s.opts.EventsExchange, routingKey, body); err != nil {
		s.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
