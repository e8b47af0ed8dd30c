package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/bridge"
	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/gasless"
	"github.com/ValenciaLim/arcdrop/internal/store"
	"github.com/ValenciaLim/arcdrop/internal/wallet"
)

// memRepo is an in-memory store.Repository used across the service tests.
type memRepo struct {
	mu sync.Mutex

	users    []*domain.User
	creators []*domain.CreatorProfile
	links    []*domain.PaymentLink
	tiers    []*domain.SubscriptionTier
	wallets  []*domain.Wallet
	tips     []*domain.Tip
	subs     []*domain.Subscription
	payments []*domain.SubscriptionPayment
	seq      int64

	walletLocks map[string]*sync.Mutex
	settleErr   error

	// forcedCollisions makes the next n slug checks report a collision and records the slug as taken.
	forcedCollisions int
	checkedSlugs     []string
	// duplicateOnInsert makes the next n link inserts fail with ErrDuplicateSlug.
	duplicateOnInsert int

	now func() time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{now: time.Now}
}

func (r *memRepo) GetOrCreateUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	u := &domain.User{ID: uuid.New(), Email: email, CreatedAt: r.now()}
	r.users = append(r.users, u)
	return u, nil
}

func (r *memRepo) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *memRepo) FindUserByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *memRepo) FindCreatorByUserOrHandle(_ context.Context, userID uuid.UUID, handle string) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creators {
		if c.UserID == userID {
			return c, nil
		}
	}
	for _, c := range r.creators {
		if c.Handle == handle {
			return c, nil
		}
	}
	return nil, store.ErrCreatorNotFound
}

func (r *memRepo) CreateCreatorProfile(_ context.Context, profile *domain.CreatorProfile) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *profile
	c.ID = uuid.New()
	c.CreatedAt = r.now()
	r.creators = append(r.creators, &c)
	return &c, nil
}

func (r *memRepo) FindCreatorByID(_ context.Context, creatorID uuid.UUID) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creators {
		if c.ID == creatorID {
			return c, nil
		}
	}
	return nil, store.ErrCreatorNotFound
}

func (r *memRepo) FindCreatorByHandle(_ context.Context, handle string) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creators {
		if c.Handle == handle {
			return c, nil
		}
	}
	return nil, store.ErrCreatorNotFound
}

func (r *memRepo) FindCreatorByUserID(_ context.Context, userID uuid.UUID) (*domain.CreatorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creators {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, store.ErrCreatorNotFound
}

func (r *memRepo) PaymentLinkSlugExists(_ context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkedSlugs = append(r.checkedSlugs, slug)
	if r.forcedCollisions > 0 {
		r.forcedCollisions--
		r.links = append(r.links, &domain.PaymentLink{ID: uuid.New(), Slug: slug, Type: domain.PaymentLinkTip, Title: "seeded"})
		return true, nil
	}
	for _, l := range r.links {
		if l.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreatePaymentLink(_ context.Context, link *domain.PaymentLink) (*domain.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.duplicateOnInsert > 0 {
		r.duplicateOnInsert--
		return nil, store.ErrDuplicateSlug
	}
	for _, l := range r.links {
		if l.Slug == link.Slug {
			return nil, store.ErrDuplicateSlug
		}
	}
	l := *link
	l.ID = uuid.New()
	l.CreatedAt = r.now()
	r.links = append(r.links, &l)
	return &l, nil
}

func (r *memRepo) FindPaymentLinkBySlug(_ context.Context, slug string) (*domain.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Slug != slug {
			continue
		}
		out := *l
		for _, c := range r.creators {
			if c.ID == l.CreatorID {
				creator := *c
				out.Creator = &creator
			}
		}
		if l.TierID != nil {
			for _, t := range r.tiers {
				if t.ID == *l.TierID {
					tier := *t
					out.Tier = &tier
				}
			}
		}
		return &out, nil
	}
	return nil, store.ErrPaymentLinkNotFound
}

func (r *memRepo) ListPaymentLinksByCreator(_ context.Context, creatorID uuid.UUID) ([]domain.PaymentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.PaymentLink{}
	for _, l := range r.links {
		if l.CreatorID == creatorID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *memRepo) CreateTier(_ context.Context, tier *domain.SubscriptionTier) (*domain.SubscriptionTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *tier
	t.ID = uuid.New()
	t.CreatedAt = r.now()
	r.tiers = append(r.tiers, &t)
	return &t, nil
}

func (r *memRepo) FindTierByID(_ context.Context, tierID uuid.UUID) (*domain.SubscriptionTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tiers {
		if t.ID == tierID {
			return t, nil
		}
	}
	return nil, store.ErrTierNotFound
}

func (r *memRepo) ListTiersByCreator(_ context.Context, creatorID uuid.UUID) ([]domain.SubscriptionTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.SubscriptionTier{}
	for _, t := range r.tiers {
		if t.CreatorID == creatorID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteTierCascade(_ context.Context, tierID uuid.UUID) (*store.TierDeletion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, t := range r.tiers {
		if t.ID == tierID {
			found = true
		}
	}
	if !found {
		return nil, store.ErrTierNotFound
	}

	deletion := &store.TierDeletion{TierID: tierID}
	removedSubs := map[uuid.UUID]bool{}
	var subs []*domain.Subscription
	for _, s := range r.subs {
		if s.TierID == tierID {
			removedSubs[s.ID] = true
			deletion.SubscriptionsRemoved++
			continue
		}
		subs = append(subs, s)
	}
	r.subs = subs

	var payments []*domain.SubscriptionPayment
	for _, p := range r.payments {
		if !removedSubs[p.SubscriptionID] {
			payments = append(payments, p)
		}
	}
	r.payments = payments

	var links []*domain.PaymentLink
	for _, l := range r.links {
		if l.TierID != nil && *l.TierID == tierID {
			deletion.LinksRemoved++
			continue
		}
		links = append(links, l)
	}
	r.links = links

	var tiers []*domain.SubscriptionTier
	for _, t := range r.tiers {
		if t.ID != tierID {
			tiers = append(tiers, t)
		}
	}
	r.tiers = tiers
	return deletion, nil
}

func (r *memRepo) ListSubscribersByTier(_ context.Context, tierID uuid.UUID) ([]domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Subscriber{}
	for _, s := range r.subs {
		if s.TierID != tierID {
			continue
		}
		email := ""
		for _, u := range r.users {
			if u.ID == s.UserID {
				email = u.Email
			}
		}
		out = append(out, domain.Subscriber{
			ID:            s.ID,
			UserEmail:     email,
			Status:        s.Status,
			CreatedAt:     s.CreatedAt,
			LastPaymentAt: s.LastPaymentAt,
			NextBillingAt: s.NextBillingAt,
		})
	}
	return out, nil
}

func (r *memRepo) FindWallet(_ context.Context, userID uuid.UUID, address string, network domain.Network) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UserID == userID && strings.EqualFold(w.Address, address) && w.Network == network {
			return w, nil
		}
	}
	return nil, store.ErrWalletNotFound
}

func (r *memRepo) FindWalletByUserAndNetwork(_ context.Context, userID uuid.UUID, network domain.Network) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UserID == userID && w.Network == network {
			return w, nil
		}
	}
	return nil, store.ErrWalletNotFound
}

func (r *memRepo) FindWalletByAddress(_ context.Context, address string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if strings.EqualFold(w.Address, address) {
			return w, nil
		}
	}
	return nil, store.ErrWalletNotFound
}

func (r *memRepo) ListWalletsByUser(_ context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Wallet{}
	for _, w := range r.wallets {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (r *memRepo) UpsertWallet(_ context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.ProviderWalletID == wallet.ProviderWalletID {
			w.Address = wallet.Address
			w.Network = wallet.Network
			w.Placeholder = wallet.Placeholder
			return w, nil
		}
	}
	w := *wallet
	w.ID = uuid.New()
	w.CreatedAt = r.now()
	r.wallets = append(r.wallets, &w)
	return &w, nil
}

func (r *memRepo) LockWalletProvisioning(_ context.Context, userID uuid.UUID, network domain.Network) (func(), error) {
	r.mu.Lock()
	if r.walletLocks == nil {
		r.walletLocks = map[string]*sync.Mutex{}
	}
	key := userID.String() + ":" + string(network)
	lock, ok := r.walletLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.walletLocks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock, nil
}

func (r *memRepo) CreateTip(_ context.Context, tip *domain.Tip) (*domain.Tip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *tip
	t.ID = uuid.New()
	t.CreatedAt = r.now()
	t.UpdatedAt = t.CreatedAt
	r.tips = append(r.tips, &t)
	out := t
	return &out, nil
}

func (r *memRepo) SettleTip(_ context.Context, tipID uuid.UUID, txHash string, metadata json.RawMessage) (*domain.Tip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleErr != nil {
		return nil, r.settleErr
	}
	for _, t := range r.tips {
		if t.ID != tipID {
			continue
		}
		if t.Status == domain.TipPending {
			hash := txHash
			t.Status = domain.TipSettled
			t.TxHash = &hash
			t.Metadata = metadata
		}
		out := *t
		return &out, nil
	}
	return nil, store.ErrTipNotFound
}

func (r *memRepo) MarkTipFailed(_ context.Context, tipID uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tips {
		if t.ID == tipID && t.Status == domain.TipPending {
			t.Status = domain.TipFailed
			t.FailureReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListStalePendingTips(_ context.Context, olderThan time.Time, limit int) ([]domain.Tip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Tip{}
	for _, t := range r.tips {
		if t.Status == domain.TipPending && t.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memRepo) SumSettledTipsByCreator(_ context.Context, creatorID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, t := range r.tips {
		if t.CreatorID == creatorID && t.Status == domain.TipSettled {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (r *memRepo) UpsertSubscription(_ context.Context, params store.UpsertSubscriptionParams) (*domain.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := params.LastPaymentAt
	for _, s := range r.subs {
		if s.UserID == params.UserID && s.TierID == params.TierID {
			s.Status = params.Status
			s.NextBillingAt = params.NextBillingAt
			s.LastPaymentAt = &last
			out := *s
			return &out, false, nil
		}
	}
	s := &domain.Subscription{
		ID:            uuid.New(),
		UserID:        params.UserID,
		TierID:        params.TierID,
		Status:        params.Status,
		NextBillingAt: params.NextBillingAt,
		LastPaymentAt: &last,
		CreatedAt:     r.now(),
	}
	r.subs = append(r.subs, s)
	out := *s
	return &out, true, nil
}

func (r *memRepo) FindSubscriptionByID(_ context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == subscriptionID {
			out := *s
			return &out, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (r *memRepo) UpdateSubscriptionStatus(_ context.Context, subscriptionID uuid.UUID, status domain.SubscriptionStatus) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == subscriptionID {
			s.Status = status
			out := *s
			return &out, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (r *memRepo) AdvanceSubscriptionBilling(_ context.Context, subscriptionID uuid.UUID, nextBillingAt, lastPaymentAt time.Time) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == subscriptionID && s.Status == domain.SubscriptionActive {
			last := lastPaymentAt
			s.NextBillingAt = nextBillingAt
			s.LastPaymentAt = &last
			out := *s
			return &out, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (r *memRepo) AppendSubscriptionPayment(_ context.Context, payment *domain.SubscriptionPayment) (*domain.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	p := *payment
	p.Sequence = r.seq
	p.CreatedAt = r.now()
	r.payments = append(r.payments, &p)
	out := p
	return &out, nil
}

func (r *memRepo) ListDueSubscriptions(_ context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Subscription{}
	for _, s := range r.subs {
		if s.Status == domain.SubscriptionActive && !s.NextBillingAt.After(now) && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

// seedCreator stores a user, creator profile and optionally a wallet on network.
func (r *memRepo) seedCreator(email, handle, walletAddress string, network domain.Network) (*domain.User, *domain.CreatorProfile) {
	user := &domain.User{ID: uuid.New(), Email: email}
	creator := &domain.CreatorProfile{ID: uuid.New(), UserID: user.ID, Handle: handle, DisplayName: handle}
	r.users = append(r.users, user)
	r.creators = append(r.creators, creator)
	if walletAddress != "" {
		r.seedWallet(user, walletAddress, network)
	}
	return user, creator
}

func (r *memRepo) seedUser(email string) *domain.User {
	user := &domain.User{ID: uuid.New(), Email: email}
	r.users = append(r.users, user)
	return user
}

func (r *memRepo) seedWallet(user *domain.User, address string, network domain.Network) *domain.Wallet {
	w := &domain.Wallet{ID: uuid.New(), UserID: user.ID, Address: address, ProviderWalletID: "pw-" + address, Network: network}
	r.wallets = append(r.wallets, w)
	return w
}

func (r *memRepo) seedTipLink(creator *domain.CreatorProfile, slug string, amount *decimal.Decimal) *domain.PaymentLink {
	l := &domain.PaymentLink{ID: uuid.New(), CreatorID: creator.ID, Slug: slug, Type: domain.PaymentLinkTip, Title: "Tip", Amount: amount}
	r.links = append(r.links, l)
	return l
}

func (r *memRepo) seedTier(creator *domain.CreatorProfile, amount decimal.Decimal, intervalDays int) *domain.SubscriptionTier {
	t := &domain.SubscriptionTier{ID: uuid.New(), CreatorID: creator.ID, Name: "Supporter", Amount: amount, IntervalDays: intervalDays}
	r.tiers = append(r.tiers, t)
	return t
}

func (r *memRepo) seedSubscriptionLink(creator *domain.CreatorProfile, slug string, tier *domain.SubscriptionTier) *domain.PaymentLink {
	l := &domain.PaymentLink{ID: uuid.New(), CreatorID: creator.ID, Slug: slug, Type: domain.PaymentLinkSubscription, Title: "Membership"}
	if tier != nil {
		id := tier.ID
		l.TierID = &id
	}
	r.links = append(r.links, l)
	return l
}

func (r *memRepo) walletsFor(userID uuid.UUID) []domain.Wallet {
	ws, _ := r.ListWalletsByUser(context.Background(), userID)
	return ws
}

type stubProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *stubProvider) EnsureWallet(_ context.Context, email string, network domain.Network) (*wallet.ProvisionedWallet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	address := fmt.Sprintf("0x%040x", p.calls)
	return &wallet.ProvisionedWallet{ProviderID: "circle-" + email + "-" + string(network), Address: address, Network: network}, nil
}

// mintingProvider hands out a fresh provider id on every call, like a real custody API.
type mintingProvider struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (p *mintingProvider) EnsureWallet(_ context.Context, _ string, network domain.Network) (*wallet.ProvisionedWallet, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &wallet.ProvisionedWallet{
		ProviderID: fmt.Sprintf("circle-wallet-%d", p.calls),
		Address:    fmt.Sprintf("0x%040x", 0x1000+p.calls),
		Network:    network,
	}, nil
}

type transferCall struct {
	from, to string
	amount   decimal.Decimal
}

type stubTransferer struct {
	mu       sync.Mutex
	calls    []transferCall
	err      error
	balances map[string]decimal.Decimal
}

func (t *stubTransferer) Transfer(_ context.Context, from, to domain.Wallet, amount decimal.Decimal) (*wallet.TransferResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !amount.IsPositive() {
		return nil, wallet.ErrInvalidTransferAmount
	}
	t.calls = append(t.calls, transferCall{from: from.Address, to: to.Address, amount: amount})
	if t.err != nil {
		return nil, t.err
	}
	return &wallet.TransferResult{TxHash: fmt.Sprintf("0xhash%d", len(t.calls))}, nil
}

func (t *stubTransferer) Balance(_ context.Context, address string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[strings.ToLower(address)], nil
}

type stubSessions struct {
	err error
}

func (s stubSessions) BeginSession(_ context.Context, walletID string, network domain.Network) (*gasless.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &gasless.Session{ID: gasless.SessionID(walletID, network, "abc123")}, nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

type testHarness struct {
	svc        *Service
	repo       *memRepo
	provider   *stubProvider
	transferer *stubTransferer
	publisher  *recordingPublisher
}

func newHarness(opts Options) *testHarness {
	repo := newMemRepo()
	provider := &stubProvider{}
	transferer := &stubTransferer{balances: map[string]decimal.Decimal{}}
	publisher := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, provider, transferer, stubSessions{}, bridge.NewStub(), publisher, nil, logger, opts)
	return &testHarness{svc: svc, repo: repo, provider: provider, transferer: transferer, publisher: publisher}
}

// setNow pins both the service and repository clocks.
func (h *testHarness) setNow(t time.Time) {
	h.svc.now = func() time.Time { return t }
	h.repo.now = func() time.Time { return t }
}

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

var errUpstream = errors.New("upstream unavailable")
