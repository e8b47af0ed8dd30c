package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

func TestCreateCreator_IsIdempotent(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()
	bio := "  music  "

	first, existing, err := h.svc.CreateCreator(ctx, CreateCreatorRequest{
		Email:       "Creator@Example.com",
		Handle:      "Jane Doe",
		DisplayName: "Jane",
		Bio:         &bio,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existing {
		t.Fatal("first call should create")
	}
	if first.Handle != "jane-doe" || first.Bio == nil || *first.Bio != "music" {
		t.Fatalf("unexpected profile %+v", first)
	}

	second, existing, err := h.svc.CreateCreator(ctx, CreateCreatorRequest{Email: "creator@example.com", Handle: "jane-doe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !existing || second.ID != first.ID {
		t.Fatalf("expected the existing profile, got %+v existing=%v", second, existing)
	}
	if len(h.repo.creators) != 1 || len(h.repo.users) != 1 {
		t.Fatalf("expected one user and one creator, got %d and %d", len(h.repo.users), len(h.repo.creators))
	}
}

func TestCreateCreator_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateCreatorRequest
		wantErr error
	}{
		{name: "missing email", req: CreateCreatorRequest{Handle: "jane"}, wantErr: ErrInvalidEmail},
		{name: "blank handle", req: CreateCreatorRequest{Email: "a@b.co", Handle: "  "}, wantErr: ErrInvalidHandle},
		{name: "symbol-only handle", req: CreateCreatorRequest{Email: "a@b.co", Handle: "!!!"}, wantErr: ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{})
			if _, _, err := h.svc.CreateCreator(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindCreatorByEmail(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)
	h.repo.seedUser("fan@example.com")

	got, err := h.svc.FindCreatorByEmail(context.Background(), "creator@example.com")
	if err != nil || got == nil || got.ID != creator.ID {
		t.Fatalf("expected creator, got %+v err=%v", got, err)
	}
	for _, email := range []string{"fan@example.com", "nobody@example.com"} {
		got, err := h.svc.FindCreatorByEmail(context.Background(), email)
		if err != nil || got != nil {
			t.Fatalf("expected nil creator for %s, got %+v err=%v", email, got, err)
		}
	}
}

func TestGetCreatorPage_ByIDOrHandle(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)
	h.repo.seedTipLink(creator, "demo-tip", decPtr("10"))
	h.repo.seedTier(creator, decimal.NewFromInt(5), 30)

	for _, key := range []string{creator.ID.String(), "Demo"} {
		page, err := h.svc.GetCreatorPage(context.Background(), key)
		if err != nil {
			t.Fatalf("lookup %q: %v", key, err)
		}
		if page.Creator.ID != creator.ID || len(page.PaymentLinks) != 1 || len(page.SubscriptionTiers) != 1 {
			t.Fatalf("unexpected page for %q: %+v", key, page)
		}
	}
	if _, err := h.svc.GetCreatorPage(context.Background(), "missing"); !errors.Is(err, store.ErrCreatorNotFound) {
		t.Fatalf("expected ErrCreatorNotFound, got %v", err)
	}
}

func TestCreatorWallets_ProvisionsDefault(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)

	wallets, err := h.svc.CreatorWallets(context.Background(), creator.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wallets) != 1 || wallets[0].Network != domain.NetworkBase {
		t.Fatalf("expected one BASE wallet, got %+v", wallets)
	}
	if _, err := h.svc.CreatorWallets(context.Background(), creator.ID); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if h.provider.calls != 1 {
		t.Fatalf("expected one provisioning call, got %d", h.provider.calls)
	}
}

func TestCreatePaymentLink_RetriesSlugCollision(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "Demo", "", domain.NetworkBase)
	h.repo.forcedCollisions = 2

	link, err := h.svc.CreatePaymentLink(context.Background(), CreatePaymentLinkRequest{
		CreatorID: creator.ID,
		Type:      domain.PaymentLinkTip,
		Title:     "Coffee",
		Amount:    decPtr("3"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.repo.checkedSlugs) != 3 {
		t.Fatalf("expected three slug checks, got %v", h.repo.checkedSlugs)
	}
	for _, seeded := range h.repo.checkedSlugs[:2] {
		if link.Slug == seeded {
			t.Fatalf("slug %q reused a colliding value", link.Slug)
		}
	}
	if !strings.HasPrefix(link.Slug, "demo-") || len(link.Slug) != len("demo-")+slugSuffixLength {
		t.Fatalf("unexpected slug shape %q", link.Slug)
	}
}

func TestCreatePaymentLink_RetriesInsertRace(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)
	h.repo.duplicateOnInsert = 1

	link, err := h.svc.CreatePaymentLink(context.Background(), CreatePaymentLinkRequest{
		CreatorID: creator.ID,
		Type:      domain.PaymentLinkTip,
		Title:     "Coffee",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.repo.checkedSlugs) != 2 || link.Slug != h.repo.checkedSlugs[1] {
		t.Fatalf("expected a second slug after the insert race, checks=%v slug=%s", h.repo.checkedSlugs, link.Slug)
	}
}

func TestCreatePaymentLink_Validation(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)
	_, other := h.repo.seedCreator("other@example.com", "other", "", domain.NetworkBase)
	ownTier := h.repo.seedTier(creator, decimal.NewFromInt(5), 30)
	foreignTier := h.repo.seedTier(other, decimal.NewFromInt(5), 30)
	missing := uuid.New()

	tests := []struct {
		name    string
		req     CreatePaymentLinkRequest
		wantErr error
	}{
		{name: "bad type", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: "DONATION", Title: "x"}, wantErr: ErrInvalidLinkType},
		{name: "blank title", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkTip, Title: " "}, wantErr: ErrInvalidTitle},
		{name: "negative amount", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkTip, Title: "x", Amount: decPtr("-1")}, wantErr: ErrInvalidAmount},
		{name: "sub-unit amount", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkTip, Title: "x", Amount: decPtr("10.1234567")}, wantErr: ErrInvalidAmount},
		{name: "subscription without tier", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkSubscription, Title: "x"}, wantErr: ErrTierMissing},
		{name: "foreign tier", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkSubscription, Title: "x", TierID: &foreignTier.ID}, wantErr: ErrTierOwnership},
		{name: "unknown tier", req: CreatePaymentLinkRequest{CreatorID: creator.ID, Type: domain.PaymentLinkSubscription, Title: "x", TierID: &missing}, wantErr: store.ErrTierNotFound},
		{name: "unknown creator", req: CreatePaymentLinkRequest{CreatorID: uuid.New(), Type: domain.PaymentLinkTip, Title: "x"}, wantErr: store.ErrCreatorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.CreatePaymentLink(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	link, err := h.svc.CreatePaymentLink(context.Background(), CreatePaymentLinkRequest{
		CreatorID: creator.ID, Type: domain.PaymentLinkSubscription, Title: "Members", TierID: &ownTier.ID,
	})
	if err != nil {
		t.Fatalf("own tier: %v", err)
	}
	if link.TierID == nil || *link.TierID != ownTier.ID {
		t.Fatalf("expected tier reference, got %+v", link)
	}
}

func TestGetPaymentLink_NotFound(t *testing.T) {
	h := newHarness(Options{})
	if _, err := h.svc.GetPaymentLink(context.Background(), "ghost"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestCreateTier_Validation(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", "", domain.NetworkBase)

	tests := []struct {
		name    string
		req     CreateTierRequest
		wantErr error
	}{
		{name: "no name", req: CreateTierRequest{CreatorID: creator.ID, Amount: decimal.NewFromInt(1), IntervalDays: 30}, wantErr: ErrInvalidTierName},
		{name: "zero amount", req: CreateTierRequest{CreatorID: creator.ID, Name: "Gold", IntervalDays: 30}, wantErr: ErrInvalidAmount},
		{name: "sub-unit amount", req: CreateTierRequest{CreatorID: creator.ID, Name: "Gold", Amount: decimal.RequireFromString("0.0000001"), IntervalDays: 30}, wantErr: ErrInvalidAmount},
		{name: "zero interval", req: CreateTierRequest{CreatorID: creator.ID, Name: "Gold", Amount: decimal.NewFromInt(1)}, wantErr: ErrInvalidInterval},
		{name: "unknown creator", req: CreateTierRequest{CreatorID: uuid.New(), Name: "Gold", Amount: decimal.NewFromInt(1), IntervalDays: 7}, wantErr: store.ErrCreatorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.CreateTier(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	tier, err := h.svc.CreateTier(context.Background(), CreateTierRequest{CreatorID: creator.ID, Name: " Gold ", Amount: decimal.NewFromInt(9), IntervalDays: 30})
	if err != nil || tier.Name != "Gold" {
		t.Fatalf("unexpected tier %+v err=%v", tier, err)
	}
}

func TestDeleteTier_Cascades(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", creatorAddress, domain.NetworkBase)
	tier := h.repo.seedTier(creator, decimal.NewFromInt(5), 30)
	keep := h.repo.seedTier(creator, decimal.NewFromInt(9), 30)
	h.repo.seedSubscriptionLink(creator, "members", tier)
	h.repo.seedSubscriptionLink(creator, "members-2", tier)
	h.repo.seedSubscriptionLink(creator, "gold", keep)
	h.repo.seedTipLink(creator, "demo-tip", decPtr("1"))

	if _, err := h.svc.Pay(context.Background(), PaymentRequest{LinkSlug: "members", Email: "fan@example.com"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := h.svc.Pay(context.Background(), PaymentRequest{LinkSlug: "gold", Email: "fan@example.com"}); err != nil {
		t.Fatalf("subscribe gold: %v", err)
	}

	deletion, err := h.svc.DeleteTier(context.Background(), tier.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deletion.SubscriptionsRemoved != 1 || deletion.LinksRemoved != 2 {
		t.Fatalf("unexpected deletion report %+v", deletion)
	}
	for _, l := range h.repo.links {
		if l.TierID != nil && *l.TierID == tier.ID {
			t.Fatalf("link %s still references the deleted tier", l.Slug)
		}
	}
	if len(h.repo.links) != 2 || len(h.repo.subs) != 1 || len(h.repo.payments) != 1 {
		t.Fatalf("unexpected remaining state: links=%d subs=%d payments=%d", len(h.repo.links), len(h.repo.subs), len(h.repo.payments))
	}
	if _, err := h.repo.FindTierByID(context.Background(), tier.ID); !errors.Is(err, store.ErrTierNotFound) {
		t.Fatal("expected the tier to be gone")
	}
	if _, err := h.svc.DeleteTier(context.Background(), tier.ID); !errors.Is(err, store.ErrTierNotFound) {
		t.Fatalf("expected ErrTierNotFound on second delete, got %v", err)
	}
}

func TestListSubscribers(t *testing.T) {
	h := newHarness(Options{})
	_, creator := h.repo.seedCreator("creator@example.com", "demo", creatorAddress, domain.NetworkBase)
	tier := h.repo.seedTier(creator, decimal.NewFromInt(5), 30)
	h.repo.seedSubscriptionLink(creator, "members", tier)

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := h.svc.Pay(context.Background(), PaymentRequest{LinkSlug: "members", Email: email}); err != nil {
			t.Fatalf("subscribe %s: %v", email, err)
		}
	}
	subs, err := h.svc.ListSubscribers(context.Background(), tier.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 2 || subs[0].UserEmail != "a@example.com" {
		t.Fatalf("unexpected subscribers %+v", subs)
	}
	if _, err := h.svc.ListSubscribers(context.Background(), uuid.New()); !errors.Is(err, store.ErrTierNotFound) {
		t.Fatalf("expected ErrTierNotFound, got %v", err)
	}
}

func TestUpdateSubscriptionStatus(t *testing.T) {
	h := newHarness(Options{})
	sub := &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionActive}
	h.repo.subs = append(h.repo.subs, sub)

	for _, raw := range []string{"", "active", "EXPIRED"} {
		if _, err := h.svc.UpdateSubscriptionStatus(context.Background(), sub.ID, raw); !errors.Is(err, ErrInvalidSubscriptionStatus) {
			t.Fatalf("expected %q to be rejected, got %v", raw, err)
		}
	}

	updated, err := h.svc.UpdateSubscriptionStatus(context.Background(), sub.ID, "PAUSED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.SubscriptionPaused {
		t.Fatalf("expected PAUSED, got %s", updated.Status)
	}
	if keys := h.publisher.keys(); len(keys) != 1 || keys[0] != domain.EventSubscriptionStatusChange {
		t.Fatalf("unexpected events %v", keys)
	}
	if _, err := h.svc.UpdateSubscriptionStatus(context.Background(), uuid.New(), "CANCELLED"); !errors.Is(err, store.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
