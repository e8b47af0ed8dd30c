package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/store"
)

// CreateCreatorRequest carries onboarding input.
type CreateCreatorRequest struct {
	Email       string
	Handle      string
	DisplayName string
	Bio         *string
	AvatarURL   *string
}

// CreatePaymentLinkRequest carries a new link definition.
type CreatePaymentLinkRequest struct {
	CreatorID   uuid.UUID
	Type        domain.PaymentLinkType
	Title       string
	Description *string
	Amount      *decimal.Decimal
	TierID      *uuid.UUID
	Metadata    json.RawMessage
}

// CreateTierRequest carries a new subscription tier.
type CreateTierRequest struct {
	CreatorID    uuid.UUID
	Name         string
	Description  *string
	Amount       decimal.Decimal
	IntervalDays int
}

// CreateCreator upserts the user and returns their creator profile. When the user or the
// handle already has a profile, that profile is returned with existing set.
func (s *Service) CreateCreator(ctx context.Context, req CreateCreatorRequest) (profile *domain.CreatorProfile, existing bool, err error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, false, ErrInvalidEmail
	}
	handle := domain.SanitizeHandle(req.Handle)
	if strings.Trim(handle, "-_") == "" {
		return nil, false, ErrInvalidHandle
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(req.Handle)
	}

	user, err := s.repo.GetOrCreateUserByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}

	found, err := s.repo.FindCreatorByUserOrHandle(ctx, user.ID, handle)
	if err == nil {
		return found, true, nil
	}
	if !errors.Is(err, store.ErrCreatorNotFound) {
		return nil, false, fmt.Errorf("find creator: %w", err)
	}

	created, err := s.repo.CreateCreatorProfile(ctx, &domain.CreatorProfile{
		UserID:      user.ID,
		Handle:      handle,
		DisplayName: displayName,
		Bio:         trimOptional(req.Bio),
		AvatarURL:   trimOptional(req.AvatarURL),
	})
	if err != nil {
		return nil, false, fmt.Errorf("create creator: %w", err)
	}
	s.logger.Info("creator created", "creator_id", created.ID, "handle", created.Handle)
	return created, created.UserID != user.ID || created.Handle != handle, nil
}

// FindCreatorByEmail returns the creator owned by email, or nil when there is none.
func (s *Service) FindCreatorByEmail(ctx context.Context, email string) (*domain.CreatorProfile, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	creator, err := s.repo.FindCreatorByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return creator, nil
}

// GetCreatorPage loads a creator by id or handle with their links and tiers.
func (s *Service) GetCreatorPage(ctx context.Context, idOrHandle string) (*domain.CreatorPage, error) {
	creator, err := s.findCreator(ctx, idOrHandle)
	if err != nil {
		return nil, err
	}
	links, err := s.repo.ListPaymentLinksByCreator(ctx, creator.ID)
	if err != nil {
		return nil, fmt.Errorf("list payment links: %w", err)
	}
	tiers, err := s.repo.ListTiersByCreator(ctx, creator.ID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return &domain.CreatorPage{Creator: *creator, PaymentLinks: links, SubscriptionTiers: tiers}, nil
}

// CreatorWallets lists the creator's wallets, provisioning one on the default network when
// they have none yet.
func (s *Service) CreatorWallets(ctx context.Context, creatorID uuid.UUID) ([]domain.WalletSummary, error) {
	creator, err := s.repo.FindCreatorByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	owner, err := s.repo.FindUserByID(ctx, creator.UserID)
	if err != nil {
		return nil, err
	}
	wallets, err := s.repo.ListWalletsByUser(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		w, err := s.ensureUserWallet(ctx, owner, domain.DefaultNetwork)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return summaries(wallets), nil
}

// CreatePaymentLink validates the definition and stores it under a fresh slug.
func (s *Service) CreatePaymentLink(ctx context.Context, req CreatePaymentLinkRequest) (*domain.PaymentLink, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidLinkType
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if req.Amount != nil && !domain.ValidUSDCAmount(*req.Amount) {
		return nil, ErrInvalidAmount
	}
	if req.Type == domain.PaymentLinkSubscription && req.TierID == nil {
		return nil, ErrTierMissing
	}

	creator, err := s.repo.FindCreatorByID(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}

	var tierID *uuid.UUID
	if req.Type == domain.PaymentLinkSubscription {
		tier, err := s.repo.FindTierByID(ctx, *req.TierID)
		if err != nil {
			return nil, err
		}
		if tier.CreatorID != creator.ID {
			return nil, ErrTierOwnership
		}
		tierID = &tier.ID
	}

	for {
		slug, err := s.newSlug(ctx, creator.Handle)
		if err != nil {
			return nil, err
		}
		link, err := s.repo.CreatePaymentLink(ctx, &domain.PaymentLink{
			CreatorID:   creator.ID,
			Slug:        slug,
			Type:        req.Type,
			Title:       title,
			Description: trimOptional(req.Description),
			Amount:      req.Amount,
			TierID:      tierID,
			Metadata:    req.Metadata,
		})
		if errors.Is(err, store.ErrDuplicateSlug) {
			// Lost a race for the slug between the existence check and the insert.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create payment link: %w", err)
		}
		s.logger.Info("payment link created", "link_id", link.ID, "slug", link.Slug, "type", link.Type)
		return link, nil
	}
}

// GetPaymentLink returns a link with its creator and tier.
func (s *Service) GetPaymentLink(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	return s.findLink(ctx, slug)
}

// CreateTier adds a recurring price point to a creator.
func (s *Service) CreateTier(ctx context.Context, req CreateTierRequest) (*domain.SubscriptionTier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidTierName
	}
	if !domain.ValidUSDCAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if req.IntervalDays <= 0 {
		return nil, ErrInvalidInterval
	}
	creator, err := s.repo.FindCreatorByID(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateTier(ctx, &domain.SubscriptionTier{
		CreatorID:    creator.ID,
		Name:         name,
		Description:  trimOptional(req.Description),
		Amount:       req.Amount,
		IntervalDays: req.IntervalDays,
	})
}

// DeleteTier removes the tier together with its subscriptions and the links pointing at it.
func (s *Service) DeleteTier(ctx context.Context, tierID uuid.UUID) (*store.TierDeletion, error) {
	deletion, err := s.repo.DeleteTierCascade(ctx, tierID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tier deleted", "tier_id", tierID,
		"subscriptions_removed", deletion.SubscriptionsRemoved, "links_removed", deletion.LinksRemoved)
	return deletion, nil
}

// ListSubscribers returns every subscription on a tier with the subscriber's email.
func (s *Service) ListSubscribers(ctx context.Context, tierID uuid.UUID) ([]domain.Subscriber, error) {
	if _, err := s.repo.FindTierByID(ctx, tierID); err != nil {
		return nil, err
	}
	return s.repo.ListSubscribersByTier(ctx, tierID)
}

// GetSubscription loads a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	return s.repo.FindSubscriptionByID(ctx, subscriptionID)
}

// UpdateSubscriptionStatus moves a subscription to ACTIVE, PAUSED or CANCELLED.
func (s *Service) UpdateSubscriptionStatus(ctx context.Context, subscriptionID uuid.UUID, rawStatus string) (*domain.Subscription, error) {
	status, ok := domain.ParseSubscriptionStatus(strings.TrimSpace(rawStatus))
	if !ok {
		return nil, ErrInvalidSubscriptionStatus
	}
	sub, err := s.repo.UpdateSubscriptionStatus(ctx, subscriptionID, status)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventSubscriptionStatusChange, domain.SubscriptionStatusEvent{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		Timestamp:      s.now().UTC(),
	})
	return sub, nil
}

func (s *Service) findCreator(ctx context.Context, idOrHandle string) (*domain.CreatorProfile, error) {
	idOrHandle = strings.TrimSpace(idOrHandle)
	if id, err := uuid.Parse(idOrHandle); err == nil {
		return s.repo.FindCreatorByID(ctx, id)
	}
	return s.repo.FindCreatorByHandle(ctx, domain.SanitizeHandle(idOrHandle))
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func summaries(wallets []domain.Wallet) []domain.WalletSummary {
	out := make([]domain.WalletSummary, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, w.Summary())
	}
	return out
}
