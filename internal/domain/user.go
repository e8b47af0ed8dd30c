/**
 * @description
 * Core identity and creator models. A User is created on first contact (tip,
 * subscribe or onboarding) and may own one CreatorProfile.
 */
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the identity anchor for payers and creators.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreatorProfile is a user's public monetization identity.
type CreatorProfile struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
	Bio         *string   `json:"bio,omitempty"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreatorPage is the public creator view with its links and tiers.
type CreatorPage struct {
	Creator           CreatorProfile     `json:"creator"`
	PaymentLinks      []PaymentLink      `json:"paymentLinks"`
	SubscriptionTiers []SubscriptionTier `json:"subscriptionTiers"`
}

var handleDisallowed = regexp.MustCompile(`[^a-z0-9_-]`)

// SanitizeHandle lowercases a handle and replaces anything outside [a-z0-9_-] with '-'.
func SanitizeHandle(handle string) string {
	return handleDisallowed.ReplaceAllString(strings.ToLower(strings.TrimSpace(handle)), "-")
}
