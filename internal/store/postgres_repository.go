/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for users, creator profiles, payment links and subscription tiers. Wallets, tips
 * and subscriptions live in postgres_payments.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns are read as text and parsed into decimals.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

// PostgresRepository is a concrete implementation of Repository, LedgerStore and
// ProviderStateStore for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", raw, err)
	}
	return d, nil
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseDecimal(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalNumeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// GetOrCreateUserByEmail returns the user with the given email, creating it when absent.
func (r *PostgresRepository) GetOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET updated_at = users.updated_at
		RETURNING id, email, name, created_at
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), strings.TrimSpace(email)).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail retrieves a user by email.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, name, created_at FROM users WHERE email = $1`
	err := r.db.QueryRow(ctx, query, strings.TrimSpace(email)).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves a user by primary key.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, name, created_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

const creatorColumns = `id, user_id, handle, display_name, bio, avatar_url, created_at`

func scanCreator(row rowScanner) (*domain.CreatorProfile, error) {
	var p domain.CreatorProfile
	if err := row.Scan(&p.ID, &p.UserID, &p.Handle, &p.DisplayName, &p.Bio, &p.AvatarURL, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindCreatorByUserOrHandle returns the profile owned by userID or already using handle.
func (r *PostgresRepository) FindCreatorByUserOrHandle(ctx context.Context, userID uuid.UUID, handle string) (*domain.CreatorProfile, error) {
	query := `SELECT ` + creatorColumns + ` FROM creator_profiles WHERE user_id = $1 OR handle = $2 ORDER BY (user_id = $1) DESC LIMIT 1`
	return scanCreator(r.db.QueryRow(ctx, query, userID, handle))
}

// CreateCreatorProfile inserts a new profile. A handle or user collision maps to the existing row.
func (r *PostgresRepository) CreateCreatorProfile(ctx context.Context, profile *domain.CreatorProfile) (*domain.CreatorProfile, error) {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	query := `
		INSERT INTO creator_profiles (id, user_id, handle, display_name, bio, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + creatorColumns
	created, err := scanCreator(r.db.QueryRow(ctx, query, profile.ID, profile.UserID, profile.Handle, profile.DisplayName, profile.Bio, profile.AvatarURL))
	if err != nil && isUniqueViolation(err) {
		return r.FindCreatorByUserOrHandle(ctx, profile.UserID, profile.Handle)
	}
	return created, err
}

// FindCreatorByID retrieves a creator profile by id.
func (r *PostgresRepository) FindCreatorByID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorProfile, error) {
	return scanCreator(r.db.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creator_profiles WHERE id = $1`, creatorID))
}

// FindCreatorByHandle retrieves a creator profile by handle.
func (r *PostgresRepository) FindCreatorByHandle(ctx context.Context, handle string) (*domain.CreatorProfile, error) {
	return scanCreator(r.db.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creator_profiles WHERE handle = $1`, handle))
}

// FindCreatorByUserID retrieves the profile owned by a user.
func (r *PostgresRepository) FindCreatorByUserID(ctx context.Context, userID uuid.UUID) (*domain.CreatorProfile, error) {
	return scanCreator(r.db.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creator_profiles WHERE user_id = $1`, userID))
}

// PaymentLinkSlugExists reports whether a slug is already taken.
func (r *PostgresRepository) PaymentLinkSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_links WHERE slug = $1)`, slug).Scan(&exists)
	return exists, err
}

const linkColumns = `l.id, l.creator_id, l.slug, l.type, l.title, l.description, l.amount::text, l.tier_id, l.metadata, l.created_at`

func scanLink(row rowScanner, extra ...any) (*domain.PaymentLink, error) {
	var (
		link   domain.PaymentLink
		amount *string
	)
	dest := append([]any{&link.ID, &link.CreatorID, &link.Slug, &link.Type, &link.Title, &link.Description, &amount, &link.TierID, &link.Metadata, &link.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentLinkNotFound
		}
		return nil, err
	}
	parsed, err := parseOptionalDecimal(amount)
	if err != nil {
		return nil, err
	}
	link.Amount = parsed
	return &link, nil
}

// CreatePaymentLink inserts a link. A slug collision returns ErrDuplicateSlug.
func (r *PostgresRepository) CreatePaymentLink(ctx context.Context, link *domain.PaymentLink) (*domain.PaymentLink, error) {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	query := `
		INSERT INTO payment_links AS l (id, creator_id, slug, type, title, description, amount, tier_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		RETURNING ` + linkColumns
	created, err := scanLink(r.db.QueryRow(ctx, query,
		link.ID, link.CreatorID, link.Slug, link.Type, link.Title, link.Description,
		optionalNumeric(link.Amount), link.TierID, nullableJSON(link.Metadata),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSlug
		}
		return nil, err
	}
	return created, nil
}

// FindPaymentLinkBySlug loads a link together with its creator and, for SUBSCRIPTION links, its tier.
func (r *PostgresRepository) FindPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	query := `
		SELECT ` + linkColumns + `,
			c.id, c.user_id, c.handle, c.display_name, c.bio, c.avatar_url, c.created_at,
			t.id, t.creator_id, t.name, t.description, t.amount::text, t.interval_days, t.created_at
		FROM payment_links l
		JOIN creator_profiles c ON c.id = l.creator_id
		LEFT JOIN subscription_tiers t ON t.id = l.tier_id
		WHERE l.slug = $1
	`
	var (
		creator      domain.CreatorProfile
		tierID       *uuid.UUID
		tierCreator  *uuid.UUID
		tierName     *string
		tierDesc     *string
		tierAmount   *string
		tierInterval *int
		tierCreated  *time.Time
	)
	link, err := scanLink(r.db.QueryRow(ctx, query, slug),
		&creator.ID, &creator.UserID, &creator.Handle, &creator.DisplayName, &creator.Bio, &creator.AvatarURL, &creator.CreatedAt,
		&tierID, &tierCreator, &tierName, &tierDesc, &tierAmount, &tierInterval, &tierCreated,
	)
	if err != nil {
		return nil, err
	}
	link.Creator = &creator
	if tierID != nil {
		amount, err := parseDecimal(derefString(tierAmount))
		if err != nil {
			return nil, err
		}
		tier := domain.SubscriptionTier{
			ID:          *tierID,
			CreatorID:   *tierCreator,
			Name:        derefString(tierName),
			Description: tierDesc,
			Amount:      amount,
		}
		if tierInterval != nil {
			tier.IntervalDays = *tierInterval
		}
		if tierCreated != nil {
			tier.CreatedAt = *tierCreated
		}
		link.Tier = &tier
	}
	return link, nil
}

// ListPaymentLinksByCreator returns a creator's links, newest first.
func (r *PostgresRepository) ListPaymentLinksByCreator(ctx context.Context, creatorID uuid.UUID) ([]domain.PaymentLink, error) {
	rows, err := r.db.Query(ctx, `SELECT `+linkColumns+` FROM payment_links l WHERE l.creator_id = $1 ORDER BY l.created_at DESC`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []domain.PaymentLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

const tierColumns = `id, creator_id, name, description, amount::text, interval_days, created_at`

func scanTier(row rowScanner) (*domain.SubscriptionTier, error) {
	var (
		tier   domain.SubscriptionTier
		amount string
	)
	if err := row.Scan(&tier.ID, &tier.CreatorID, &tier.Name, &tier.Description, &amount, &tier.IntervalDays, &tier.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTierNotFound
		}
		return nil, err
	}
	parsed, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	tier.Amount = parsed
	return &tier, nil
}

// CreateTier inserts a subscription tier.
func (r *PostgresRepository) CreateTier(ctx context.Context, tier *domain.SubscriptionTier) (*domain.SubscriptionTier, error) {
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	query := `
		INSERT INTO subscription_tiers (id, creator_id, name, description, amount, interval_days)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING ` + tierColumns
	return scanTier(r.db.QueryRow(ctx, query, tier.ID, tier.CreatorID, tier.Name, tier.Description, tier.Amount.String(), tier.IntervalDays))
}

// FindTierByID retrieves a tier by id.
func (r *PostgresRepository) FindTierByID(ctx context.Context, tierID uuid.UUID) (*domain.SubscriptionTier, error) {
	return scanTier(r.db.QueryRow(ctx, `SELECT `+tierColumns+` FROM subscription_tiers WHERE id = $1`, tierID))
}

// ListTiersByCreator returns a creator's tiers, newest first.
func (r *PostgresRepository) ListTiersByCreator(ctx context.Context, creatorID uuid.UUID) ([]domain.SubscriptionTier, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tierColumns+` FROM subscription_tiers WHERE creator_id = $1 ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := []domain.SubscriptionTier{}
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, *tier)
	}
	return tiers, rows.Err()
}

// DeleteTierCascade removes a tier's subscriptions, then its links, then the tier itself
// inside one transaction.
func (r *PostgresRepository) DeleteTierCascade(ctx context.Context, tierID uuid.UUID) (*TierDeletion, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM subscription_tiers WHERE id = $1 FOR UPDATE`, tierID).Scan(&locked); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTierNotFound
		}
		return nil, err
	}

	subs, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE tier_id = $1`, tierID)
	if err != nil {
		return nil, fmt.Errorf("delete subscriptions: %w", err)
	}
	links, err := tx.Exec(ctx, `DELETE FROM payment_links WHERE tier_id = $1`, tierID)
	if err != nil {
		return nil, fmt.Errorf("delete payment links: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM subscription_tiers WHERE id = $1`, tierID); err != nil {
		return nil, fmt.Errorf("delete tier: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &TierDeletion{
		TierID:               tierID,
		SubscriptionsRemoved: subs.RowsAffected(),
		LinksRemoved:         links.RowsAffected(),
	}, nil
}

// ListSubscribersByTier returns every subscription for a tier with the subscriber's email.
func (r *PostgresRepository) ListSubscribersByTier(ctx context.Context, tierID uuid.UUID) ([]domain.Subscriber, error) {
	query := `
		SELECT s.id, u.email, s.status, s.created_at, s.last_payment_at, s.next_billing_at
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.tier_id = $1
		ORDER BY s.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscribers := []domain.Subscriber{}
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.UserEmail, &s.Status, &s.CreatedAt, &s.LastPaymentAt, &s.NextBillingAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
