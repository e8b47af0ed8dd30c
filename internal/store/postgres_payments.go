/**
 * @description
 * PostgreSQL implementation of the wallet, tip and subscription parts of the
 * Repository interface.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

const walletColumns = `id, user_id, address, provider_wallet_id, network, placeholder, created_at`

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.ProviderWalletID, &w.Network, &w.Placeholder, &w.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindWallet matches a wallet by owner, address (case-insensitive) and network.
func (r *PostgresRepository) FindWallet(ctx context.Context, userID uuid.UUID, address string, network domain.Network) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND lower(address) = lower($2) AND network = $3 LIMIT 1`
	return scanWallet(r.db.QueryRow(ctx, query, userID, strings.TrimSpace(address), network))
}

// FindWalletByUserAndNetwork returns the oldest wallet a user holds on a network.
func (r *PostgresRepository) FindWalletByUserAndNetwork(ctx context.Context, userID uuid.UUID, network domain.Network) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND network = $2 ORDER BY created_at ASC LIMIT 1`
	return scanWallet(r.db.QueryRow(ctx, query, userID, network))
}

// LockWalletProvisioning holds a session advisory lock on (user, network) so that only one
// caller provisions a custodial wallet for the pair. The returned func releases the lock.
func (r *PostgresRepository) LockWalletProvisioning(ctx context.Context, userID uuid.UUID, network domain.Network) (func(), error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	key := walletLockKey(userID, network)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock wallet provisioning: %w", err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// Closing the session drops the lock with it.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

func walletLockKey(userID uuid.UUID, network domain.Network) string {
	return "arcdrop:wallet:" + userID.String() + ":" + string(network)
}

// FindWalletByAddress returns the wallet with the given address on any network.
func (r *PostgresRepository) FindWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE lower(address) = lower($1) ORDER BY created_at ASC LIMIT 1`
	return scanWallet(r.db.QueryRow(ctx, query, strings.TrimSpace(address)))
}

// ListWalletsByUser returns every wallet a user owns.
func (r *PostgresRepository) ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := []domain.Wallet{}
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// UpsertWallet inserts a wallet keyed by provider wallet id, refreshing address and network on conflict.
func (r *PostgresRepository) UpsertWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	query := `
		INSERT INTO wallets (id, user_id, address, provider_wallet_id, network, placeholder)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_wallet_id) DO UPDATE
		SET address = EXCLUDED.address,
			network = EXCLUDED.network,
			placeholder = EXCLUDED.placeholder,
			updated_at = NOW()
		RETURNING ` + walletColumns
	return scanWallet(r.db.QueryRow(ctx, query, wallet.ID, wallet.UserID, wallet.Address, wallet.ProviderWalletID, wallet.Network, wallet.Placeholder))
}

const tipColumns = `id, creator_id, payment_link_id, from_user_id, amount::text, status, tx_hash, failure_reason, metadata, created_at, updated_at`

func scanTip(row rowScanner) (*domain.Tip, error) {
	var (
		tip    domain.Tip
		amount string
	)
	err := row.Scan(&tip.ID, &tip.CreatorID, &tip.PaymentLinkID, &tip.FromUserID, &amount, &tip.Status,
		&tip.TxHash, &tip.FailureReason, &tip.Metadata, &tip.CreatedAt, &tip.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTipNotFound
		}
		return nil, err
	}
	parsed, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	tip.Amount = parsed
	return &tip, nil
}

// CreateTip inserts a tip, normally in PENDING state.
func (r *PostgresRepository) CreateTip(ctx context.Context, tip *domain.Tip) (*domain.Tip, error) {
	if tip.ID == uuid.Nil {
		tip.ID = uuid.New()
	}
	if tip.Status == "" {
		tip.Status = domain.TipPending
	}
	query := `
		INSERT INTO tips (id, creator_id, payment_link_id, from_user_id, amount, status, metadata)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		RETURNING ` + tipColumns
	return scanTip(r.db.QueryRow(ctx, query, tip.ID, tip.CreatorID, tip.PaymentLinkID, tip.FromUserID, tip.Amount.String(), tip.Status, nullableJSON(tip.Metadata)))
}

// SettleTip moves a PENDING tip to SETTLED. Tips already in a terminal state are returned unchanged.
func (r *PostgresRepository) SettleTip(ctx context.Context, tipID uuid.UUID, txHash string, metadata json.RawMessage) (*domain.Tip, error) {
	query := `
		UPDATE tips
		SET status = 'SETTLED', tx_hash = $2, metadata = COALESCE($3, metadata), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + tipColumns
	tip, err := scanTip(r.db.QueryRow(ctx, query, tipID, txHash, nullableJSON(metadata)))
	if err == ErrTipNotFound {
		return scanTip(r.db.QueryRow(ctx, `SELECT `+tipColumns+` FROM tips WHERE id = $1`, tipID))
	}
	return tip, err
}

// MarkTipFailed moves a PENDING tip to FAILED and reports whether a row changed.
func (r *PostgresRepository) MarkTipFailed(ctx context.Context, tipID uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tips SET status = 'FAILED', failure_reason = $2, updated_at = NOW() WHERE id = $1 AND status = 'PENDING'`,
		tipID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStalePendingTips returns PENDING tips created before olderThan, oldest first.
func (r *PostgresRepository) ListStalePendingTips(ctx context.Context, olderThan time.Time, limit int) ([]domain.Tip, error) {
	query := `SELECT ` + tipColumns + ` FROM tips WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tips := []domain.Tip{}
	for rows.Next() {
		tip, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		tips = append(tips, *tip)
	}
	return tips, rows.Err()
}

// SumSettledTipsByCreator totals every SETTLED tip received by a creator.
func (r *PostgresRepository) SumSettledTipsByCreator(ctx context.Context, creatorID uuid.UUID) (decimal.Decimal, error) {
	var total string
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM tips WHERE creator_id = $1 AND status = 'SETTLED'`, creatorID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(total)
}

const subscriptionColumns = `id, user_id, tier_id, status, next_billing_at, last_payment_at, created_at`

func scanSubscription(row rowScanner, extra ...any) (*domain.Subscription, error) {
	var s domain.Subscription
	dest := append([]any{&s.ID, &s.UserID, &s.TierID, &s.Status, &s.NextBillingAt, &s.LastPaymentAt, &s.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// UpsertSubscription creates or rewrites the (user, tier) subscription and reports whether it was newly inserted.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, params UpsertSubscriptionParams) (*domain.Subscription, bool, error) {
	query := `
		INSERT INTO subscriptions (id, user_id, tier_id, status, next_billing_at, last_payment_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, tier_id) DO UPDATE
		SET status = EXCLUDED.status,
			next_billing_at = EXCLUDED.next_billing_at,
			last_payment_at = EXCLUDED.last_payment_at,
			updated_at = NOW()
		RETURNING ` + subscriptionColumns + `, (xmax = 0) AS inserted
	`
	var inserted bool
	sub, err := scanSubscription(
		r.db.QueryRow(ctx, query, uuid.New(), params.UserID, params.TierID, params.Status, params.NextBillingAt, params.LastPaymentAt),
		&inserted,
	)
	if err != nil {
		return nil, false, err
	}
	return sub, inserted, nil
}

// FindSubscriptionByID retrieves a subscription by id.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, subscriptionID))
}

// UpdateSubscriptionStatus sets the status of a subscription.
func (r *PostgresRepository) UpdateSubscriptionStatus(ctx context.Context, subscriptionID uuid.UUID, status domain.SubscriptionStatus) (*domain.Subscription, error) {
	query := `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, status))
}

// AdvanceSubscriptionBilling records a renewal charge on an ACTIVE subscription.
func (r *PostgresRepository) AdvanceSubscriptionBilling(ctx context.Context, subscriptionID uuid.UUID, nextBillingAt, lastPaymentAt time.Time) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET next_billing_at = $2, last_payment_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, nextBillingAt, lastPaymentAt))
}

// AppendSubscriptionPayment adds a row to the payment ledger. The returned payment carries its sequence number.
func (r *PostgresRepository) AppendSubscriptionPayment(ctx context.Context, payment *domain.SubscriptionPayment) (*domain.SubscriptionPayment, error) {
	query := `
		INSERT INTO subscription_payments (subscription_id, kind, amount, tx_hash, gasless_session_id, gasless_token, gasless_expires_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		RETURNING sequence, created_at
	`
	out := *payment
	err := r.db.QueryRow(ctx, query,
		payment.SubscriptionID, payment.Kind, payment.Amount.String(), payment.TxHash,
		payment.GaslessSessionID, payment.GaslessToken, payment.GaslessExpiresAt,
	).Scan(&out.Sequence, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append subscription payment: %w", err)
	}
	return &out, nil
}

// ListDueSubscriptions returns ACTIVE subscriptions whose billing date is at or before now.
func (r *PostgresRepository) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'ACTIVE' AND next_billing_at <= $1
		ORDER BY next_billing_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
