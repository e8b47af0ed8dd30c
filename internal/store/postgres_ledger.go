package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SeedLedgerBalance sets an opening balance for an address that has none yet.
func (r *PostgresRepository) SeedLedgerBalance(ctx context.Context, address string, amount decimal.Decimal) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ledger_balances (address, balance) VALUES ($1, $2::numeric) ON CONFLICT (address) DO NOTHING`,
		ledgerKey(address), amount.String())
	return err
}

// GetLedgerBalance returns the simulated balance of an address, zero when unknown.
func (r *PostgresRepository) GetLedgerBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var balance string
	err := r.db.QueryRow(ctx, `SELECT balance::text FROM ledger_balances WHERE address = $1`, ledgerKey(address)).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return parseDecimal(balance)
}

// ApplyLedgerTransfer debits the sender, clamped at zero, and credits the recipient atomically.
func (r *PostgresRepository) ApplyLedgerTransfer(ctx context.Context, fromAddress, toAddress string, amount decimal.Decimal) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock both rows in a stable order to avoid deadlocks between opposite transfers.
	from, to := ledgerKey(fromAddress), ledgerKey(toAddress)
	for _, key := range sortedPair(from, to) {
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_balances (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, key); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM ledger_balances WHERE address = $1 FOR UPDATE`, key); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_balances SET balance = GREATEST(balance - $2::numeric, 0), updated_at = NOW() WHERE address = $1`,
		from, amount.String()); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE ledger_balances SET balance = balance + $2::numeric, updated_at = NOW() WHERE address = $1`,
		to, amount.String()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetProviderState reads a provider-owned value.
func (r *PostgresRepository) GetProviderState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM provider_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrProviderStateMissing
		}
		return "", err
	}
	return value, nil
}

// PutProviderState writes a provider-owned value.
func (r *PostgresRepository) PutProviderState(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO provider_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

func ledgerKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func sortedPair(a, b string) []string {
	if a == b {
		return []string{a}
	}
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}
