package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EnsureWallet creates the wallet on first interaction and refreshes the
// display name on subsequent ones.
func (r *Repository) EnsureWallet(ctx context.Context, userID int64, name string) (*Wallet, error) {
	const q = `
INSERT INTO wallets (user_id, name)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET
    name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE wallets.name END,
    updated_at = NOW()
RETURNING user_id, name, balance, held, created_at, updated_at;
`
	var w Wallet
	err := r.pool.QueryRow(ctx, q, userID, name).Scan(
		&w.UserID, &w.Name, &w.Balance, &w.Held, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return &w, nil
}

// GetWallet loads one wallet row.
func (r *Repository) GetWallet(ctx context.Context, userID int64) (*Wallet, error) {
	const q = `
SELECT user_id, name, balance, held, created_at, updated_at
FROM wallets
WHERE user_id = $1;
`
	var w Wallet
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&w.UserID, &w.Name, &w.Balance, &w.Held, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// ListWalletIDs returns every wallet user id, oldest first.
func (r *Repository) ListWalletIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM wallets ORDER BY created_at;`)
	if err != nil {
		return nil, fmt.Errorf("list wallet ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet ids: %w", err)
	}
	return ids, nil
}

// DeleteWallet permanently removes a wallet row.
func (r *Repository) DeleteWallet(ctx context.Context, userID int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM wallets WHERE user_id = $1;`, userID)
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastActivity computes the wallet's most recent activity as the max
// timestamp across its own row, purchases, holds, transactions and pending
// requests.
func (r *Repository) LastActivity(ctx context.Context, userID int64) (time.Time, error) {
	const q = `
SELECT GREATEST(
    (SELECT GREATEST(created_at, updated_at) FROM wallets WHERE user_id = $1),
    COALESCE((SELECT MAX(created_at) FROM purchases WHERE user_id = $1), 'epoch'::timestamptz),
    COALESCE((SELECT MAX(created_at) FROM holds WHERE user_id = $1), 'epoch'::timestamptz),
    COALESCE((SELECT MAX(created_at) FROM transactions WHERE user_id = $1), 'epoch'::timestamptz),
    COALESCE((SELECT MAX(created_at) FROM pending_requests WHERE user_id = $1), 'epoch'::timestamptz)
);
`
	var ts *time.Time
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("last activity: %w", err)
	}
	if ts == nil {
		return time.Time{}, ErrNotFound
	}
	return *ts, nil
}

// ListTransactions returns the newest ledger entries for one user.
func (r *Repository) ListTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, user_id, amount, description, created_at
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var res []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return res, nil
}

// GetHold loads a single hold row.
func (r *Repository) GetHold(ctx context.Context, holdID string) (*Hold, error) {
	const q = `
SELECT id, user_id, amount, order_id, status, created_at, expires_at
FROM holds
WHERE id = $1;
`
	var h Hold
	err := r.pool.QueryRow(ctx, q, holdID).Scan(
		&h.ID, &h.UserID, &h.Amount, &h.OrderID, &h.Status, &h.CreatedAt, &h.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hold: %w", err)
	}
	return &h, nil
}
