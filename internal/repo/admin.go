package repo

import (
	"context"
	"fmt"
)

// BanUser inserts or refreshes a ban row.
func (r *Repository) BanUser(ctx context.Context, userID int64, reason string) error {
	const q = `
INSERT INTO banned_users (user_id, reason)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason;
`
	if _, err := r.pool.Exec(ctx, q, userID, reason); err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	return nil
}

// UnbanUser removes a ban row; unbanning a non-banned user is a no-op.
func (r *Repository) UnbanUser(ctx context.Context, userID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM banned_users WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("unban user: %w", err)
	}
	return nil
}

// IsBanned reports whether the user is on the ban list.
func (r *Repository) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM banned_users WHERE user_id = $1;`, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("check banned: %w", err)
	}
	return n > 0, nil
}

// AppendAdminLedger writes one audit row. The table is write-only: customer
// balances are never derived from it.
func (r *Repository) AppendAdminLedger(ctx context.Context, e AdminLedgerEntry) error {
	const q = `
INSERT INTO admin_ledger (admin_id, action, user_id, amount, note)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := r.pool.Exec(ctx, q, e.AdminID, e.Action, e.UserID, e.Amount, e.Note); err != nil {
		return fmt.Errorf("append admin ledger: %w", err)
	}
	return nil
}

// AdminLedgerTotals aggregates per-admin deposit and spend totals for the
// admin summary.
func (r *Repository) AdminLedgerTotals(ctx context.Context) ([]AdminTotals, error) {
	const q = `
SELECT admin_id,
       COALESCE(SUM(amount) FILTER (WHERE action = 'deposit'), 0),
       COALESCE(SUM(amount) FILTER (WHERE action = 'spend'), 0)
FROM admin_ledger
GROUP BY admin_id
ORDER BY admin_id;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("admin ledger totals: %w", err)
	}
	defer rows.Close()

	var res []AdminTotals
	for rows.Next() {
		var t AdminTotals
		if err := rows.Scan(&t.AdminID, &t.Deposited, &t.Spent); err != nil {
			return nil, fmt.Errorf("scan admin totals: %w", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin totals: %w", err)
	}
	return res, nil
}

// LoadSummary gathers aggregate counters for the admin overview.
func (r *Repository) LoadSummary(ctx context.Context) (*Summary, error) {
	const q = `
SELECT (SELECT COUNT(*) FROM wallets),
       COALESCE((SELECT SUM(balance) FROM wallets), 0),
       COALESCE((SELECT SUM(held) FROM wallets), 0),
       (SELECT COUNT(*) FROM pending_requests WHERE status = 'pending'),
       (SELECT COUNT(*) FROM channel_ads WHERE status = 'active');
`
	var s Summary
	err := r.pool.QueryRow(ctx, q).Scan(&s.Users, &s.BalanceTotal, &s.HeldTotal, &s.PendingCount, &s.ActiveAds)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	return &s, nil
}
