package repo

import (
	"context"
	"fmt"
)

// The ledger primitives run as server-side functions (see
// migrations/0002_ledger_functions.sql) so balance and held never mutate
// outside a single database transaction. Each call returns the function's
// status string; internal/ledger maps it to a typed outcome.

// CallCreateHold reserves funds and returns (status, hold id).
func (r *Repository) CallCreateHold(ctx context.Context, userID, amount int64, orderID *string, ttlSecs int64) (string, string, error) {
	const q = `SELECT status, hold_id FROM create_hold($1, $2, $3, $4);`
	var status string
	var holdID *string
	if err := r.pool.QueryRow(ctx, q, userID, amount, orderID, nullableSecs(ttlSecs)).Scan(&status, &holdID); err != nil {
		return "", "", fmt.Errorf("create_hold: %w", err)
	}
	if holdID == nil {
		return status, "", nil
	}
	return status, *holdID, nil
}

// CallCaptureHold captures an active hold.
func (r *Repository) CallCaptureHold(ctx context.Context, holdID string) (string, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT capture_hold($1);`, holdID).Scan(&status); err != nil {
		return "", fmt.Errorf("capture_hold: %w", err)
	}
	return status, nil
}

// CallReleaseHold releases an active hold.
func (r *Repository) CallReleaseHold(ctx context.Context, holdID string) (string, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT release_hold($1);`, holdID).Scan(&status); err != nil {
		return "", fmt.Errorf("release_hold: %w", err)
	}
	return status, nil
}

// CallTransfer moves funds between two wallets.
func (r *Repository) CallTransfer(ctx context.Context, from, to, amount int64) (string, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT transfer_amount($1, $2, $3);`, from, to, amount).Scan(&status); err != nil {
		return "", fmt.Errorf("transfer_amount: %w", err)
	}
	return status, nil
}

// CallTryDeduct deducts immediately where no operator review is needed.
func (r *Repository) CallTryDeduct(ctx context.Context, userID, amount int64, description string) (string, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT try_deduct($1, $2, $3);`, userID, amount, description).Scan(&status); err != nil {
		return "", fmt.Errorf("try_deduct: %w", err)
	}
	return status, nil
}

// CallAddBalance credits a wallet; the only operation that increases balance.
func (r *Repository) CallAddBalance(ctx context.Context, userID, amount int64, description string) (string, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT add_balance($1, $2, $3);`, userID, amount, description).Scan(&status); err != nil {
		return "", fmt.Errorf("add_balance: %w", err)
	}
	return status, nil
}

func nullableSecs(secs int64) *int64 {
	if secs <= 0 {
		return nil
	}
	return &secs
}
