package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertPending admits a request into the operator queue. The partial unique
// index on (user_id) WHERE status = 'pending' backs the one-pending-per-user
// invariant; a conflict is reported as ErrDuplicatePending.
var ErrDuplicatePending = errors.New("user already has a pending request")

func (r *Repository) InsertPending(ctx context.Context, req PendingRequest) (*PendingRequest, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}
	const q = `
INSERT INTO pending_requests (user_id, username, request_text, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) WHERE status = 'pending' DO NOTHING
RETURNING id, status, created_at;
`
	err = r.pool.QueryRow(ctx, q, req.UserID, req.Username, req.RequestText, payload).
		Scan(&req.ID, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicatePending
	}
	if err != nil {
		return nil, fmt.Errorf("insert pending request: %w", err)
	}
	return &req, nil
}

// PendingByUser returns the user's pending row, or ErrNotFound.
func (r *Repository) PendingByUser(ctx context.Context, userID int64) (*PendingRequest, error) {
	const q = `
SELECT id, user_id, username, request_text, payload, status, created_at
FROM pending_requests
WHERE user_id = $1 AND status = 'pending';
`
	return r.scanPending(r.pool.QueryRow(ctx, q, userID))
}

// PendingByID returns one pending row by id, or ErrNotFound.
func (r *Repository) PendingByID(ctx context.Context, id int64) (*PendingRequest, error) {
	const q = `
SELECT id, user_id, username, request_text, payload, status, created_at
FROM pending_requests
WHERE id = $1 AND status = 'pending';
`
	return r.scanPending(r.pool.QueryRow(ctx, q, id))
}

// OldestPending returns the head of the FIFO: oldest created_at, ties broken
// by ascending id. ErrNotFound when the queue is empty.
func (r *Repository) OldestPending(ctx context.Context) (*PendingRequest, error) {
	const q = `
SELECT id, user_id, username, request_text, payload, status, created_at
FROM pending_requests
WHERE status = 'pending'
ORDER BY created_at ASC, id ASC
LIMIT 1;
`
	return r.scanPending(r.pool.QueryRow(ctx, q))
}

// DeletePending removes a queue row; terminal outcome of accept or cancel.
func (r *Repository) DeletePending(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM pending_requests WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostponePending re-stamps created_at so the row returns to the FIFO tail.
func (r *Repository) PostponePending(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `UPDATE pending_requests SET created_at = NOW() WHERE id = $1 AND status = 'pending';`, id)
	if err != nil {
		return fmt.Errorf("postpone pending request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPending counts rows currently awaiting an operator.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_requests WHERE status = 'pending';`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}

// DeleteStalePending removes non-ads queue rows older than the retention
// cut-off and releases their still-active holds in the same statement, so a
// swept request never leaves funds locked. Advertising rows are long-lived
// by design.
func (r *Repository) DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
WITH stale AS (
    DELETE FROM pending_requests
    WHERE created_at < $1 AND payload->>'type' <> 'ads'
    RETURNING NULLIF(payload->>'hold_id', '')::uuid AS hold_id
),
released AS (
    UPDATE holds h
    SET status = 'released'
    FROM stale s
    WHERE h.id = s.hold_id AND h.status = 'active'
    RETURNING h.user_id, h.amount
),
unheld AS (
    UPDATE wallets w
    SET held = w.held - r.total, updated_at = NOW()
    FROM (SELECT user_id, SUM(amount) AS total FROM released GROUP BY user_id) r
    WHERE w.user_id = r.user_id
    RETURNING w.user_id
)
SELECT COUNT(*) FROM stale;
`
	var n int64
	if err := r.pool.QueryRow(ctx, q, olderThan).Scan(&n); err != nil {
		return 0, fmt.Errorf("delete stale pending requests: %w", err)
	}
	return n, nil
}

func (r *Repository) scanPending(row pgx.Row) (*PendingRequest, error) {
	var req PendingRequest
	var payload []byte
	err := row.Scan(&req.ID, &req.UserID, &req.Username, &req.RequestText, &payload, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending request: %w", err)
	}
	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal request payload: %w", err)
	}
	return &req, nil
}
