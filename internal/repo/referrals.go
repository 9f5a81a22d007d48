package repo

import (
	"context"
	"fmt"
	"time"
)

// InsertReferralGoal opens a new goal for the referrer.
func (r *Repository) InsertReferralGoal(ctx context.Context, g ReferralGoal) (*ReferralGoal, error) {
	const q = `
INSERT INTO referral_goals (referrer_id, short_token, required_count, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, status;
`
	err := r.pool.QueryRow(ctx, q, g.ReferrerID, g.ShortToken, g.RequiredCount, g.ExpiresAt).
		Scan(&g.ID, &g.CreatedAt, &g.Status)
	if err != nil {
		return nil, fmt.Errorf("insert referral goal: %w", err)
	}
	return &g, nil
}

// LatestGoalForReferrer returns the referrer's most recent goal, or ErrNotFound.
func (r *Repository) LatestGoalForReferrer(ctx context.Context, referrerID int64) (*ReferralGoal, error) {
	const q = `
SELECT id, referrer_id, short_token, required_count, created_at, expires_at, status, granted_discount_id
FROM referral_goals
WHERE referrer_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1;
`
	var g ReferralGoal
	err := r.pool.QueryRow(ctx, q, referrerID).Scan(
		&g.ID, &g.ReferrerID, &g.ShortToken, &g.RequiredCount, &g.CreatedAt, &g.ExpiresAt, &g.Status, &g.GrantedDiscountID,
	)
	if err != nil {
		return nil, wrapNoRows(err, "latest referral goal")
	}
	return &g, nil
}

// GoalByToken resolves a goal from the invite-link token, or ErrNotFound.
func (r *Repository) GoalByToken(ctx context.Context, referrerID int64, token string) (*ReferralGoal, error) {
	const q = `
SELECT id, referrer_id, short_token, required_count, created_at, expires_at, status, granted_discount_id
FROM referral_goals
WHERE referrer_id = $1 AND short_token = $2
ORDER BY created_at DESC, id DESC
LIMIT 1;
`
	var g ReferralGoal
	err := r.pool.QueryRow(ctx, q, referrerID, token).Scan(
		&g.ID, &g.ReferrerID, &g.ShortToken, &g.RequiredCount, &g.CreatedAt, &g.ExpiresAt, &g.Status, &g.GrantedDiscountID,
	)
	if err != nil {
		return nil, wrapNoRows(err, "referral goal by token")
	}
	return &g, nil
}

// MarkGoalSatisfied stores the granted discount and flips the goal status.
// The WHERE clause keeps the transition one-way.
func (r *Repository) MarkGoalSatisfied(ctx context.Context, goalID, discountID int64) error {
	const q = `
UPDATE referral_goals
SET status = 'satisfied', granted_discount_id = $2
WHERE id = $1 AND status = 'open';
`
	ct, err := r.pool.Exec(ctx, q, goalID, discountID)
	if err != nil {
		return fmt.Errorf("mark goal satisfied: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireOpenGoals flips open goals past their expiry.
func (r *Repository) ExpireOpenGoals(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE referral_goals SET status = 'expired' WHERE status = 'open' AND expires_at < $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("expire referral goals: %w", err)
	}
	return ct.RowsAffected(), nil
}

// InsertReferralJoin records a referred user, idempotent on the
// (referrer, referred) pair. The boolean reports whether a new row was added.
func (r *Repository) InsertReferralJoin(ctx context.Context, j ReferralJoin) (bool, error) {
	const q = `
INSERT INTO referral_joins (referrer_id, referred_id, goal_id, start_payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (referrer_id, referred_id) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, j.ReferrerID, j.ReferredID, j.GoalID, j.StartPayload)
	if err != nil {
		return false, fmt.Errorf("insert referral join: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListJoinsForGoal returns every join row recorded under the goal.
func (r *Repository) ListJoinsForGoal(ctx context.Context, goalID int64) ([]ReferralJoin, error) {
	const q = `
SELECT referrer_id, referred_id, goal_id, start_payload, verified_at, last_checked_at, still_member
FROM referral_joins
WHERE goal_id = $1;
`
	rows, err := r.pool.Query(ctx, q, goalID)
	if err != nil {
		return nil, fmt.Errorf("list referral joins: %w", err)
	}
	defer rows.Close()

	var res []ReferralJoin
	for rows.Next() {
		var j ReferralJoin
		if err := rows.Scan(&j.ReferrerID, &j.ReferredID, &j.GoalID, &j.StartPayload, &j.VerifiedAt, &j.LastCheckedAt, &j.StillMember); err != nil {
			return nil, fmt.Errorf("scan referral join: %w", err)
		}
		res = append(res, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral joins: %w", err)
	}
	return res, nil
}

// UpdateJoinMembership stores the result of a channel-membership check.
// verifiedAt is only stamped on the first successful verification.
func (r *Repository) UpdateJoinMembership(ctx context.Context, referrerID, referredID int64, member bool, checkedAt time.Time) error {
	const q = `
UPDATE referral_joins
SET still_member = $3,
    last_checked_at = $4,
    verified_at = CASE WHEN $3 AND verified_at IS NULL THEN $4 ELSE verified_at END
WHERE referrer_id = $1 AND referred_id = $2;
`
	ct, err := r.pool.Exec(ctx, q, referrerID, referredID, member, checkedAt)
	if err != nil {
		return fmt.Errorf("update referral join: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
