package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertDiscount stores a new discount row and returns it with its id.
func (r *Repository) InsertDiscount(ctx context.Context, d Discount) (*Discount, error) {
	meta, err := json.Marshal(d.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal discount meta: %w", err)
	}
	const q = `
INSERT INTO discounts (scope, user_id, percent, active, starts_at, ends_at, source, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;
`
	err = r.pool.QueryRow(ctx, q, d.Scope, d.UserID, d.Percent, d.Active, d.StartsAt, d.EndsAt, d.Source, meta).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("insert discount: %w", err)
	}
	return &d, nil
}

// GetDiscount loads one discount row, or ErrNotFound.
func (r *Repository) GetDiscount(ctx context.Context, id int64) (*Discount, error) {
	const q = `
SELECT id, scope, user_id, percent, active, starts_at, ends_at, source, meta
FROM discounts
WHERE id = $1;
`
	var d Discount
	var meta []byte
	err := r.pool.QueryRow(ctx, q, id).Scan(&d.ID, &d.Scope, &d.UserID, &d.Percent, &d.Active, &d.StartsAt, &d.EndsAt, &d.Source, &meta)
	if err != nil {
		return nil, wrapNoRows(err, "get discount")
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal discount meta: %w", err)
		}
	}
	return &d, nil
}

// ActiveDiscountsForUser returns every discount whose active flag is set and
// whose scope covers the user. Time-window filtering happens in the engine so
// its clock stays testable.
func (r *Repository) ActiveDiscountsForUser(ctx context.Context, userID int64) ([]Discount, error) {
	const q = `
SELECT id, scope, user_id, percent, active, starts_at, ends_at, source, meta
FROM discounts
WHERE active AND (scope = 'global' OR (scope = 'user' AND user_id = $1))
ORDER BY percent DESC, id ASC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}
	defer rows.Close()

	var res []Discount
	for rows.Next() {
		var d Discount
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Scope, &d.UserID, &d.Percent, &d.Active, &d.StartsAt, &d.EndsAt, &d.Source, &meta); err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal discount meta: %w", err)
			}
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discounts: %w", err)
	}
	return res, nil
}

// SetDiscountActive toggles the active flag without touching the window.
func (r *Repository) SetDiscountActive(ctx context.Context, id int64, active bool) error {
	ct, err := r.pool.Exec(ctx, `UPDATE discounts SET active = $2 WHERE id = $1;`, id, active)
	if err != nil {
		return fmt.Errorf("set discount active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndDiscountNow deactivates a discount and closes its window.
func (r *Repository) EndDiscountNow(ctx context.Context, id int64, now time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE discounts SET active = FALSE, ends_at = $2 WHERE id = $1;`, id, now)
	if err != nil {
		return fmt.Errorf("end discount: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertDiscountUse records one application of a discount to an order amount.
func (r *Repository) InsertDiscountUse(ctx context.Context, discountID, userID, amount, saved int64) error {
	const q = `
INSERT INTO discount_uses (discount_id, user_id, amount, saved)
VALUES ($1, $2, $3, $4);
`
	if _, err := r.pool.Exec(ctx, q, discountID, userID, amount, saved); err != nil {
		return fmt.Errorf("insert discount use: %w", err)
	}
	return nil
}
