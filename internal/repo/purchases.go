package repo

import (
	"context"
	"fmt"
	"time"
)

// InsertPurchase writes a fulfilment record after an order is captured.
func (r *Repository) InsertPurchase(ctx context.Context, p Purchase) (*Purchase, error) {
	const q = `
INSERT INTO purchases (user_id, product_id, product_name, price, player_id, expire_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at;
`
	err := r.pool.QueryRow(ctx, q, p.UserID, p.ProductID, p.ProductName, p.Price, p.PlayerID, p.ExpireAt).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	return &p, nil
}

// ListVisiblePurchases returns the user's purchases still inside their
// customer-visible window, newest first.
func (r *Repository) ListVisiblePurchases(ctx context.Context, userID int64, now time.Time) ([]Purchase, error) {
	const q = `
SELECT id, user_id, product_id, product_name, price, player_id, created_at, expire_at
FROM purchases
WHERE user_id = $1 AND (expire_at IS NULL OR expire_at > $2)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var res []Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.Price, &p.PlayerID, &p.CreatedAt, &p.ExpireAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return res, nil
}

// DeleteOldPurchases removes purchase rows older than the retention cut-off.
func (r *Repository) DeleteOldPurchases(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM purchases WHERE created_at < $1;`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old purchases: %w", err)
	}
	return ct.RowsAffected(), nil
}

// GetProduct loads one catalogue row by id, or ErrNotFound.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	const q = `SELECT id, name, category, price, active FROM products WHERE id = $1;`
	var p Product
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Active)
	if err != nil {
		return nil, wrapNoRows(err, "get product")
	}
	return &p, nil
}

// ListProducts returns active catalogue rows; an empty category means all
// categories.
func (r *Repository) ListProducts(ctx context.Context, category string) ([]Product, error) {
	const q = `
SELECT id, name, category, price, active
FROM products
WHERE active AND ($1 = '' OR category = $1)
ORDER BY category ASC, price ASC, id ASC;
`
	rows, err := r.pool.Query(ctx, q, category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var res []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return res, nil
}
