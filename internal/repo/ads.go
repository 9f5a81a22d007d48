package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertAd stores a new promotional post.
func (r *Repository) InsertAd(ctx context.Context, ad Ad) (*Ad, error) {
	images, err := json.Marshal(ad.Images)
	if err != nil {
		return nil, fmt.Errorf("marshal ad images: %w", err)
	}
	const q = `
INSERT INTO channel_ads (user_id, ad_text, images, contact, times_total, price, status, expire_at)
VALUES ($1, $2, $3, $4, $5, $6, 'active', $7)
RETURNING id, times_posted, status;
`
	err = r.pool.QueryRow(ctx, q, ad.UserID, ad.AdText, images, ad.Contact, ad.TimesTotal, ad.Price, ad.ExpireAt).
		Scan(&ad.ID, &ad.TimesPosted, &ad.Status)
	if err != nil {
		return nil, fmt.Errorf("insert ad: %w", err)
	}
	return &ad, nil
}

// ExpireAds marks as expired every active ad whose window has passed.
func (r *Repository) ExpireAds(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE channel_ads
SET status = 'expired'
WHERE status = 'active' AND expire_at IS NOT NULL AND expire_at < $1;
`
	ct, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("expire ads: %w", err)
	}
	return ct.RowsAffected(), nil
}

// PostableAds selects active ads that still owe postings, least recently
// posted first with never-posted ads leading.
func (r *Repository) PostableAds(ctx context.Context, limit int) ([]Ad, error) {
	const q = `
SELECT id, user_id, ad_text, images, contact, times_total, times_posted, price, status, last_posted_at, expire_at
FROM channel_ads
WHERE status = 'active' AND times_posted < times_total
ORDER BY last_posted_at ASC NULLS FIRST, id ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select postable ads: %w", err)
	}
	defer rows.Close()

	var res []Ad
	for rows.Next() {
		var ad Ad
		var images []byte
		if err := rows.Scan(&ad.ID, &ad.UserID, &ad.AdText, &images, &ad.Contact, &ad.TimesTotal, &ad.TimesPosted, &ad.Price, &ad.Status, &ad.LastPostedAt, &ad.ExpireAt); err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &ad.Images); err != nil {
				return nil, fmt.Errorf("unmarshal ad images: %w", err)
			}
		}
		res = append(res, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ads: %w", err)
	}
	return res, nil
}

// MarkAdPosted increments the posting counter and expires the ad when its
// quota is reached.
func (r *Repository) MarkAdPosted(ctx context.Context, id int64, postedAt time.Time) error {
	const q = `
UPDATE channel_ads
SET times_posted = times_posted + 1,
    last_posted_at = $2,
    status = CASE WHEN times_posted + 1 >= times_total THEN 'expired' ELSE status END
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, postedAt)
	if err != nil {
		return fmt.Errorf("mark ad posted: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAds counts ads still in rotation.
func (r *Repository) CountActiveAds(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channel_ads WHERE status = 'active';`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active ads: %w", err)
	}
	return n, nil
}
