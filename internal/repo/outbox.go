package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EnqueueNotification inserts an outbox row scheduled for delivery.
func (r *Repository) EnqueueNotification(ctx context.Context, userID int64, template string, payload map[string]string, scheduledAt time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	return r.retry(ctx, "enqueue_notification", func() error {
		const q = `
INSERT INTO notifications_outbox (user_id, template, payload, scheduled_at)
VALUES ($1, $2, $3, $4);
`
		if _, err := r.pool.Exec(ctx, q, userID, template, data, scheduledAt); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		return nil
	})
}

// DueNotifications selects up to limit unsent rows whose schedule has passed,
// oldest schedule first.
func (r *Repository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	const q = `
SELECT id, user_id, template, payload, scheduled_at, sent_at
FROM notifications_outbox
WHERE sent_at IS NULL AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due notifications: %w", err)
	}
	defer rows.Close()

	var res []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Template, &payload, &e.ScheduledAt, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
			}
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return res, nil
}

// MarkNotificationSent stamps sent_at so the row is never selected again.
func (r *Repository) MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE notifications_outbox SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL;`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
