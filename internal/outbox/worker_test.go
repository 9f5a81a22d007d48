package outbox

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

type memStore struct {
	rows   map[int64]*repo.OutboxEntry
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*repo.OutboxEntry{}, nextID: 1}
}

func (m *memStore) EnqueueNotification(_ context.Context, userID int64, template string, payload map[string]string, scheduledAt time.Time) error {
	m.rows[m.nextID] = &repo.OutboxEntry{ID: m.nextID, UserID: userID, Template: template, Payload: payload, ScheduledAt: scheduledAt}
	m.nextID++
	return nil
}

func (m *memStore) DueNotifications(_ context.Context, now time.Time, limit int) ([]repo.OutboxEntry, error) {
	var res []repo.OutboxEntry
	for id := int64(1); id < m.nextID && len(res) < limit; id++ {
		e, ok := m.rows[id]
		if ok && e.SentAt == nil && !e.ScheduledAt.After(now) {
			res = append(res, *e)
		}
	}
	return res, nil
}

func (m *memStore) MarkNotificationSent(_ context.Context, id int64, sentAt time.Time) error {
	e, ok := m.rows[id]
	if !ok || e.SentAt != nil {
		return repo.ErrNotFound
	}
	e.SentAt = &sentAt
	return nil
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) TrySend(_ context.Context, _ int64, text string, _ *tg.InlineKeyboardMarkup) bool {
	if f.fail {
		return false
	}
	f.sent = append(f.sent, text)
	return true
}

func newTestWorker(store Store, sender Sender) *Worker {
	return NewWorker(store, sender, DefaultRegistry(), time.Minute, 25, nil, slog.Default())
}

func TestTickDeliversAndMarksSent(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := newTestWorker(store, sender)
	ctx := context.Background()

	producer := NewProducer(store)
	if err := producer.Notify(ctx, 7, "recharge_confirmed", map[string]string{"amount": "5000"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	w.Tick(ctx)
	if len(sender.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sender.sent))
	}
	if store.rows[1].SentAt == nil {
		t.Fatal("row not marked sent")
	}
}

func TestSentRowsAreNeverReselected(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := newTestWorker(store, sender)
	ctx := context.Background()

	_ = NewProducer(store).Notify(ctx, 7, "wallet_deleted", nil)
	w.Tick(ctx)
	w.Tick(ctx)
	if len(sender.sent) != 1 {
		t.Fatalf("row delivered %d times, want exactly once", len(sender.sent))
	}
}

func TestFailedSendStillMarksSent(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{fail: true}
	w := newTestWorker(store, sender)
	ctx := context.Background()

	_ = NewProducer(store).Notify(ctx, 7, "wallet_delete_3d", nil)
	w.Tick(ctx)
	if store.rows[1].SentAt == nil {
		t.Fatal("failed send must still mark the row, to avoid retry spam")
	}

	sender.fail = false
	w.Tick(ctx)
	if len(sender.sent) != 0 {
		t.Fatal("marked row was retried")
	}
}

func TestUnknownTemplateMarkedWithWarning(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := newTestWorker(store, sender)
	ctx := context.Background()

	_ = NewProducer(store).Notify(ctx, 7, "no_such_template", nil)
	w.Tick(ctx)
	if len(sender.sent) != 0 {
		t.Fatal("unknown template must not be delivered")
	}
	if store.rows[1].SentAt == nil {
		t.Fatal("unknown template row must still be marked sent")
	}
}

func TestFutureRowsWaitForTheirSchedule(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := newTestWorker(store, sender)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	_ = store.EnqueueNotification(ctx, 7, "broadcast", map[string]string{"text": "later"}, base.Add(time.Hour))

	w.Tick(ctx)
	if len(sender.sent) != 0 {
		t.Fatal("future row delivered early")
	}

	w.now = func() time.Time { return base.Add(2 * time.Hour) }
	w.Tick(ctx)
	if len(sender.sent) != 1 {
		t.Fatal("due row not delivered")
	}
}
