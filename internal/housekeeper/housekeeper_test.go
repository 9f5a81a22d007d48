package housekeeper

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

type memStore struct {
	wallets       map[int64]time.Time // user id -> last activity
	deleted       []int64
	purchCutoff   time.Time
	pendingCutoff time.Time
}

func newMemStore() *memStore {
	return &memStore{wallets: map[int64]time.Time{}}
}

func (m *memStore) DeleteOldPurchases(_ context.Context, olderThan time.Time) (int64, error) {
	m.purchCutoff = olderThan
	return 0, nil
}

func (m *memStore) DeleteStalePending(_ context.Context, olderThan time.Time) (int64, error) {
	m.pendingCutoff = olderThan
	return 0, nil
}

func (m *memStore) ListWalletIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(m.wallets))
	for id := range m.wallets {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) LastActivity(_ context.Context, userID int64) (time.Time, error) {
	return m.wallets[userID], nil
}

func (m *memStore) DeleteWallet(_ context.Context, userID int64) error {
	delete(m.wallets, userID)
	m.deleted = append(m.deleted, userID)
	return nil
}

type recordingNotifier struct {
	byUser map[int64][]string
}

func (r *recordingNotifier) Notify(_ context.Context, userID int64, template string, _ map[string]string) error {
	if r.byUser == nil {
		r.byUser = map[int64][]string{}
	}
	r.byUser[userID] = append(r.byUser[userID], template)
	return nil
}

func newTestHousekeeper(store Store, notifier Notifier, now time.Time) *Housekeeper {
	h := New(store, notifier, nil, nil, slog.Default(), Config{
		RetentionHours: 14,
		DeleteDays:     33,
		Location:       time.UTC,
	})
	h.now = func() time.Time { return now }
	return h
}

func TestInactivityLadder(t *testing.T) {
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.wallets[1] = now.Add(-27*24*time.Hour - time.Hour) // 27 days
	store.wallets[2] = now.Add(-30*24*time.Hour - time.Hour) // 30 days
	store.wallets[3] = now.Add(-32*24*time.Hour - time.Hour) // 32 days
	store.wallets[4] = now.Add(-34 * 24 * time.Hour)         // past deletion
	store.wallets[5] = now.Add(-24 * time.Hour)              // recently active

	notifier := &recordingNotifier{}
	h := newTestHousekeeper(store, notifier, now)
	h.InactivityPass(context.Background())

	expect := map[int64]string{1: "wallet_delete_6d", 2: "wallet_delete_3d", 3: "wallet_delete_0d", 4: "wallet_deleted"}
	for user, template := range expect {
		got := notifier.byUser[user]
		if len(got) != 1 || got[0] != template {
			t.Fatalf("user %d: expected %q, got %v", user, template, got)
		}
	}
	if len(notifier.byUser[5]) != 0 {
		t.Fatalf("active wallet notified: %v", notifier.byUser[5])
	}
	if len(store.deleted) != 1 || store.deleted[0] != 4 {
		t.Fatalf("expected only wallet 4 deleted, got %v", store.deleted)
	}
}

func TestDeletedWalletNotNotifiedAgain(t *testing.T) {
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.wallets[4] = now.Add(-34 * 24 * time.Hour)
	notifier := &recordingNotifier{}
	h := newTestHousekeeper(store, notifier, now)

	h.InactivityPass(context.Background())
	h.now = func() time.Time { return now.Add(24 * time.Hour) }
	h.InactivityPass(context.Background())

	if len(notifier.byUser[4]) != 1 {
		t.Fatalf("deleted wallet notified %d times, want once", len(notifier.byUser[4]))
	}
}

func TestRetentionSweepCutoff(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	h := newTestHousekeeper(store, &recordingNotifier{}, now)

	h.RetentionSweep(context.Background())
	want := now.Add(-14 * time.Hour)
	if !store.purchCutoff.Equal(want) || !store.pendingCutoff.Equal(want) {
		t.Fatalf("cutoffs %v / %v, want %v", store.purchCutoff, store.pendingCutoff, want)
	}
}

func TestUntilNextDailyPass(t *testing.T) {
	store := newMemStore()
	h := newTestHousekeeper(store, &recordingNotifier{}, time.Date(2026, 4, 1, 5, 0, 0, 0, time.UTC))
	if got := h.untilNextDailyPass(); got != time.Hour {
		t.Fatalf("expected one hour until 06:00, got %v", got)
	}
	h.now = func() time.Time { return time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC) }
	if got := h.untilNextDailyPass(); got != 23*time.Hour {
		t.Fatalf("expected 23h until next 06:00, got %v", got)
	}
}
