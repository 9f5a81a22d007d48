package discount

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"matjar-bot/internal/repo"
)

type memStore struct {
	rows   map[int64]*repo.Discount
	nextID int64
	uses   int
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*repo.Discount{}, nextID: 1}
}

func (m *memStore) InsertDiscount(_ context.Context, d repo.Discount) (*repo.Discount, error) {
	d.ID = m.nextID
	m.nextID++
	m.rows[d.ID] = &d
	cp := d
	return &cp, nil
}

func (m *memStore) GetDiscount(_ context.Context, id int64) (*repo.Discount, error) {
	d, ok := m.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) ActiveDiscountsForUser(_ context.Context, userID int64) ([]repo.Discount, error) {
	var res []repo.Discount
	for _, d := range m.rows {
		if !d.Active {
			continue
		}
		if d.Scope == repo.ScopeGlobal || (d.Scope == repo.ScopeUser && d.UserID != nil && *d.UserID == userID) {
			res = append(res, *d)
		}
	}
	return res, nil
}

func (m *memStore) SetDiscountActive(_ context.Context, id int64, active bool) error {
	d, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.Active = active
	return nil
}

func (m *memStore) EndDiscountNow(_ context.Context, id int64, now time.Time) error {
	d, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.Active = false
	d.EndsAt = &now
	return nil
}

func (m *memStore) InsertDiscountUse(_ context.Context, _, _, _, _ int64) error {
	m.uses++
	return nil
}

func newTestEngine(store Store, now time.Time) *Engine {
	e := New(store, slog.Default())
	e.now = func() time.Time { return now }
	return e
}

func TestActiveForUserPicksHighestPercent(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(store, now)
	ctx := context.Background()

	if _, err := e.Create(ctx, repo.ScopeGlobal, 3, nil, time.Hour, "promo"); err != nil {
		t.Fatalf("create global: %v", err)
	}
	user := int64(7)
	if _, err := e.Create(ctx, repo.ScopeUser, 5, &user, time.Hour, "manual"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	best, err := e.ActiveForUser(ctx, 7)
	if err != nil {
		t.Fatalf("active for user: %v", err)
	}
	if best == nil || best.Percent != 5 {
		t.Fatalf("expected the 5%% rule, got %+v", best)
	}

	// another user only sees the global rule
	best, _ = e.ActiveForUser(ctx, 8)
	if best == nil || best.Percent != 3 {
		t.Fatalf("expected the global 3%% rule, got %+v", best)
	}
}

func TestApplyFloorsAndReportsSavings(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(store, now)
	ctx := context.Background()

	user := int64(7)
	if _, err := e.Create(ctx, repo.ScopeUser, 1, &user, time.Hour, "referral"); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, applied, err := e.Apply(ctx, 7, 999)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != 989 { // floor(999 * 99 / 100)
		t.Fatalf("expected 989, got %d", got)
	}
	if applied == nil || applied.Saved != 10 || applied.Percent != 1 {
		t.Fatalf("applied info wrong: %+v", applied)
	}

	// no discount for another user
	got, applied, _ = e.Apply(ctx, 8, 999)
	if got != 999 || applied != nil {
		t.Fatalf("expected passthrough, got %d %+v", got, applied)
	}
}

func TestExpiredAndFutureWindowsDoNotApply(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	user := int64(7)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	store.rows[1] = &repo.Discount{ID: 1, Scope: repo.ScopeUser, UserID: &user, Percent: 10, Active: true, StartsAt: now.Add(-2 * time.Hour), EndsAt: &past}
	store.rows[2] = &repo.Discount{ID: 2, Scope: repo.ScopeUser, UserID: &user, Percent: 20, Active: true, StartsAt: future}
	store.nextID = 3

	e := newTestEngine(store, now)
	best, err := e.ActiveForUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("active for user: %v", err)
	}
	if best != nil {
		t.Fatalf("expected no effective discount, got %+v", best)
	}
}

func TestEndNowClosesWindow(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(store, now)
	ctx := context.Background()

	d, _ := e.Create(ctx, repo.ScopeGlobal, 3, nil, 0, "promo")
	if err := e.EndNow(ctx, d.ID); err != nil {
		t.Fatalf("end now: %v", err)
	}
	best, _ := e.ActiveForUser(ctx, 1)
	if best != nil {
		t.Fatalf("ended discount still applies: %+v", best)
	}
}
