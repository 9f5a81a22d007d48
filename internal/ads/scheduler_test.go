package ads

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"matjar-bot/internal/repo"
)

type memStore struct {
	ads     []repo.Ad
	expired int
}

func (m *memStore) ExpireAds(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for i := range m.ads {
		ad := &m.ads[i]
		if ad.Status != "active" {
			continue
		}
		if ad.TimesPosted >= ad.TimesTotal || (ad.ExpireAt != nil && !ad.ExpireAt.After(now)) {
			ad.Status = "expired"
			n++
		}
	}
	m.expired += int(n)
	return n, nil
}

func (m *memStore) PostableAds(ctx context.Context, limit int) ([]repo.Ad, error) {
	var out []repo.Ad
	for _, ad := range m.ads {
		if ad.Status == "active" && ad.TimesPosted < ad.TimesTotal {
			out = append(out, ad)
		}
	}
	// oldest last-posted first, never-posted before everything
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if older(out[j], out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func older(a, b repo.Ad) bool {
	switch {
	case a.LastPostedAt == nil && b.LastPostedAt != nil:
		return true
	case a.LastPostedAt != nil && b.LastPostedAt == nil:
		return false
	case a.LastPostedAt == nil:
		return a.ID < b.ID
	default:
		return a.LastPostedAt.Before(*b.LastPostedAt)
	}
}

func (m *memStore) MarkAdPosted(ctx context.Context, id int64, postedAt time.Time) error {
	for i := range m.ads {
		if m.ads[i].ID == id {
			m.ads[i].TimesPosted++
			t := postedAt
			m.ads[i].LastPostedAt = &t
			if m.ads[i].TimesPosted >= m.ads[i].TimesTotal {
				m.ads[i].Status = "expired"
			}
		}
	}
	return nil
}

type fakeBroadcaster struct {
	texts  []string
	photos []string
	fail   bool
}

func (f *fakeBroadcaster) SendToChannel(ctx context.Context, channel, text string) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeBroadcaster) SendPhotoToChannel(ctx context.Context, channel, fileID, caption string) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.photos = append(f.photos, fileID)
	if caption != "" {
		f.texts = append(f.texts, caption)
	}
	return nil
}

func newScheduler(store *memStore, b *fakeBroadcaster, at time.Time) *Scheduler {
	s := New(store, b, nil, slog.New(slog.NewTextHandler(testWriter{}, nil)), Config{
		Channel:  "@matjar",
		Location: time.UTC,
	})
	s.now = func() time.Time { return at }
	return s
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestTickOutsideWindowDoesNothing(t *testing.T) {
	store := &memStore{ads: []repo.Ad{{ID: 1, AdText: "x", TimesTotal: 3, Status: "active"}}}
	b := &fakeBroadcaster{}
	s := newScheduler(store, b, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	if len(b.texts) != 0 {
		t.Fatalf("posted outside the window: %v", b.texts)
	}
}

func TestTickPostsOldestFirstAndMarks(t *testing.T) {
	recent := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	store := &memStore{ads: []repo.Ad{
		{ID: 1, AdText: "recent", TimesTotal: 3, Status: "active", LastPostedAt: &recent},
		{ID: 2, AdText: "fresh", TimesTotal: 3, Status: "active"},
	}}
	b := &fakeBroadcaster{}
	s := newScheduler(store, b, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	if len(b.texts) != 2 {
		t.Fatalf("want 2 posts, got %d", len(b.texts))
	}
	if b.texts[0] != "fresh" {
		t.Fatalf("never-posted ad should go first, got %q", b.texts[0])
	}
	for _, ad := range store.ads {
		if ad.TimesPosted != 1 {
			t.Fatalf("ad %d not marked posted", ad.ID)
		}
	}
}

func TestQuotaReachedExpiresAd(t *testing.T) {
	store := &memStore{ads: []repo.Ad{{ID: 1, AdText: "x", TimesTotal: 1, Status: "active"}}}
	b := &fakeBroadcaster{}
	s := newScheduler(store, b, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Tick(context.Background())
	s.Tick(context.Background())

	if len(b.texts) != 1 {
		t.Fatalf("quota 1 but posted %d times", len(b.texts))
	}
	if store.ads[0].Status != "expired" {
		t.Fatalf("ad should expire at quota, status %q", store.ads[0].Status)
	}
}

func TestFailedBroadcastLeavesCounterAlone(t *testing.T) {
	store := &memStore{ads: []repo.Ad{{ID: 1, AdText: "x", TimesTotal: 3, Status: "active"}}}
	b := &fakeBroadcaster{fail: true}
	s := newScheduler(store, b, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	if store.ads[0].TimesPosted != 0 {
		t.Fatalf("failed broadcast must not consume the quota")
	}
}

func TestContactAppendedAndImagesCaptioned(t *testing.T) {
	store := &memStore{ads: []repo.Ad{{
		ID: 1, AdText: "بيع جهاز", Contact: "0999", Images: []string{"f1", "f2"},
		TimesTotal: 3, Status: "active",
	}}}
	b := &fakeBroadcaster{}
	s := newScheduler(store, b, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Tick(context.Background())

	if len(b.photos) != 2 {
		t.Fatalf("want 2 photos, got %d", len(b.photos))
	}
	if len(b.texts) != 1 {
		t.Fatalf("caption should appear once, got %d", len(b.texts))
	}
}

func TestInWindowBounds(t *testing.T) {
	s := newScheduler(&memStore{}, &fakeBroadcaster{}, time.Time{})
	cases := []struct {
		hour int
		want bool
	}{
		{9, false}, {10, true}, {21, true}, {22, false},
	}
	for _, c := range cases {
		at := time.Date(2026, 3, 1, c.hour, 30, 0, 0, time.UTC)
		if got := s.InWindow(at); got != c.want {
			t.Errorf("hour %d: InWindow = %v, want %v", c.hour, got, c.want)
		}
	}
}
