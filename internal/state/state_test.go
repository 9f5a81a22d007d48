package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type memKV struct {
	values  map[string][]byte
	expires map[string]time.Time
	now     time.Time
}

func newMemKV() *memKV {
	return &memKV{
		values:  map[string][]byte{},
		expires: map[string]time.Time{},
		now:     time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memKV) expired(key string) bool {
	exp, ok := m.expires[key]
	return ok && !m.now.Before(exp)
}

func (m *memKV) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	m.expires[key] = m.now.Add(ttl)
	return nil
}

func (m *memKV) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	data, ok := m.values[key]
	if !ok || m.expired(key) {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
		delete(m.expires, k)
	}
	return nil
}

func (m *memKV) MarkIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok && !m.expired(key) {
		return false, nil
	}
	m.values[key] = []byte("1")
	m.expires[key] = m.now.Add(ttl)
	return true, nil
}

func TestSetKVRoundTrip(t *testing.T) {
	kv := newMemKV()
	store := New(kv, time.Hour)
	ctx := context.Background()

	if err := store.SetKV(ctx, 7, "flow", "recharge"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	if err := store.SetKV(ctx, 7, "amount", "5000"); err != nil {
		t.Fatalf("set kv: %v", err)
	}

	got, err := store.GetKV(ctx, 7, "flow", "")
	if err != nil || got != "recharge" {
		t.Fatalf("get kv: got %q err %v", got, err)
	}
	if got, _ := store.GetKV(ctx, 7, "missing", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestExpiredEntryReadsAsAbsent(t *testing.T) {
	kv := newMemKV()
	store := New(kv, time.Minute)
	ctx := context.Background()

	if err := store.SetKV(ctx, 7, "flow", "recharge"); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	kv.now = kv.now.Add(2 * time.Minute)

	data, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expired state must read as absent, got %v", data)
	}
}

func TestClearDropsState(t *testing.T) {
	kv := newMemKV()
	store := New(kv, time.Hour)
	ctx := context.Background()

	_ = store.SetKV(ctx, 7, "flow", "recharge")
	if err := store.Clear(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := store.GetKV(ctx, 7, "flow", ""); got != "" {
		t.Fatalf("state survived clear: %q", got)
	}
}

func TestTooSoonWindow(t *testing.T) {
	kv := newMemKV()
	store := New(kv, time.Hour)
	ctx := context.Background()

	soon, err := store.TooSoon(ctx, 7, "confirm", 2*time.Second)
	if err != nil || soon {
		t.Fatalf("first tap must pass: soon=%v err=%v", soon, err)
	}
	if soon, _ = store.TooSoon(ctx, 7, "confirm", 2*time.Second); !soon {
		t.Fatal("repeat inside the window must be rejected")
	}
	kv.now = kv.now.Add(3 * time.Second)
	if soon, _ = store.TooSoon(ctx, 7, "confirm", 2*time.Second); soon {
		t.Fatal("tap after the window must pass")
	}
}
