package state

import (
	"context"
	"fmt"
	"time"
)

// KV is the cache slice the state store needs; *cache.Redis implements it.
type KV interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Store is the per-user conversation working memory. Entries expire after the
// configured TTL; an expired entry reads as absent. Values belong to a single
// user's serial chat session, so last-write-wins is fine.
type Store struct {
	kv  KV
	ttl time.Duration
}

// New creates a state store with the given default TTL.
func New(kv KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 120 * time.Minute
	}
	return &Store{kv: kv, ttl: ttl}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("state::%d", userID)
}

// Get returns the user's state map; absent users get an empty map.
func (s *Store) Get(ctx context.Context, userID int64) (map[string]string, error) {
	var data map[string]string
	found, err := s.kv.GetJSON(ctx, stateKey(userID), &data)
	if err != nil {
		return nil, err
	}
	if !found || data == nil {
		return map[string]string{}, nil
	}
	return data, nil
}

// Set replaces the user's state map and refreshes its TTL.
func (s *Store) Set(ctx context.Context, userID int64, data map[string]string) error {
	return s.kv.SetJSON(ctx, stateKey(userID), data, s.ttl)
}

// SetKV stores one key in the user's state map.
func (s *Store) SetKV(ctx context.Context, userID int64, key, value string) error {
	data, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	data[key] = value
	return s.Set(ctx, userID, data)
}

// GetKV reads one key from the user's state map, with a default.
func (s *Store) GetKV(ctx context.Context, userID int64, key, fallback string) (string, error) {
	data, err := s.Get(ctx, userID)
	if err != nil {
		return fallback, err
	}
	if v, ok := data[key]; ok {
		return v, nil
	}
	return fallback, nil
}

// Clear drops all per-user working state.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	return s.kv.Delete(ctx, stateKey(userID))
}

// TooSoon records the tap time for (user, key) and answers true for a repeat
// inside the window. Guards confirm buttons and /start.
func (s *Store) TooSoon(ctx context.Context, userID int64, key string, window time.Duration) (bool, error) {
	marked, err := s.kv.MarkIfAbsent(ctx, fmt.Sprintf("last_action::%d::%s", userID, key), window)
	if err != nil {
		return false, err
	}
	return !marked, nil
}
