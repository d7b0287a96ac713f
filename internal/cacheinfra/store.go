package cacheinfra

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-offline-sync/internal/pattern"
)

// SturdycStore is a key/value store with per-entry TTL built on sturdyc.
//
// sturdyc fixes the TTL per client, so the store keeps one client per
// (rounded) TTL and an index from key to the bucket currently holding it.
type SturdycStore struct {
	cfg Config

	mu      sync.RWMutex
	buckets map[time.Duration]*sturdyc.Client[any]

	index *xsync.MapOf[string, time.Duration]
}

// NewSturdycStore validates cfg and returns an empty store.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Granularity == 0 {
		cfg.Granularity = time.Second
	}

	return &SturdycStore{
		cfg:     cfg,
		buckets: make(map[time.Duration]*sturdyc.Client[any]),
		index:   xsync.NewMapOf[string, time.Duration](),
	}, nil
}

// Get returns the live value stored under key.
func (s *SturdycStore) Get(_ context.Context, key string) (any, bool) {
	ttl, ok := s.index.Load(key)
	if !ok {
		return nil, false
	}

	client := s.bucket(ttl, false)
	if client == nil {
		return nil, false
	}

	value, ok := client.Get(key)
	if !ok {
		// expired in sturdyc, drop the stale index entry unless a concurrent Put moved it
		s.index.Compute(key, func(current time.Duration, loaded bool) (time.Duration, bool) {
			return current, !loaded || current == ttl
		})
		return nil, false
	}
	return value, true
}

// Put stores value under key for ttl. A key written with a new TTL moves buckets.
func (s *SturdycStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return &ConfigError{Field: "ttl", Message: "must be greater than 0"}
	}
	ttl = s.round(ttl)

	previous, loaded := s.index.Load(key)
	if loaded && previous != ttl {
		if old := s.bucket(previous, false); old != nil {
			old.Delete(key)
		}
	}

	s.bucket(ttl, true).Set(key, value)
	s.index.Store(key, ttl)
	return nil
}

// Forget removes key.
func (s *SturdycStore) Forget(_ context.Context, key string) error {
	ttl, ok := s.index.LoadAndDelete(key)
	if !ok {
		return nil
	}
	if client := s.bucket(ttl, false); client != nil {
		client.Delete(key)
	}
	return nil
}

// ForgetMatching removes every key matching the `*` wildcard expression and
// returns how many were removed.
func (s *SturdycStore) ForgetMatching(ctx context.Context, expr string) (int, error) {
	p := pattern.Compile(expr)

	var matched []string
	s.index.Range(func(key string, _ time.Duration) bool {
		if p.Match(key) {
			matched = append(matched, key)
		}
		return true
	})

	for _, key := range matched {
		if err := s.Forget(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

// Flush removes every entry from every bucket.
func (s *SturdycStore) Flush(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.buckets {
		for _, key := range client.ScanKeys() {
			client.Delete(key)
		}
	}
	s.index.Clear()
	return nil
}

// Keys returns the indexed keys. Expired entries may still be listed until
// they are read or forgotten.
func (s *SturdycStore) Keys() []string {
	keys := make([]string, 0, s.index.Size())
	s.index.Range(func(key string, _ time.Duration) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Size returns the number of entries held across buckets.
func (s *SturdycStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, client := range s.buckets {
		total += client.Size()
	}
	return total
}

func (s *SturdycStore) round(ttl time.Duration) time.Duration {
	rounded := ttl.Round(s.cfg.Granularity)
	if rounded <= 0 {
		return s.cfg.Granularity
	}
	return rounded
}

func (s *SturdycStore) bucket(ttl time.Duration, create bool) *sturdyc.Client[any] {
	s.mu.RLock()
	client, ok := s.buckets[ttl]
	s.mu.RUnlock()
	if ok || !create {
		return client
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok = s.buckets[ttl]; ok {
		return client
	}

	client = sturdyc.New[any](
		s.cfg.Capacity,
		s.cfg.NumShards,
		ttl,
		s.cfg.EvictionPercentage,
		s.cfg.sturdycOptions()...,
	)
	s.buckets[ttl] = client
	return client
}
