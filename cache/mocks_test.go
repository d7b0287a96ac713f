package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type putCall struct {
	key   string
	value any
	ttl   time.Duration
}

// memStore is a map backed Store that records writes.
type memStore struct {
	mu    sync.Mutex
	data  map[string]any
	puts  []putCall
	flush int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]any)}
}

func (m *memStore) Get(_ context.Context, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts = append(m.puts, putCall{key: key, value: value, ttl: ttl})
	return nil
}

func (m *memStore) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) ForgetMatching(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.Trim(pattern, "*")
	n := 0
	for k := range m.data {
		if strings.Contains(k, needle) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]any)
	m.flush++
	return nil
}

type backupPut struct {
	key      string
	category string
	payload  string
	ttl      time.Duration
}

// mockBackup records calls and serves canned payloads.
type mockBackup struct {
	mu       sync.Mutex
	payloads map[string][]byte
	puts     []backupPut
	gets     []string
	accesses []string
	getErr   error
}

func newMockBackup() *mockBackup {
	return &mockBackup{payloads: make(map[string][]byte)}
}

func (m *mockBackup) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, key)
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	p, ok := m.payloads[key]
	return p, ok, nil
}

func (m *mockBackup) Put(_ context.Context, key, category string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[key] = payload
	m.puts = append(m.puts, backupPut{key: key, category: category, payload: string(payload), ttl: ttl})
	return nil
}

func (m *mockBackup) RecordAccess(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses = append(m.accesses, key)
	return nil
}

type staticOracle struct {
	mu     sync.Mutex
	online bool
	calls  int
}

func (o *staticOracle) IsOnline(context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.online
}

func (o *staticOracle) set(online bool) {
	o.mu.Lock()
	o.online = online
	o.mu.Unlock()
}
