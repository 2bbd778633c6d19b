package store

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemStore is a pure in-process Store, safe for concurrent use, with no
// durability across restarts. It is the default for tests; it is never
// distributed-safe.
//
// Grounded on the teacher's MemStore[S] (graph/store/memory.go): a mutex
// guarding plain Go maps, expiry handled lazily on read rather than via a
// background sweeper.
type MemStore struct {
	mu      sync.Mutex
	kv      map[string]entry
	hashes  map[string]map[string][]byte
	streams map[string][][]byte
	sets    map[string]map[string]struct{}
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		kv:      make(map[string]entry),
		hashes:  make(map[string]map[string][]byte),
		streams: make(map[string][][]byte),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (m *MemStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = m.withTTL(value, ttl)
	return nil
}

func (m *MemStore) withTTL(value []byte, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.kv[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.kv[key] = m.withTTL(value, ttl)
	return true, nil
}

func (m *MemStore) GetAndDeleteIf(_ context.Context, key string, expectedValue []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok || e.expired(time.Now()) || !bytes.Equal(e.value, expectedValue) {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

func (m *MemStore) HSet(_ context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemStore) HGet(_ context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MemStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) StreamAppend(_ context.Context, key string, value []byte, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := append(m.streams[key], value)
	if maxLen > 0 && int64(len(s)) > maxLen {
		s = s[int64(len(s))-maxLen:]
	}
	m.streams[key] = s
	return nil
}

func (m *MemStore) StreamRange(_ context.Context, key, cursor string, limit int64) ([][]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streams[key]
	start := 0
	if cursor != "" {
		if n, err := parseCursor(cursor); err == nil && n < len(s) {
			start = n
		} else {
			start = len(s)
		}
	}
	end := len(s)
	if limit > 0 && int64(end-start) > limit {
		end = start + int(limit)
	}
	out := make([][]byte, end-start)
	copy(out, s[start:end])
	return out, formatCursor(end), nil
}

func (m *MemStore) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemStore) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], member)
	return nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok {
		return ErrNotFound
	}
	e.expires = time.Now().Add(ttl)
	m.kv[key] = e
	return nil
}

func (m *MemStore) DistributedSafe() bool { return false }

func (m *MemStore) Close() error { return nil }
