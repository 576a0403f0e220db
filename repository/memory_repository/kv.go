package memory_repository

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/catengine/models"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// KV is an in-process key-value store with lazy TTL eviction. It backs
// single-instance deployments and tests.
type KV struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewKV returns an empty store. A nil clock uses time.Now.
func NewKV(now func() time.Time) *KV {
	if now == nil {
		now = time.Now
	}
	return &KV{data: make(map[string]entry), now: now}
}

func (m *KV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, models.ErrKeyNotFound
	}
	if m.expired(e) {
		delete(m.data, key)
		return nil, models.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *KV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Scan matches keys with redis-style globs (*, ?, [..]).
func (m *KV) Scan(_ context.Context, match string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.data {
		if m.expired(e) {
			delete(m.data, k)
			continue
		}
		ok, err := path.Match(match, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *KV) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
