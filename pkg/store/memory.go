package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Mem is an in-memory KV used by tests and by synchronous one-shot runs.
// Its Now field may be swapped to control expiry in tests.
type Mem struct {
	mu   sync.Mutex
	data map[string]memEntry
	Now  func() time.Time
}

type memEntry struct {
	value  string
	expiry int64 // unix nanos, 0 = none
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{data: map[string]memEntry{}, Now: time.Now}
}

func (m *Mem) live(e memEntry) bool {
	return e.expiry == 0 || m.Now().UnixNano() <= e.expiry
}

func (m *Mem) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || !m.live(e) {
		delete(m.data, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Mem) Set(key string, value []byte) error {
	return m.SetTTL(key, value, 0)
}

func (m *Mem) SetTTL(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp int64
	if ttl > 0 {
		exp = m.Now().Add(ttl).UnixNano()
	}
	m.data[key] = memEntry{value: string(value), expiry: exp}
	return nil
}

func (m *Mem) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Mem) ListKeys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, e := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !m.live(e) {
			delete(m.data, k)
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
