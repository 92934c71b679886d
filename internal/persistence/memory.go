package persistence

import (
	"context"
	"sort"
	"sync"
)

type MemoryBackend struct {
	mu       sync.Mutex
	data     map[string]string
	quota    int
	failures map[string][]error
	writes   int
}

// NewMemoryBackend returns an in-process backend. A quota of zero or less
// means unlimited; otherwise the sum of key and value lengths may not exceed
// it.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]string),
		quota:    quota,
		failures: make(map[string][]error),
	}
}

// FailNext makes the next Set calls on key return errs in order.
func (m *MemoryBackend) FailNext(key string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = append(m.failures[key], errs...)
}

// Writes is the number of Set calls seen, failed ones included.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	if queued := m.failures[key]; len(queued) > 0 {
		m.failures[key] = queued[1:]
		return queued[0]
	}

	if m.quota > 0 {
		used := m.usedLocked()
		if old, ok := m.data[key]; ok {
			used -= len(key) + len(old)
		}
		if used+len(key)+len(value) > m.quota {
			return ErrQuotaExceeded
		}
	}

	m.data[key] = value
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) usedLocked() int {
	n := 0
	for k, v := range m.data {
		n += len(k) + len(v)
	}
	return n
}
