package store

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by a backend that is out of space
var ErrQuotaExceeded = errors.New("store: quota exceeded")

// Backend is a string-keyed persistent key-value store
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryBackend keeps values in process memory. A positive quota caps the
// total bytes of keys and values, like browser storage does.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
	used   int
}

// NewMemoryBackend creates a memory backend; quota <= 0 means unlimited
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string), quota: quota}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used
	if old, ok := m.values[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = value
	m.used = used
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.values, key)
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
