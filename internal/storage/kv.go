// Package storage provides the durable key-value storage the chat store
// persists its history into.
package storage

import (
	"errors"
	"sync"
)

var (
	// ErrQuotaExceeded 写入超过存储配额。
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrCorrupt marks persisted data that could not be decoded.
	ErrCorrupt = errors.New("corrupt persisted data")
)

// KV is a string key-value store. Get reports false for missing keys.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// MemoryKV keeps values in memory. One instance can be shared by several
// stores to stand for a single browser profile.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
}

// NewMemoryKV returns an empty store without a quota.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// NewMemoryKVWithQuota limits the total size of stored values to quota bytes.
func NewMemoryKVWithQuota(quota int) *MemoryKV {
	kv := NewMemoryKV()
	kv.quota = quota
	return kv
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 {
		used := len(value)
		for k, v := range m.values {
			if k != key {
				used += len(v)
			}
		}
		if used > m.quota {
			return ErrQuotaExceeded
		}
	}

	m.values[key] = value
	return nil
}
