package storage

import (
	"encoding/json"
	"fmt"
)

// BoundedList stores a JSON array under one key and never keeps more than
// limit entries; the oldest (front) entries are dropped first.
type BoundedList[T any] struct {
	kv    KV
	key   string
	limit int
}

// NewBoundedList binds a list to key in kv.
func NewBoundedList[T any](kv KV, key string, limit int) *BoundedList[T] {
	return &BoundedList[T]{kv: kv, key: key, limit: limit}
}

// Key returns the storage key.
func (l *BoundedList[T]) Key() string {
	return l.key
}

// Load returns the persisted entries. A missing key yields an empty list;
// undecodable content yields ErrCorrupt.
func (l *BoundedList[T]) Load() ([]T, error) {
	raw, ok, err := l.kv.Get(l.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.key, err)
	}
	return l.trim(items), nil
}

// Save persists the newest limit entries of items.
func (l *BoundedList[T]) Save(items []T) error {
	data, err := json.Marshal(l.trim(items))
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.key, err)
	}
	if err := l.kv.Set(l.key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", l.key, err)
	}
	return nil
}

func (l *BoundedList[T]) trim(items []T) []T {
	if l.limit <= 0 || len(items) <= l.limit {
		return items
	}
	return items[len(items)-l.limit:]
}
