package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a map-backed Store. Data does not survive the process.
type Memory struct {
	mu   sync.RWMutex
	data map[Collection]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	data := make(map[Collection]map[string][]byte, len(Collections))
	for _, c := range Collections {
		data[c] = make(map[string][]byte)
	}
	return &Memory{data: data}
}

var _ Store = (*Memory)(nil)

// Put stores a copy of value.
func (m *Memory) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return failure(err, "put", coll, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[coll][key] = cloneBytes(value)
	return nil
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failure(err, "get", coll, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[coll][key]
	if !ok {
		return nil, notFound(coll, key)
	}
	return cloneBytes(v), nil
}

// GetAll returns every entry of the collection ordered by key.
func (m *Memory) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, failure(err, "get_all", coll, "")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.data[coll]))
	for k, v := range m.data[coll] {
		entries = append(entries, Entry{Key: k, Value: cloneBytes(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
