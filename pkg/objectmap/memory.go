package objectmap

import (
	"context"
	"maps"
	"slices"
	"sync"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// MemoryStorage 纯内存实现，也是 FileStorage 的底座
type MemoryStorage struct {
	mu       sync.RWMutex
	items    map[string]*entry
	readOnly bool
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage(readOnly bool) *MemoryStorage {
	return &MemoryStorage{items: make(map[string]*entry), readOnly: readOnly}
}

func (m *MemoryStorage) sortedKeys() []string {
	return slices.Sorted(maps.Keys(m.items))
}

func (m *MemoryStorage) Get(_ context.Context, key string) (core.ObjId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[key]
	if !ok {
		return core.ObjId{}, notFoundErr(key)
	}
	return e.ObjId, nil
}

func (m *MemoryStorage) Put(_ context.Context, key string, id core.ObjId) error {
	if m.readOnly {
		return readOnlyErr("memory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// 旧的叶子下标作废
	m.items[key] = &entry{ObjId: id}
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, key string) (core.ObjId, error) {
	if m.readOnly {
		return core.ObjId{}, readOnlyErr("memory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return core.ObjId{}, notFoundErr(key)
	}
	delete(m.items, key)
	return e.ObjId, nil
}

func (m *MemoryStorage) List(_ context.Context, page, pageSize int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.sortedKeys()
	start, end, err := pageBounds(len(keys), page, pageSize)
	if err != nil {
		return nil, err
	}
	return keys[start:end], nil
}

func (m *MemoryStorage) Iterate(_ context.Context, fn func(key string, id core.ObjId) error) error {
	m.mu.RLock()
	keys := m.sortedKeys()
	snapshot := make([]core.ObjId, len(keys))
	for i, k := range keys {
		snapshot[i] = m.items[k].ObjId
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStorage) Stat(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.items)), nil
}

// UpdateMtreeIndex 只记录下标，只读存储也允许 (它不改变内容)
func (m *MemoryStorage) UpdateMtreeIndex(_ context.Context, key string, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return notFoundErr(key)
	}
	e.Index = &index
	return nil
}

func (m *MemoryStorage) GetMtreeIndex(_ context.Context, key string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[key]
	if !ok || e.Index == nil {
		return 0, notFoundErr(key)
	}
	return *e.Index, nil
}

func (m *MemoryStorage) snapshot() map[string]entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]entry, len(m.items))
	for k, e := range m.items {
		out[k] = *e
	}
	return out
}

func (m *MemoryStorage) load(items map[string]entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*entry, len(items))
	for k, e := range items {
		m.items[k] = &e
	}
}

func (m *MemoryStorage) Clone(_ context.Context, _ string, readOnly bool) (Storage, error) {
	clone := NewMemoryStorage(readOnly)
	clone.load(m.snapshot())
	return clone, nil
}

func (m *MemoryStorage) Flush(context.Context) error    { return nil }
func (m *MemoryStorage) Path() string                   { return "" }
func (m *MemoryStorage) StorageType() types.StorageType { return types.StorageMemory }
func (m *MemoryStorage) IsReadOnly() bool               { return m.readOnly }
func (m *MemoryStorage) Close() error                   { return nil }
