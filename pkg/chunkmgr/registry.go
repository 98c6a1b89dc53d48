package chunkmgr

import (
	"fmt"
	"sync"

	"ndnstore/pkg/core"
)

// Registry 按 mgr id 管理进程内的多个 Manager
type Registry struct {
	mu   sync.RWMutex
	mgrs map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{mgrs: make(map[string]*Manager)}
}

func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mgrs[m.ID()]; ok {
		return fmt.Errorf("%w: chunk manager %q", core.ErrAlreadyExists, m.ID())
	}
	r.mgrs[m.ID()] = m
	return nil
}

// Get 的 id 为空时取 DefaultMgrId
func (r *Registry) Get(id string) (*Manager, error) {
	if id == "" {
		id = DefaultMgrId
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mgrs[id]
	if !ok {
		return nil, fmt.Errorf("%w: chunk manager %q", core.ErrNotFound, id)
	}
	return m, nil
}

// Remove 只解除注册，不关闭
func (r *Registry) Remove(id string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mgrs[id]
	delete(r.mgrs, id)
	return m, ok
}

// CloseAll 关闭并清空所有 Manager
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, m := range r.mgrs {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.mgrs, id)
	}
	return first
}
