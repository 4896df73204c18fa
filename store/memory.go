package store

import (
	"context"
	"sort"
	"sync"
)

// MemProvider is an in-memory Provider meant for testing and for
// single-process setups where persistence across restarts does not matter.
type MemProvider struct {
	mutex  sync.RWMutex
	stores map[string]map[string][]byte
}

func NewMemProvider() *MemProvider {
	return &MemProvider{
		stores: make(map[string]map[string][]byte),
	}
}

func (p *MemProvider) Open(_ context.Context, name string) (Handle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.stores[name]; !ok {
		p.stores[name] = make(map[string][]byte)
	}
	return &memHandle{provider: p, name: name}, nil
}

func (p *MemProvider) Names(_ context.Context) ([]string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	names := make([]string, 0, len(p.stores))
	for name := range p.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *MemProvider) Delete(_ context.Context, name string) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	_, ok := p.stores[name]
	delete(p.stores, name)
	return ok, nil
}

type memHandle struct {
	provider *MemProvider
	name     string
}

func (h *memHandle) Name() string {
	return h.name
}

func (h *memHandle) Put(_ context.Context, key string, bytes []byte) error {
	h.provider.mutex.Lock()
	defer h.provider.mutex.Unlock()
	entries, ok := h.provider.stores[h.name]
	if !ok {
		// The store was deleted underneath the handle. Writing into a
		// deleted store would resurrect stale content, so drop the entry.
		return nil
	}
	entries[key] = bytes
	return nil
}

func (h *memHandle) Get(_ context.Context, key string) ([]byte, bool, error) {
	h.provider.mutex.RLock()
	defer h.provider.mutex.RUnlock()
	entries, ok := h.provider.stores[h.name]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[key]
	return bytes, ok, nil
}

func (h *memHandle) Keys(_ context.Context) ([]string, error) {
	h.provider.mutex.RLock()
	defer h.provider.mutex.RUnlock()
	entries, ok := h.provider.stores[h.name]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
