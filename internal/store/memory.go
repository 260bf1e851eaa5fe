package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process KV. It is the default backend for single-node
// deployments and the fake used by tests.
type Memory struct {
	mu       sync.RWMutex
	scalars  map[string]string
	lists    map[string][]string
	registry map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		scalars:  make(map[string]string),
		lists:    make(map[string][]string),
		registry: make(map[string]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.scalars[key]
	if !ok {
		return "", fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) MGet(_ context.Context, keys ...string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(keys))
	for i, k := range keys {
		v, ok := m.scalars[k]
		if !ok {
			return nil, fmt.Errorf("get %s: %w", k, ErrNotFound)
		}
		out[i] = v
	}
	return out, nil
}

func (m *Memory) MSet(_ context.Context, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range fields {
		m.scalars[k] = v
	}
	return nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *Memory) LRange(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lists[key]...), nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.scalars, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) Register(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[id] = struct{}{}
	return nil
}

func (m *Memory) Registered(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registry[id]
	return ok, nil
}

func (m *Memory) Unregister(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registry, id)
	return nil
}

func (m *Memory) Close() error { return nil }
