package presence

import (
	"context"
	"sync"
)

// Memory is an in-process Registry used when no Redis is configured.
type Memory struct {
	mu     sync.Mutex
	scopes map[string]map[string]int64
}

// NewMemory creates an empty Memory registry.
func NewMemory() *Memory {
	return &Memory{scopes: make(map[string]map[string]int64)}
}

func (m *Memory) Join(_ context.Context, scope, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.scopes[scope]
	if !ok {
		members = make(map[string]int64)
		m.scopes[scope] = members
	}
	members[userID]++
	return nil
}

func (m *Memory) Leave(_ context.Context, scope, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.scopes[scope]
	if !ok {
		return nil
	}
	if members[userID] <= 1 {
		delete(members, userID)
	} else {
		members[userID]--
	}
	if len(members) == 0 {
		delete(m.scopes, scope)
	}
	return nil
}

func (m *Memory) Members(_ context.Context, scope string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.scopes[scope]), nil
}

func (m *Memory) Close() error { return nil }
