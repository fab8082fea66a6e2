package session

import (
	"context"
	"sync"
)

// Memory is a Store that keeps the session in process memory.
type Memory struct {
	mu      sync.RWMutex
	current *Session
}

// NewMemory creates an in-memory store, optionally seeded with a session.
func NewMemory(initial ...Session) *Memory {
	m := &Memory{}
	if len(initial) > 0 {
		s := initial[0]
		m.current = &s
	}
	return m
}

func (m *Memory) Get(_ context.Context) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return Session{}, ErrNoSession
	}
	return *m.current, nil
}

func (m *Memory) Set(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = &s
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = nil
	return nil
}
