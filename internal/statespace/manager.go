package statespace

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSpaceExists is returned when a session already has a space.
	ErrSpaceExists = errors.New("state space already exists")
	// ErrSpaceNotFound is returned for an unknown session.
	ErrSpaceNotFound = errors.New("state space not found")
)

// FactsPrefix marks keys whose values accumulate as sets.
const FactsPrefix = "facts/"

// Manager owns the state spaces of all sessions. Spaces are never shared
// across sessions.
type Manager struct {
	mu     sync.RWMutex
	spaces map[string]*Space
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{spaces: make(map[string]*Space)}
}

// Create allocates an empty space for the session with the default merge
// functions registered.
func (m *Manager) Create(sessionID string) (*Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.spaces[sessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSpaceExists, sessionID)
	}
	s := New(sessionID)
	s.RegisterMerge(FactsPrefix, UnionMerge)
	m.spaces[sessionID] = s
	return s, nil
}

// Get returns the space for the session.
func (m *Manager) Get(sessionID string) (*Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.spaces[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, sessionID)
	}
	return s, nil
}

// Destroy releases every key of the session's space and forgets it.
func (m *Manager) Destroy(sessionID string) error {
	m.mu.Lock()
	s, ok := m.spaces[sessionID]
	delete(m.spaces, sessionID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSpaceNotFound, sessionID)
	}
	s.Release()
	return nil
}

// Count returns the number of live spaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.spaces)
}
