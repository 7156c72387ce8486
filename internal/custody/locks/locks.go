// Package locks provides per-entity serialization for custody operations.
package locks

import (
	"sync"

	"github.com/google/uuid"
)

// Manager hands out one logical mutex per entity id. Entries are reference
// counted and removed once the last holder releases, so the map does not grow
// with the entity population.
type Manager struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[uuid.UUID]*entry)}
}

// Lock acquires the mutex for the entity id, blocking until available.
func (m *Manager) Lock(id uuid.UUID) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for the entity id.
func (m *Manager) Unlock(id uuid.UUID) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}

// WithLock runs fn while holding the entity's mutex.
func (m *Manager) WithLock(id uuid.UUID, fn func() error) error {
	m.Lock(id)
	defer m.Unlock(id)
	return fn()
}
