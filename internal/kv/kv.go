// Package kv provides the expiring key-value stores behind the CSRF
// registry, the handle store and the session store. Entries carry an
// absolute expiry; reads check it lazily and a Sweeper reaps the rest.
package kv

import (
	"sync"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
)

// Store is an expiring key-value store. Get and Take return
// errors.ErrNotFound for absent or expired keys.
type Store interface {
	Put(key string, value []byte, expiresAt time.Time) error
	Get(key string) ([]byte, error)
	// Take returns the value and deletes the key in one atomic step.
	Take(key string) ([]byte, error)
	Delete(key string) error
	// Sweep removes entries that expired before now and reports how many.
	Sweep(now time.Time) (int, error)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Store guarded by a single mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Put stores value under key until expiresAt, replacing any previous value.
func (m *Memory) Put(key string, value []byte, expiresAt time.Time) error {
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	m.entries[key] = entry{value: v, expiresAt: expiresAt}
	m.mu.Unlock()

	return nil
}

// Get returns the value for key if it exists and has not expired.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	if !time.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, apperrors.ErrNotFound
	}

	return e.value, nil
}

// Take returns and deletes the value for key. An expired entry is
// deleted too, but reported as not found.
func (m *Memory) Take(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	delete(m.entries, key)

	if !time.Now().Before(e.expiresAt) {
		return nil, apperrors.ErrNotFound
	}

	return e.value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	return nil
}

// Sweep removes all entries whose expiry is not after now.
func (m *Memory) Sweep(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}

	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
