// ABOUTME: Per-key mutual exclusion with reference-counted lock entries
// ABOUTME: Entries are dropped once no goroutine holds or waits on them

package keyed

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Mutex hands out one lock per key. The zero value is ready to use.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Lock blocks until the lock for key is held and returns its unlock func.
func (m *Mutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*lockEntry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns how many keys currently have holders or waiters.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
