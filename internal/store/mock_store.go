// ABOUTME: Mock store implementation for testing
// ABOUTME: In-memory KV and MessageLedger with an injectable clock and failure switch

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockEntry struct {
	value     []byte
	expiresAt time.Time
}

// MockStore is an in-memory KV and MessageLedger for tests.
type MockStore struct {
	mu      sync.Mutex
	entries map[string]mockEntry
	rooms   map[string][]string // roomID -> event IDs, index+1 is the message number

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time

	// Err, when set, is returned by every KV call to simulate an outage.
	Err error

	sets int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		entries: make(map[string]mockEntry),
		rooms:   make(map[string][]string),
		Now:     time.Now,
	}
}

func (m *MockStore) fail() error {
	if m.Err != nil {
		return fmt.Errorf("mock store: %w", m.Err)
	}
	return nil
}

func (m *MockStore) liveLocked(key string) (mockEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return mockEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return mockEntry{}, false
	}
	return e, true
}

// Get returns the value for key or ErrNotFound.
func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key.
func (m *MockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return err
	}
	e := mockEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	m.sets++
	return nil
}

// SetNX stores value only if key is absent.
func (m *MockStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return false, err
	}
	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.entries[key] = mockEntry{value: append([]byte(nil), value...)}
	m.sets++
	return true, nil
}

// Delete removes key.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// SetCount returns how many successful writes were made.
func (m *MockStore) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// TTL returns the remaining lifetime of key; zero means no expiry.
func (m *MockStore) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.liveLocked(key)
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(m.Now()), true
}

// RecordMessage allocates message numbers per room.
func (m *MockStore) RecordMessage(ctx context.Context, roomID, eventID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range m.rooms[roomID] {
		if id == eventID {
			return int64(i + 1), nil
		}
	}
	m.rooms[roomID] = append(m.rooms[roomID], eventID)
	return int64(len(m.rooms[roomID])), nil
}

// MessageEvent maps a message number to its event ID.
func (m *MockStore) MessageEvent(ctx context.Context, roomID string, seq int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.rooms[roomID]
	if seq < 1 || seq > int64(len(events)) {
		return "", ErrNotFound
	}
	return events[seq-1], nil
}

// MessageSeq maps an event ID to its message number.
func (m *MockStore) MessageSeq(ctx context.Context, roomID, eventID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range m.rooms[roomID] {
		if id == eventID {
			return int64(i + 1), nil
		}
	}
	return 0, ErrNotFound
}

var (
	_ KV            = (*MockStore)(nil)
	_ MessageLedger = (*MockStore)(nil)
	_ KV            = (*SQLiteStore)(nil)
	_ MessageLedger = (*SQLiteStore)(nil)
	_ KV            = (*RedisStore)(nil)
)
