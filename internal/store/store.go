// ABOUTME: Store interfaces for redmine-bridge persistence
// ABOUTME: Defines the TTL key/value store and the per-room chat message ledger

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key or message does not exist (or has expired)
var ErrNotFound = errors.New("not found")

// KV is a small key/value store with optional per-key expiry.
// It backs the credential cache and holds the encryption key.
type KV interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value without expiry only if key is absent.
	// It reports whether the value was written.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// MessageLedger assigns every message in a room a monotonically increasing
// number so that chat history can be addressed by numeric ranges.
type MessageLedger interface {
	// RecordMessage returns the number for eventID, allocating the next one
	// in the room on first sight.
	RecordMessage(ctx context.Context, roomID, eventID string) (int64, error)

	// MessageEvent maps a message number back to its event ID.
	MessageEvent(ctx context.Context, roomID string, seq int64) (string, error)

	// MessageSeq maps an event ID to its message number.
	MessageSeq(ctx context.Context, roomID, eventID string) (int64, error)
}
