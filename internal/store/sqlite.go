// ABOUTME: SQLite implementation of KV and MessageLedger using modernc.org/sqlite
// ABOUTME: Stores expiring key/value entries and room message numbering with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements KV and MessageLedger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the clock used for expiry, for tests.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps ledger allocation and SETNX free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	purged, err := s.PurgeExpired(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("purging expired entries: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "purged", purged)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_kv_entries_expires
			ON kv_entries(expires_at) WHERE expires_at != 0;

		CREATE TABLE IF NOT EXISTS room_messages (
			room_id    TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			event_id   TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, seq)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_room_messages_event
			ON room_messages(room_id, event_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

// Get returns the value stored under key, or ErrNotFound when absent or expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value and expiry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	return nil
}

// SetNX writes value only when key is absent or expired.
func (s *SQLiteStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = 0
		WHERE kv_entries.expires_at != 0 AND kv_entries.expires_at <= ?
	`, key, value, s.now().UnixNano())
	if err != nil {
		return false, fmt.Errorf("writing key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

// PurgeExpired removes expired entries and returns how many were dropped.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordMessage returns the room-local number of eventID, allocating max+1 on first sight.
func (s *SQLiteStore) RecordMessage(ctx context.Context, roomID, eventID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM room_messages WHERE room_id = ? AND event_id = ?`, roomID, eventID,
	).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up message: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM room_messages WHERE room_id = ?`, roomID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating message number: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_messages (room_id, seq, event_id, created_at) VALUES (?, ?, ?, ?)`,
		roomID, seq, eventID, s.now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("recording message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return seq, nil
}

// MessageEvent returns the event ID recorded under seq in roomID.
func (s *SQLiteStore) MessageEvent(ctx context.Context, roomID string, seq int64) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM room_messages WHERE room_id = ? AND seq = ?`, roomID, seq,
	).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up message: %w", err)
	}
	return eventID, nil
}

// MessageSeq returns the number recorded for eventID in roomID.
func (s *SQLiteStore) MessageSeq(ctx context.Context, roomID, eventID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM room_messages WHERE room_id = ? AND event_id = ?`, roomID, eventID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("looking up message: %w", err)
	}
	return seq, nil
}
