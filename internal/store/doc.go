// Package store provides the persistence used by redmine-bridge.
//
// # Interfaces
//
//   - KV: key/value entries with optional expiry. Holds cached Redmine API
//     credentials, chat bindings and the process-wide encryption key.
//   - MessageLedger: per-room message numbering. Matrix event IDs are opaque
//     strings; the session engine addresses chat history by number, so every
//     message the bridge sees or sends is given the next number in its room.
//
// # Implementations
//
//   - SQLiteStore (modernc.org/sqlite, WAL): KV and MessageLedger in one file.
//   - RedisStore (go-redis): KV only, for deployments sharing a Redis with
//     other tooling. The ledger always stays in SQLite.
//   - MockStore: in-memory, with an injectable clock and an outage switch.
//
// # Schema
//
//	kv_entries(key PK, value BLOB, expires_at INTEGER)  -- 0 = no expiry
//	room_messages(room_id, seq, event_id, created_at)   -- PK(room_id, seq)
//
// Expired KV rows are filtered on read and purged when the store opens.
package store
