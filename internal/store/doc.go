// Package store provides SQLite-backed durable storage for statement output.
//
// The store is append-only and holds:
//   - Statement results: one row per (session, statement, seq) match
//   - Unmatched events: events no started statement matched
//   - Statement events: lifecycle transitions, in the order they happened
//
// # Ordering
//
// Reads order by seq ASC, id ASC. seq is the logical clock of the engine
// that produced the row. Sessions resume their clock after LastSeq, so a
// second run against the same store appends after the first.
//
// # Idempotency
//
// Result and unmatched writes use ON CONFLICT DO NOTHING on their natural
// keys; writing the same record twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema changes are listed in migrations and tracked with user_version.
//
// Events are stored as canonical JSON (ir.MarshalCanonical) next to their
// content digest, so equal events compare equal in SQL.
package store
