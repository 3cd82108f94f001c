// Package store provides SQLite-backed durable state for rover.
//
// The store holds:
//   - Handlers: the registry of active handler names
//   - Dedup records: which handler already reacted to which item
//   - Deferred tasks: interval-based update requests with an expiry
//   - Bans: user and scope exclusions, global or per handler
//   - Stats and messages: reaction history and inbound messages
//   - Day stats: daily activity counters
//
// # Invariants
//
//   - At most one dedup record per (item_id, handler_id): UNIQUE constraint
//   - A reaction's dedup record and stats row are written in one transaction
//   - deferred_tasks.last_invoked never decreases (writes use MAX)
//   - A handler name maps to exactly one registry row; a second row is reported
//     as ErrInconsistentRegistry and never silently picked
//   - Wiping a handler removes every row that references it
//
// # Database Configuration
//
// Pragmas are applied per connection through the DSN so every pooled
// connection sees them:
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - _txlock=immediate: write transactions take the write lock up front
//
// Timestamps are stored as unix seconds.
package store
