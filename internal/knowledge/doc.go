// Package knowledge provides SQLite-backed persistence for what the
// autonomous loop has learned.
//
// Two append-only tables:
//   - feedback_cycles: one row per completed cycle, keyed by cycle
//     number, with the full record duplicated as a canonical JSON blob
//   - action_outcomes: one row per promoted-or-rejected candidate,
//     keyed by UUIDv7, grouped by the situation the candidate targeted
//
// # Critical Patterns
//
// Idempotent inserts
//   - feedback_cycles uses ON CONFLICT(cycle_number) DO NOTHING, so
//     recording the same cycle twice (retry after a partial failure)
//     leaves exactly one row
//
// Logical ordering
//   - cycle queries order by cycle_number, never by timestamp; action
//     queries order by the time-sortable UUIDv7 key
//
// Advisory, never load-bearing
//   - the controller treats every method here as fire-and-forget; a
//     broken knowledge store degrades future proposals, not promotions
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package knowledge
