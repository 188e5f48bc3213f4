// Package audit implements the hash-chained, signed audit trail that
// records every decision the control loop makes.
//
// # ARCHITECTURE: Two Stores, One Writer
//
// The trail is an in-memory slice mirrored by an append-only NDJSON file.
// All writes go through Record, which holds the trail's write lock: the
// file is appended and flushed first, memory second, so the durable log
// can only ever be equal to or one entry ahead of a crash, never behind
// what queries have served. Queries take the read lock and return copies.
//
// Durability is flush-per-entry without fsync. An entry that Record has
// returned for survives a process crash; it may not survive a kernel
// crash in the same instant. Stronger guarantees belong to the filesystem
// layer, not here.
//
// # CRITICAL PATTERN: The Chain Covers Everything
//
// Each entry carries the hex hash of its predecessor. The hash covers the
// predecessor's complete canonical form, signature included, so editing
// any stored byte of any prior entry breaks the chain at its successor.
// The signature covers the canonical unsigned form (a signature cannot
// cover itself). Verification is therefore two independent walks:
// VerifyIntegrity recomputes the chain, VerifySignatures rechecks each
// entry against the signer's public key.
//
// Cycle numbering is self-consistent across restarts: Open replays the
// existing file and NextCycleNumber returns max-seen+1, never a counter
// supplied from outside.
package audit
