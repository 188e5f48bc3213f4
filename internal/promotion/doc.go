// Package promotion makes snapshots live: the atomic promoter that swaps
// the hot-path descriptor, and the phase-typed guard that prevents an
// unvalidated candidate from ever reaching it.
//
// ARCHITECTURE:
//
// Single-Writer Promotion, Wait-Free Reads:
// Exactly one coordinator drives promotions and rollbacks. Any number of
// hot-path readers call Current()/Get() concurrently; they are never
// blocked, locked, or made to retry. The promotion critical path is a
// retained-map insert plus one atomic pointer swap - no I/O, no locks.
//
// Phase-Typed Guards:
// A promotion attempt flows Preparing -> Ready -> Promoted through three
// distinct handle types. Calling Promote on a Preparing handle is a
// compile error (the method does not exist); entering Ready requires a
// production-ready validation receipt with all hard invariants preserved.
// Each transition consumes its handle: phases never run twice and never
// run backward.
//
// CRITICAL PATTERNS:
//
// Retained-Before-Swap:
// Promote stores the descriptor in the retained map BEFORE swapping the
// current pointer, so a reader that loads the new current can always
// resolve it (and its parent chain) in the map.
//
// Supersede, Never Mutate:
// Retained descriptors are immutable. Re-promoting an old snapshot
// (rollback) inserts a fresh descriptor under the same id; nothing is
// edited in place.
package promotion
