// Package rollback tracks promotion outcomes in a bounded ring and
// reverses bad promotions by re-promoting a prior snapshot.
//
// A rollback is not an undo: it builds a fresh descriptor for the target
// snapshot with the next generation number and promotes it forward, so
// the audit trail and lineage record the reversal the same way they
// record any promotion. The ring bounds how far back an explicit
// rollback may target; an entry evicted from the ring can no longer be
// named as a target.
//
// The ring and the previous-current pointer are mutated only by the
// single coordinator driving cycles. The mutex exists for diagnostic
// readers, not for writer/writer races.
package rollback
