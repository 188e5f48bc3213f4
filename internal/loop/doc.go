// Package loop implements the autonomous controller that drives
// observe -> detect -> propose -> validate -> compile -> promote ->
// audit -> adapt cycles.
//
// # ARCHITECTURE: Single Coordinator, Sequential Cycles
//
// One goroutine runs Run's timer loop and executes cycles one at a
// time; no two cycles ever overlap. Everything the coordinator mutates
// (cycle counters, history ring, adaptive window, rollback ring) is
// guarded for diagnostic readers but has exactly one writer. Hot-path
// reads of the current snapshot never touch the coordinator at all;
// they go straight to the promoter.
//
// CRITICAL: Errors never unwind past the cycle boundary. A failed
// proposal is audited and recorded, then the loop moves on. Transient
// cycle-level failures back off exponentially up to the retry budget,
// after which the controller pauses itself and waits for an explicit
// Resume. Nothing in a cycle may panic the process; the loop is built
// to run forever under supervised-restart semantics.
//
// # CRITICAL PATTERN: Audit Before Act
//
// Every consequential step writes its trail entry before the loop
// depends on the step's result. Audit write failures are the one
// category that aborts a cycle (after the trail's own retries), because
// an unauditable promotion is worse than no promotion.
//
// Cancellation is cooperative: Stop or context cancel lets the
// in-flight cycle finish, so a candidate is never abandoned mid-way
// through the promotion guard's phases.
package loop
