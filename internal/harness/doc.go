// Package harness executes conformance scenarios against the full
// promotion loop.
//
// A scenario is a YAML file that scripts a sequence of feedback cycles
// and asserts on the audit trail and promotion state the loop produced.
// Scripted collaborators feed the controller exactly the observations,
// patterns, proposals, and live-signal breaches the scenario names:
//
//	name: promote-then-rollback
//	description: A regressing head is rolled back before new work starts.
//	cycles:
//	  - patterns:
//	      - kind: hot_field
//	        situation: checkout
//	    proposals:
//	      - target: orders.hot_total
//	  - patterns:
//	      - kind: hot_field
//	        situation: checkout
//	    proposals:
//	      - target: orders.hot_count
//	  - slo_violation:
//	      metric: p99_latency
//	      observed: 712ms
//	      threshold: 500ms
//	assertions:
//	  - type: audit_order
//	    events: [promotion_succeeded, rollback_initiated, rollback_completed]
//	  - type: current_snapshot
//	    snapshot: orders.hot_total
//
// # Assertion Types
//
//   - audit_contains: an entry with the event exists, optionally
//     narrowed by snapshot, reason substring, and cycle number
//   - audit_order: first occurrences of the events appear in order
//   - audit_count: the event appears exactly count times
//   - current_snapshot: the promoted head is the named candidate, or
//     "none" for an empty head
//   - history_length: the controller retained exactly length cycle records
//
// Snapshot references name candidates by the proposal target that
// produced them, since content-hash ids are not knowable when the
// scenario is written.
//
// # Deterministic Execution
//
// Every run uses a manual clock advanced one second per cycle, fixed
// cycle tokens, and a fixed signing seed. The same scenario therefore
// produces a byte-identical audit trail on every run, and RunWithGolden
// pins that trail to a golden file under testdata/golden.
package harness
