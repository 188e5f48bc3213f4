// Package invariant implements the hard invariants (Q1-Q5) that gate every
// candidate snapshot before promotion.
//
// All checks are pure functions over a candidate's lineage and measured
// metrics: no side effects, no shared state, safe to call from any number
// of goroutines concurrently. A candidate that fails ANY check must never
// reach the hot path.
//
// The five invariants:
//
//	Q1 no retrocausation  - the snapshot DAG stays acyclic and forward-only
//	Q2 type soundness     - schema violation rate stays under the policy cap
//	Q3 guard preservation - worst-case hot-path ticks within the Chatman constant
//	Q4 SLO compliance     - hot tick budget AND warm-path latency bound
//	Q5 performance bounds - memory, CPU, and tail latency ceilings
package invariant
