package invariant

import (
	"fmt"
	"time"
)

// Metrics carries the measured behavior of a candidate, produced by the
// compile/measure step. Zero values are legitimate measurements (a
// candidate with no observations has a 0% violation rate).
type Metrics struct {
	// Observations is the number of observations the candidate was
	// measured against.
	Observations uint64

	// SchemaViolations is how many of those observations violated the
	// candidate's type schema.
	SchemaViolations uint64

	// MaxTicks is the measured worst-case hot-path tick count.
	MaxTicks uint32

	// WarmLatency is the measured warm-path (non-hot) latency.
	WarmLatency time.Duration

	// TailLatency is the measured tail (p99+) latency.
	TailLatency time.Duration

	// MemoryBytes is the measured resident memory.
	MemoryBytes uint64

	// CPUPercent is the measured CPU utilization (0-100).
	CPUPercent float64
}

// HardInvariants is the result of a full Q1-Q5 check: five booleans,
// recomputed fresh for every candidate and never persisted as mutable
// state. All-true is the only state that permits promotion.
type HardInvariants struct {
	Q1NoRetrocausation  bool `json:"q1_no_retrocausation"`
	Q2TypeSoundness     bool `json:"q2_type_soundness"`
	Q3GuardPreservation bool `json:"q3_guard_preservation"`
	Q4SLOCompliance     bool `json:"q4_slo_compliance"`
	Q5PerformanceBounds bool `json:"q5_performance_bounds"`
}

// AllPreserved reports whether every invariant held.
func (h HardInvariants) AllPreserved() bool {
	return h.Q1NoRetrocausation && h.Q2TypeSoundness && h.Q3GuardPreservation &&
		h.Q4SLOCompliance && h.Q5PerformanceBounds
}

// Violated returns the names of the invariants that did NOT hold,
// in Q1..Q5 order.
func (h HardInvariants) Violated() []Invariant {
	var out []Invariant
	if !h.Q1NoRetrocausation {
		out = append(out, Q1NoRetrocausation)
	}
	if !h.Q2TypeSoundness {
		out = append(out, Q2TypeSoundness)
	}
	if !h.Q3GuardPreservation {
		out = append(out, Q3GuardPreservation)
	}
	if !h.Q4SLOCompliance {
		out = append(out, Q4SLOCompliance)
	}
	if !h.Q5PerformanceBounds {
		out = append(out, Q5PerformanceBounds)
	}
	return out
}

// Validator evaluates the hard invariants against a policy.
//
// Validator is immutable after construction and safe for concurrent use:
// every method is a pure function of its arguments and the policy.
type Validator struct {
	policy Policy
}

// NewValidator creates a validator with the given policy.
// Returns an error if the policy is unusable.
func NewValidator(policy Policy) (*Validator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invariant policy: %w", err)
	}
	return &Validator{policy: policy}, nil
}

// MustValidator is like NewValidator but panics on error.
// Use only in tests or with DefaultPolicy.
func MustValidator(policy Policy) *Validator {
	v, err := NewValidator(policy)
	if err != nil {
		panic(err)
	}
	return v
}

// Policy returns the thresholds this validator enforces.
func (v *Validator) Policy() Policy {
	return v.policy
}

// CheckQ1NoRetrocausation fails if the candidate is its own parent or
// already appears in the visited set (a cycle in the snapshot DAG).
//
// The visited set is the caller's record of ids already seen while walking
// the chain the candidate claims to extend.
func (v *Validator) CheckQ1NoRetrocausation(candidateID, parentID string, visited map[string]bool) error {
	if parentID != "" && candidateID == parentID {
		return newViolation(Q1NoRetrocausation, candidateID,
			[]string{"candidate is its own parent"},
			map[string]string{"parent_id": parentID})
	}
	if visited[candidateID] {
		return newViolation(Q1NoRetrocausation, candidateID,
			[]string{"candidate already appears in lineage (cycle)"},
			map[string]string{"visited": fmt.Sprintf("%d", len(visited))})
	}
	return nil
}

// CheckQ2TypeSoundness fails if the schema-violation rate exceeds the
// policy ceiling. Zero observations count as a zero rate.
func (v *Validator) CheckQ2TypeSoundness(observations, violations uint64) error {
	if observations == 0 {
		return nil
	}
	rate := float64(violations) / float64(observations)
	if rate > v.policy.MaxViolationRate {
		return newViolation(Q2TypeSoundness, "",
			[]string{fmt.Sprintf("schema violation rate %.4f exceeds %.4f", rate, v.policy.MaxViolationRate)},
			map[string]string{
				"observations": fmt.Sprintf("%d", observations),
				"violations":   fmt.Sprintf("%d", violations),
			})
	}
	return nil
}

// CheckQ3GuardPreservation fails if the measured worst-case tick count
// exceeds the hot-path tick budget. Exactly at budget passes.
func (v *Validator) CheckQ3GuardPreservation(maxTicks uint32) error {
	if maxTicks > v.policy.TickBudget {
		return newViolation(Q3GuardPreservation, "",
			[]string{fmt.Sprintf("worst-case ticks %d exceed budget %d", maxTicks, v.policy.TickBudget)},
			map[string]string{
				"max_ticks":   fmt.Sprintf("%d", maxTicks),
				"tick_budget": fmt.Sprintf("%d", v.policy.TickBudget),
			})
	}
	return nil
}

// CheckQ4SLOCompliance fails if hot-path ticks exceed the tick budget OR
// warm-path latency exceeds the warm ceiling. Both bounds are evaluated;
// every breach is reported together, never short-circuited.
func (v *Validator) CheckQ4SLOCompliance(maxTicks uint32, warmLatency time.Duration) error {
	var reasons []string
	if maxTicks > v.policy.TickBudget {
		reasons = append(reasons, fmt.Sprintf("hot-path ticks %d exceed budget %d", maxTicks, v.policy.TickBudget))
	}
	if warmLatency > v.policy.MaxWarmLatency {
		reasons = append(reasons, fmt.Sprintf("warm-path latency %v exceeds %v", warmLatency, v.policy.MaxWarmLatency))
	}
	if len(reasons) > 0 {
		return newViolation(Q4SLOCompliance, "", reasons, map[string]string{
			"max_ticks":    fmt.Sprintf("%d", maxTicks),
			"warm_latency": warmLatency.String(),
		})
	}
	return nil
}

// CheckQ5PerformanceBounds fails if memory, CPU, or tail latency exceed
// their ceilings. All three bounds are evaluated; every breach is
// reported together.
func (v *Validator) CheckQ5PerformanceBounds(memoryBytes uint64, cpuPercent float64, tailLatency time.Duration) error {
	var reasons []string
	if memoryBytes > v.policy.MaxMemoryBytes {
		reasons = append(reasons, fmt.Sprintf("memory %d bytes exceeds %d", memoryBytes, v.policy.MaxMemoryBytes))
	}
	if cpuPercent > v.policy.MaxCPUPercent {
		reasons = append(reasons, fmt.Sprintf("cpu %.1f%% exceeds %.1f%%", cpuPercent, v.policy.MaxCPUPercent))
	}
	if tailLatency > v.policy.MaxTailLatency {
		reasons = append(reasons, fmt.Sprintf("tail latency %v exceeds %v", tailLatency, v.policy.MaxTailLatency))
	}
	if len(reasons) > 0 {
		return newViolation(Q5PerformanceBounds, "", reasons, map[string]string{
			"memory_bytes": fmt.Sprintf("%d", memoryBytes),
			"cpu_percent":  fmt.Sprintf("%.1f", cpuPercent),
			"tail_latency": tailLatency.String(),
		})
	}
	return nil
}

// CheckAll composes Q1 through Q5 in order and returns either a
// fully-true HardInvariants or the FIRST failing invariant's Violation.
// Callers must not promote on any error.
func (v *Validator) CheckAll(candidateID, parentID string, visited map[string]bool, m Metrics) (HardInvariants, error) {
	if err := v.CheckQ1NoRetrocausation(candidateID, parentID, visited); err != nil {
		return HardInvariants{}, err
	}
	if err := v.CheckQ2TypeSoundness(m.Observations, m.SchemaViolations); err != nil {
		return HardInvariants{}, err
	}
	if err := v.CheckQ3GuardPreservation(m.MaxTicks); err != nil {
		return HardInvariants{}, err
	}
	if err := v.CheckQ4SLOCompliance(m.MaxTicks, m.WarmLatency); err != nil {
		return HardInvariants{}, err
	}
	if err := v.CheckQ5PerformanceBounds(m.MemoryBytes, m.CPUPercent, m.TailLatency); err != nil {
		return HardInvariants{}, err
	}
	return HardInvariants{
		Q1NoRetrocausation:  true,
		Q2TypeSoundness:     true,
		Q3GuardPreservation: true,
		Q4SLOCompliance:     true,
		Q5PerformanceBounds: true,
	}, nil
}
