package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/invariant"
)

// Scenario defines a conformance test scenario.
// Scenarios script a sequence of feedback cycles through the loop
// controller and assert on the resulting audit trail and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides loop configuration knobs on top of the defaults.
	Config *ConfigOverrides `yaml:"config,omitempty"`

	// Policy overrides invariant policy thresholds on top of the stock
	// policy.
	Policy *PolicyOverrides `yaml:"policy,omitempty"`

	// Cycles scripts the feedback cycles to run, in order. Each entry
	// drives one controller cycle.
	Cycles []CycleScript `yaml:"cycles"`

	// Assertions validate the final audit trail and state.
	// Supported types: audit_contains, audit_order, audit_count,
	// current_snapshot, history_length.
	Assertions []Assertion `yaml:"assertions"`
}

// ConfigOverrides is the subset of loop configuration a scenario may
// override. Pointer fields distinguish "not set" from zero values;
// durations are strings ("90s").
type ConfigOverrides struct {
	MaxProposals     *int     `yaml:"max_proposals,omitempty"`
	MaxChangeRate    *float64 `yaml:"max_change_rate,omitempty"`
	FailureThreshold *float64 `yaml:"failure_threshold,omitempty"`
	MaxRetries       *int     `yaml:"max_retries,omitempty"`
	WindowSize       *int     `yaml:"window_size,omitempty"`
	GracePeriod      string   `yaml:"grace_period,omitempty"`
}

// PolicyOverrides is the subset of invariant policy a scenario may
// override. Omitted knobs keep the stock policy values.
type PolicyOverrides struct {
	MaxViolationRate *float64 `yaml:"max_violation_rate,omitempty"`
	TickBudget       *uint32  `yaml:"tick_budget,omitempty"`
	MaxWarmLatency   string   `yaml:"max_warm_latency,omitempty"`
	MaxTailLatency   string   `yaml:"max_tail_latency,omitempty"`
	MaxMemoryBytes   *uint64  `yaml:"max_memory_bytes,omitempty"`
	MaxCPUPercent    *float64 `yaml:"max_cpu_percent,omitempty"`
}

// resolve renders the overrides onto the stock policy.
func (o *PolicyOverrides) resolve() (invariant.Policy, error) {
	policy := invariant.DefaultPolicy()
	if o == nil {
		return policy, nil
	}
	if o.MaxViolationRate != nil {
		policy.MaxViolationRate = *o.MaxViolationRate
	}
	if o.TickBudget != nil {
		policy.TickBudget = *o.TickBudget
	}
	if o.MaxWarmLatency != "" {
		d, err := time.ParseDuration(o.MaxWarmLatency)
		if err != nil {
			return policy, fmt.Errorf("invalid max_warm_latency: %w", err)
		}
		policy.MaxWarmLatency = d
	}
	if o.MaxTailLatency != "" {
		d, err := time.ParseDuration(o.MaxTailLatency)
		if err != nil {
			return policy, fmt.Errorf("invalid max_tail_latency: %w", err)
		}
		policy.MaxTailLatency = d
	}
	if o.MaxMemoryBytes != nil {
		policy.MaxMemoryBytes = *o.MaxMemoryBytes
	}
	if o.MaxCPUPercent != nil {
		policy.MaxCPUPercent = *o.MaxCPUPercent
	}
	return policy, nil
}

// CycleScript feeds one feedback cycle. The zero value scripts a quiet
// cycle: no observations, no patterns, nothing to promote.
type CycleScript struct {
	// Trigger initiating the cycle; defaults to "scheduled".
	Trigger string `yaml:"trigger,omitempty"`

	// Observations returned by the scripted observation source.
	Observations []ObservationScript `yaml:"observations,omitempty"`

	// ObserveError makes the observation source fail with this message,
	// aborting the cycle at the observe step.
	ObserveError string `yaml:"observe_error,omitempty"`

	// Patterns returned by the scripted miner. Empty means the cycle
	// takes the quiet no-anomalies path.
	Patterns []PatternScript `yaml:"patterns,omitempty"`

	// Proposals returned by the scripted generator, one candidate each.
	Proposals []ProposalScript `yaml:"proposals,omitempty"`

	// SLOViolation makes the live-signal monitor report a breach at the
	// top of the cycle, forcing a rollback before any new work.
	SLOViolation *ViolationScript `yaml:"slo_violation,omitempty"`
}

// trigger returns the cycle's audit trigger, defaulting to scheduled.
func (cs *CycleScript) trigger() audit.Trigger {
	if cs.Trigger == "" {
		return audit.TriggerScheduled
	}
	return audit.Trigger(cs.Trigger)
}

// ObservationScript is one scripted telemetry sample.
type ObservationScript struct {
	Situation string            `yaml:"situation"`
	Source    string            `yaml:"source,omitempty"`
	Values    map[string]string `yaml:"values,omitempty"`
}

// PatternScript is one scripted detected pattern.
type PatternScript struct {
	Kind        string  `yaml:"kind"`
	Situation   string  `yaml:"situation"`
	Confidence  float64 `yaml:"confidence,omitempty"`
	Occurrences int     `yaml:"occurrences,omitempty"`
	Description string  `yaml:"description,omitempty"`
}

// ProposalScript is one scripted candidate. Target doubles as the
// handle assertions use to name the resulting snapshot.
type ProposalScript struct {
	// Target is the schema element the change touches (required).
	Target string `yaml:"target"`

	// Op is the change operation; defaults to "add_field".
	Op string `yaml:"op,omitempty"`

	// Detail is free-form change detail.
	Detail string `yaml:"detail,omitempty"`

	// Justification defaults to "scripted change to <target>".
	Justification string `yaml:"justification,omitempty"`

	// ChangeRate is the schema fraction the change touches; defaults
	// to 0.02.
	ChangeRate float64 `yaml:"change_rate,omitempty"`

	// Metrics are the candidate's measured numbers fed to invariant
	// checking. Omitted fields default to values that pass the stock
	// policy.
	Metrics *MetricsScript `yaml:"metrics,omitempty"`

	// CompileError makes compilation of this candidate fail.
	CompileError string `yaml:"compile_error,omitempty"`
}

// MetricsScript mirrors the candidate metrics in YAML form. Durations
// are strings ("20ms"); omitted fields take healthy defaults.
type MetricsScript struct {
	Observations     *uint64  `yaml:"observations,omitempty"`
	SchemaViolations *uint64  `yaml:"schema_violations,omitempty"`
	MaxTicks         *uint32  `yaml:"max_ticks,omitempty"`
	WarmLatency      string   `yaml:"warm_latency,omitempty"`
	TailLatency      string   `yaml:"tail_latency,omitempty"`
	MemoryBytes      *uint64  `yaml:"memory_bytes,omitempty"`
	CPUPercent       *float64 `yaml:"cpu_percent,omitempty"`
}

// resolve renders the script to metrics, starting from values that pass
// the stock policy. A nil script means a healthy candidate.
func (m *MetricsScript) resolve() (invariant.Metrics, error) {
	metrics := invariant.Metrics{
		Observations: 1000,
		MaxTicks:     6,
		WarmLatency:  20 * time.Millisecond,
		TailLatency:  80 * time.Millisecond,
		MemoryBytes:  128 << 20,
		CPUPercent:   10,
	}
	if m == nil {
		return metrics, nil
	}
	if m.Observations != nil {
		metrics.Observations = *m.Observations
	}
	if m.SchemaViolations != nil {
		metrics.SchemaViolations = *m.SchemaViolations
	}
	if m.MaxTicks != nil {
		metrics.MaxTicks = *m.MaxTicks
	}
	if m.WarmLatency != "" {
		d, err := time.ParseDuration(m.WarmLatency)
		if err != nil {
			return metrics, fmt.Errorf("invalid warm_latency: %w", err)
		}
		metrics.WarmLatency = d
	}
	if m.TailLatency != "" {
		d, err := time.ParseDuration(m.TailLatency)
		if err != nil {
			return metrics, fmt.Errorf("invalid tail_latency: %w", err)
		}
		metrics.TailLatency = d
	}
	if m.MemoryBytes != nil {
		metrics.MemoryBytes = *m.MemoryBytes
	}
	if m.CPUPercent != nil {
		metrics.CPUPercent = *m.CPUPercent
	}
	return metrics, nil
}

// ViolationScript is a scripted SLO breach on the promoted head.
type ViolationScript struct {
	Metric    string `yaml:"metric"`
	Observed  string `yaml:"observed"`
	Threshold string `yaml:"threshold"`
}

// Assertion validates the audit trail or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "audit_contains": an entry with the event (and optional
	//   snapshot, reason substring, cycle) exists
	// - "audit_order": first occurrences of events appear in order
	// - "audit_count": the event appears exactly Count times
	// - "current_snapshot": the promoted head matches Snapshot
	// - "history_length": the controller retains Length cycle records
	Type string `yaml:"type"`

	// Event is the audit event type (audit_contains, audit_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected event order (audit_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (audit_count).
	Count int `yaml:"count,omitempty"`

	// Cycle restricts audit_contains to one cycle number. Zero means
	// any cycle.
	Cycle uint64 `yaml:"cycle,omitempty"`

	// Snapshot names a snapshot by the proposal target that produced
	// it; when the same target was proposed more than once it names the
	// most recent candidate. The literal "none" asserts an empty head
	// (current_snapshot only).
	Snapshot string `yaml:"snapshot,omitempty"`

	// Reason is a substring expected in the entry's reason field
	// (audit_contains).
	Reason string `yaml:"reason,omitempty"`

	// Length is the expected history length (history_length).
	Length int `yaml:"length,omitempty"`
}

// Assertion type constants.
const (
	AssertAuditContains   = "audit_contains"
	AssertAuditOrder      = "audit_order"
	AssertAuditCount      = "audit_count"
	AssertCurrentSnapshot = "current_snapshot"
	AssertHistoryLength   = "history_length"
)

// SnapshotNone is the current_snapshot reference asserting that no
// snapshot is promoted.
const SnapshotNone = "none"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Cycles) == 0 {
		return fmt.Errorf("cycles list is required and must be non-empty")
	}

	if s.Config != nil && s.Config.GracePeriod != "" {
		if _, err := time.ParseDuration(s.Config.GracePeriod); err != nil {
			return fmt.Errorf("config: invalid grace_period: %w", err)
		}
	}
	if _, err := s.Policy.resolve(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	for i := range s.Cycles {
		cs := &s.Cycles[i]
		switch audit.Trigger(cs.Trigger) {
		case "", audit.TriggerScheduled, audit.TriggerManual, audit.TriggerSLOViolation:
		default:
			return fmt.Errorf("cycles[%d]: unknown trigger %q", i, cs.Trigger)
		}
		if cs.SLOViolation != nil && cs.SLOViolation.Metric == "" {
			return fmt.Errorf("cycles[%d]: slo_violation requires metric", i)
		}
		for j := range cs.Proposals {
			ps := &cs.Proposals[j]
			if ps.Target == "" {
				return fmt.Errorf("cycles[%d].proposals[%d]: target is required", i, j)
			}
			if _, err := ps.Metrics.resolve(); err != nil {
				return fmt.Errorf("cycles[%d].proposals[%d]: %w", i, j, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(assertion); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// validateAssertion checks per-type required fields.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertAuditContains:
		if a.Event == "" {
			return fmt.Errorf("audit_contains requires event")
		}
		if !audit.EventType(a.Event).IsValid() {
			return fmt.Errorf("unknown event type %q", a.Event)
		}
	case AssertAuditOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("audit_order requires at least two events")
		}
		for _, ev := range a.Events {
			if !audit.EventType(ev).IsValid() {
				return fmt.Errorf("unknown event type %q", ev)
			}
		}
	case AssertAuditCount:
		if a.Event == "" {
			return fmt.Errorf("audit_count requires event")
		}
		if !audit.EventType(a.Event).IsValid() {
			return fmt.Errorf("unknown event type %q", a.Event)
		}
		if a.Count < 0 {
			return fmt.Errorf("audit_count requires a non-negative count")
		}
	case AssertCurrentSnapshot:
		if a.Snapshot == "" {
			return fmt.Errorf("current_snapshot requires snapshot")
		}
	case AssertHistoryLength:
		if a.Length < 0 {
			return fmt.Errorf("history_length requires a non-negative length")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
