package loop

import (
	"strconv"
	"time"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/canon"
	"github.com/roach88/autarch/internal/snapshot"
)

// CycleStep names one phase of a cycle. The wire values are snake_case
// and appear in audit details and cycle errors.
type CycleStep string

const (
	StepObserve  CycleStep = "observe"
	StepDetect   CycleStep = "detect"
	StepPropose  CycleStep = "propose"
	StepValidate CycleStep = "validate"
	StepCompile  CycleStep = "compile"
	StepPromote  CycleStep = "promote"
	StepAudit    CycleStep = "audit"
	StepAdapt    CycleStep = "adapt"
)

// Steps returns every cycle step in execution order.
func Steps() []CycleStep {
	return []CycleStep{
		StepObserve,
		StepDetect,
		StepPropose,
		StepValidate,
		StepCompile,
		StepPromote,
		StepAudit,
		StepAdapt,
	}
}

// IsValid reports whether s is a known cycle step.
func (s CycleStep) IsValid() bool {
	for _, known := range Steps() {
		if s == known {
			return true
		}
	}
	return false
}

// CycleOutcome classifies how a cycle ended.
type CycleOutcome string

const (
	// OutcomeSuccess: every attempted promotion landed.
	OutcomeSuccess CycleOutcome = "success"
	// OutcomePartialSuccess: some proposals landed, some failed.
	OutcomePartialSuccess CycleOutcome = "partial_success"
	// OutcomeNoChange: nothing to do (no patterns, or no proposals).
	OutcomeNoChange CycleOutcome = "no_change"
	// OutcomeFailure: promotions were attempted and none landed, or a
	// cycle step failed outright.
	OutcomeFailure CycleOutcome = "failure"
)

// Health is the controller's operator-visible state.
type Health string

const (
	HealthRunning Health = "running"
	HealthPaused  Health = "paused"
	HealthStopped Health = "stopped"
)

// Observation is one telemetry sample collected at the top of a cycle.
type Observation struct {
	Situation string            `json:"situation"`
	Source    string            `json:"source"`
	Values    map[string]string `json:"values,omitempty"`
	At        time.Time         `json:"at"`
}

// Pattern is a regularity the miner found in recent observations.
type Pattern struct {
	Kind        string  `json:"kind"`
	Situation   string  `json:"situation"`
	Confidence  float64 `json:"confidence"`
	Occurrences int     `json:"occurrences"`
	Description string  `json:"description,omitempty"`
}

// SchemaChange is one typed change inside a proposal.
type SchemaChange struct {
	Op     string `json:"op"`
	Target string `json:"target"`
	Detail string `json:"detail,omitempty"`
}

// Proposal is a candidate set of schema changes responding to detected
// patterns. ChangeRate is the fraction of the live schema surface the
// changes touch, computed by the generator; the controller compares it
// against the adaptive risk budget.
type Proposal struct {
	Changes       []SchemaChange `json:"changes"`
	Justification string         `json:"justification"`
	Patterns      []Pattern      `json:"patterns"`
	ChangeRate    float64        `json:"change_rate"`
	ProposedAt    time.Time      `json:"proposed_at"`
}

// CandidateID derives the proposal's snapshot id from its canonical
// content: the same proposal always names the same candidate.
func (p *Proposal) CandidateID() snapshot.ID {
	return snapshot.ID(canon.SumDomain(canon.DomainProposal, canon.MustMarshalCanonical(p.canonicalMap())))
}

// canonicalMap renders the proposal for hashing. Floats are formatted
// as shortest-roundtrip decimal strings so the canonical form stays
// float-free.
func (p *Proposal) canonicalMap() map[string]any {
	changes := make([]any, len(p.Changes))
	for i, ch := range p.Changes {
		m := map[string]any{
			"op":     ch.Op,
			"target": ch.Target,
		}
		if ch.Detail != "" {
			m["detail"] = ch.Detail
		}
		changes[i] = m
	}
	patterns := make([]any, len(p.Patterns))
	for i, pat := range p.Patterns {
		patterns[i] = map[string]any{
			"kind":        pat.Kind,
			"situation":   pat.Situation,
			"confidence":  strconv.FormatFloat(pat.Confidence, 'f', -1, 64),
			"occurrences": int64(pat.Occurrences),
		}
	}
	return map[string]any{
		"changes":       changes,
		"justification": p.Justification,
		"patterns":      patterns,
		"change_rate":   strconv.FormatFloat(p.ChangeRate, 'f', -1, 64),
	}
}

// FeedbackCycle is the per-cycle record fed back into the knowledge
// base and kept in the controller's in-memory history.
type FeedbackCycle struct {
	CycleNumber      uint64        `json:"cycle_number"`
	Token            string        `json:"token"`
	Trigger          audit.Trigger `json:"trigger"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
	Duration         time.Duration `json:"duration"`
	Outcome          CycleOutcome  `json:"outcome"`
	PatternsDetected int           `json:"patterns_detected"`
	SnapshotID       string        `json:"snapshot_id,omitempty"`
	FailedStep       CycleStep     `json:"failed_step,omitempty"`
	Error            string        `json:"error,omitempty"`
}
