package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/canon"
	"github.com/roach88/autarch/internal/loop"
)

// promoteCycle scripts one cycle that detects a pattern and proposes a
// change to the given target.
func promoteCycle(target string) CycleScript {
	return CycleScript{
		Patterns: []PatternScript{{
			Kind:        "hot_field",
			Situation:   "checkout",
			Confidence:  0.9,
			Occurrences: 40,
		}},
		Proposals: []ProposalScript{{Target: target}},
	}
}

// eventSequence flattens a trail to its event type names, in order.
func eventSequence(trail []audit.Entry) []string {
	out := make([]string, 0, len(trail))
	for _, e := range trail {
		out = append(out, string(e.Event.Type))
	}
	return out
}

// cycleEvents selects the event type names recorded under one cycle.
func cycleEvents(trail []audit.Entry, cycle uint64) []string {
	var out []string
	for _, e := range trail {
		if e.CycleNumber == cycle {
			out = append(out, string(e.Event.Type))
		}
	}
	return out
}

func TestRun_PromotesSingleCandidate(t *testing.T) {
	scenario := &Scenario{
		Name:        "promote-one",
		Description: "A single hot-field candidate goes through the full pipeline.",
		Cycles:      []CycleScript{promoteCycle("orders.hot_total")},
		Assertions: []Assertion{
			{Type: AssertAuditContains, Event: "promotion_succeeded", Snapshot: "orders.hot_total"},
			{Type: AssertAuditOrder, Events: []string{
				"cycle_started", "patterns_detected", "proposal_generated",
				"validation_passed", "promotion_started", "promotion_succeeded",
			}},
			{Type: AssertAuditCount, Event: "promotion_succeeded", Count: 1},
			{Type: AssertCurrentSnapshot, Snapshot: "orders.hot_total"},
			{Type: AssertHistoryLength, Length: 1},
		},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, res.Pass)
	assert.Empty(t, res.Errors)

	assert.Equal(t, []string{
		"cycle_started", "patterns_detected", "proposal_generated",
		"validation_passed", "promotion_started", "promotion_succeeded",
	}, eventSequence(res.Trail))
	assert.Equal(t, "cycle-000001", res.Trail[0].Event.Details["token"])

	require.Len(t, res.Cycles, 1)
	assert.Equal(t, loop.OutcomeSuccess, res.Cycles[0].Outcome)

	// First promotion lands at generation zero.
	require.NotNil(t, res.Current)
	assert.Equal(t, uint64(0), res.Current.Generation)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Current.SnapshotID.String())
	assert.Equal(t, "0", res.Trail[len(res.Trail)-1].Event.Details["generation"])
}

func TestRun_QuietCycle(t *testing.T) {
	scenario := &Scenario{
		Name:        "quiet",
		Description: "No patterns means the started/no-anomalies pair and nothing else.",
		Cycles:      []CycleScript{{}},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, res.Pass)
	assert.Equal(t, []string{"cycle_started", "no_anomalies"}, eventSequence(res.Trail))
	require.Len(t, res.Cycles, 1)
	assert.Equal(t, loop.OutcomeNoChange, res.Cycles[0].Outcome)
	assert.Nil(t, res.Current)
}

func TestRun_SLOViolationRollsBack(t *testing.T) {
	scenario := &Scenario{
		Name:        "slo-breach",
		Description: "A breach on the live head restores the previous snapshot.",
		Cycles: []CycleScript{
			promoteCycle("orders.hot_total"),
			promoteCycle("orders.hot_count"),
			{SLOViolation: &ViolationScript{
				Metric:    "p99_latency",
				Observed:  "712ms",
				Threshold: "500ms",
			}},
		},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cycle_started", "rollback_initiated", "rollback_completed",
	}, cycleEvents(res.Trail, 3))

	require.Len(t, res.Cycles, 3)
	assert.Equal(t, loop.OutcomePartialSuccess, res.Cycles[2].Outcome)

	// The head is back on the first candidate at a fresh generation.
	require.NotNil(t, res.Current)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Current.SnapshotID.String())
	assert.Equal(t, uint64(2), res.Current.Generation)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Cycles[2].SnapshotID)

	var initiated *audit.Entry
	for i := range res.Trail {
		if res.Trail[i].Event.Type == audit.EventRollbackInitiated {
			initiated = &res.Trail[i]
			break
		}
	}
	require.NotNil(t, initiated)
	assert.Equal(t, audit.TriggerSLOViolation, initiated.Event.Trigger)
	assert.Contains(t, initiated.Event.Reason, "p99_latency observed 712ms, threshold 500ms")
}

func TestRun_OverTickCandidateRejected(t *testing.T) {
	ticks := uint32(9)
	cycle := promoteCycle("orders.hot_total")
	cycle.Proposals[0].Metrics = &MetricsScript{MaxTicks: &ticks}

	scenario := &Scenario{
		Name:        "over-budget",
		Description: "Worst-case ticks above the budget fail validation.",
		Cycles:      []CycleScript{cycle},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cycle_started", "patterns_detected", "proposal_generated", "validation_failed",
	}, eventSequence(res.Trail))
	assert.Contains(t, res.Trail[3].Event.Reason, "exceed budget 8")

	require.Len(t, res.Cycles, 1)
	assert.Equal(t, loop.OutcomeFailure, res.Cycles[0].Outcome)
	assert.Nil(t, res.Current)
}

func TestRun_PolicyOverrideRaisesTickBudget(t *testing.T) {
	ticks := uint32(9)
	budget := uint32(12)
	cycle := promoteCycle("orders.hot_total")
	cycle.Proposals[0].Metrics = &MetricsScript{MaxTicks: &ticks}

	scenario := &Scenario{
		Name:        "raised-budget",
		Description: "The same candidate promotes once the tick budget allows it.",
		Policy:      &PolicyOverrides{TickBudget: &budget},
		Cycles:      []CycleScript{cycle},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, loop.OutcomeSuccess, res.Cycles[0].Outcome)
	require.NotNil(t, res.Current)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Current.SnapshotID.String())
}

func TestRun_ChangeRateOverBudgetRejected(t *testing.T) {
	cycle := promoteCycle("orders.hot_total")
	cycle.Proposals[0].ChangeRate = 0.5

	scenario := &Scenario{
		Name:        "too-much-change",
		Description: "A proposal touching half the schema is refused outright.",
		Cycles:      []CycleScript{cycle},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	seq := eventSequence(res.Trail)
	assert.Contains(t, seq, "validation_failed")
	assert.NotContains(t, seq, "promotion_started")
	assert.NotContains(t, seq, "promotion_succeeded")
	assert.Contains(t, res.Trail[len(res.Trail)-1].Event.Reason, "change rate 0.5000 exceeds allowed 0.1000")
	assert.Nil(t, res.Current)
}

func TestRun_CompileErrorRejectsCandidate(t *testing.T) {
	cycle := promoteCycle("orders.hot_total")
	cycle.Proposals[0].CompileError = "codegen exploded"

	scenario := &Scenario{
		Name:        "compile-failure",
		Description: "A compile failure rejects the candidate, not the cycle.",
		Cycles:      []CycleScript{cycle},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cycle_started", "patterns_detected", "proposal_generated", "validation_failed",
	}, eventSequence(res.Trail))
	assert.Contains(t, res.Trail[3].Event.Reason, "compile: codegen exploded")
	assert.Equal(t, loop.OutcomeFailure, res.Cycles[0].Outcome)
}

func TestRun_ObserveErrorAbortsCycle(t *testing.T) {
	scenario := &Scenario{
		Name:        "collector-down",
		Description: "Observation failures abort the cycle but not the scenario.",
		Cycles: []CycleScript{
			{ObserveError: "collector offline"},
			{},
		},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	require.Len(t, res.Cycles, 2)
	assert.Equal(t, loop.OutcomeFailure, res.Cycles[0].Outcome)
	assert.Equal(t, loop.StepObserve, res.Cycles[0].FailedStep)
	assert.Contains(t, res.Cycles[0].Error, "collector offline")

	// The aborted cycle leaves only its start entry; the next cycle
	// proceeds normally.
	assert.Equal(t, []string{"cycle_started"}, cycleEvents(res.Trail, 1))
	assert.Equal(t, []string{"cycle_started", "no_anomalies"}, cycleEvents(res.Trail, 2))
}

func TestRun_GracePeriodBlocksSecondPromotion(t *testing.T) {
	scenario := &Scenario{
		Name:        "grace-period",
		Description: "Back-to-back promotions inside the grace window are refused.",
		Config:      &ConfigOverrides{GracePeriod: "10s"},
		Cycles: []CycleScript{
			promoteCycle("orders.hot_total"),
			promoteCycle("orders.hot_count"),
		},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cycle_started", "patterns_detected", "proposal_generated",
		"validation_passed", "promotion_started", "promotion_failed",
	}, cycleEvents(res.Trail, 2))

	var failed *audit.Entry
	for i := range res.Trail {
		if res.Trail[i].Event.Type == audit.EventPromotionFailed {
			failed = &res.Trail[i]
			break
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.Event.Reason, "grace period")

	// The head stays on the first candidate.
	require.NotNil(t, res.Current)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Current.SnapshotID.String())
	assert.Equal(t, loop.OutcomeFailure, res.Cycles[1].Outcome)
}

func TestRun_ManualTrigger(t *testing.T) {
	scenario := &Scenario{
		Name:        "manual-cycle",
		Description: "Scripted triggers flow into the trail and cycle records.",
		Cycles:      []CycleScript{{Trigger: "manual"}},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, audit.TriggerManual, res.Trail[0].Event.Trigger)
	assert.Equal(t, audit.TriggerManual, res.Cycles[0].Trigger)
}

func TestRun_MaxProposalsCaps(t *testing.T) {
	one := 1
	scenario := &Scenario{
		Name:        "proposal-cap",
		Description: "Only the first candidate is taken when the cap is one.",
		Config:      &ConfigOverrides{MaxProposals: &one},
		Cycles: []CycleScript{{
			Patterns: []PatternScript{{Kind: "hot_field", Situation: "checkout", Confidence: 0.9, Occurrences: 40}},
			Proposals: []ProposalScript{
				{Target: "orders.hot_total"},
				{Target: "orders.hot_count"},
			},
		}},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	seq := eventSequence(res.Trail)
	generated := 0
	for _, ev := range seq {
		if ev == "proposal_generated" {
			generated++
		}
	}
	assert.Equal(t, 1, generated)

	require.NotNil(t, res.Current)
	assert.Equal(t, res.Candidates["orders.hot_total"], res.Current.SnapshotID.String())
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "doomed",
		Description: "Assertion failures mark the result, not the run.",
		Cycles:      []CycleScript{{}},
		Assertions: []Assertion{
			{Type: AssertAuditContains, Event: "promotion_succeeded"},
		},
	}

	res, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Assertion failed: audit_contains")
}

func TestRun_DeterministicTrails(t *testing.T) {
	scenario := func() *Scenario {
		return &Scenario{
			Name:        "repeatable",
			Description: "Two executions of the same script produce identical trails.",
			Cycles: []CycleScript{
				promoteCycle("orders.hot_total"),
				promoteCycle("orders.hot_count"),
				{SLOViolation: &ViolationScript{Metric: "p99_latency", Observed: "712ms", Threshold: "500ms"}},
			},
		}
	}

	first, err := Run(scenario())
	require.NoError(t, err)
	second, err := Run(scenario())
	require.NoError(t, err)

	assert.Equal(t, first.Candidates, second.Candidates)
	require.Equal(t, len(first.Trail), len(second.Trail))

	encode := func(res *Result) []byte {
		snap := &TrailSnapshot{ScenarioName: "repeatable", Trail: res.Trail, Candidates: res.Candidates}
		data, merr := canon.MarshalCanonical(snap.toCanonicalMap())
		require.NoError(t, merr)
		return data
	}
	assert.Equal(t, encode(first), encode(second))
}
