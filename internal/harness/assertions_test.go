package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/snapshot"
)

// entry builds a minimal trail entry for assertion tests.
func entry(cycle uint64, typ audit.EventType, snapshotID, reason string) audit.Entry {
	return audit.Entry{
		CycleNumber: cycle,
		Event: audit.Event{
			Type:       typ,
			SnapshotID: snapshotID,
			Reason:     reason,
		},
	}
}

func emptyContext() *AssertionContext {
	return &AssertionContext{Candidates: map[string]string{}}
}

func TestAssertAuditContains_Found(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventCycleStarted, "", ""),
		entry(1, audit.EventPromotionSucceeded, "abc", ""),
	}

	err := assertAuditContains(trail, Assertion{
		Type:  AssertAuditContains,
		Event: "promotion_succeeded",
	}, emptyContext())
	require.NoError(t, err)
}

func TestAssertAuditContains_EventAbsent(t *testing.T) {
	trail := []audit.Entry{entry(1, audit.EventCycleStarted, "", "")}

	err := assertAuditContains(trail, Assertion{
		Type:  AssertAuditContains,
		Event: "promotion_succeeded",
	}, emptyContext())
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "not found in trail", aerr.Actual)
}

func TestAssertAuditContains_CycleFilter(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventCycleStarted, "", ""),
		entry(2, audit.EventPromotionSucceeded, "abc", ""),
	}

	assertion := Assertion{Type: AssertAuditContains, Event: "promotion_succeeded", Cycle: 2}
	require.NoError(t, assertAuditContains(trail, assertion, emptyContext()))

	assertion.Cycle = 1
	require.Error(t, assertAuditContains(trail, assertion, emptyContext()))
}

func TestAssertAuditContains_SnapshotResolvedThroughCandidates(t *testing.T) {
	id := snapshot.ComputeID([]byte("hot total candidate")).String()
	actx := &AssertionContext{Candidates: map[string]string{"orders.hot_total": id}}

	trail := []audit.Entry{entry(1, audit.EventPromotionSucceeded, id, "")}

	require.NoError(t, assertAuditContains(trail, Assertion{
		Type:     AssertAuditContains,
		Event:    "promotion_succeeded",
		Snapshot: "orders.hot_total",
	}, actx))

	// Same event type with a different snapshot id does not satisfy it.
	other := []audit.Entry{entry(1, audit.EventPromotionSucceeded, "deadbeef", "")}
	require.Error(t, assertAuditContains(other, Assertion{
		Type:     AssertAuditContains,
		Event:    "promotion_succeeded",
		Snapshot: "orders.hot_total",
	}, actx))
}

func TestAssertAuditContains_UnknownTarget(t *testing.T) {
	trail := []audit.Entry{entry(1, audit.EventPromotionSucceeded, "abc", "")}

	err := assertAuditContains(trail, Assertion{
		Type:     AssertAuditContains,
		Event:    "promotion_succeeded",
		Snapshot: "orders.never_proposed",
	}, emptyContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `a candidate for target "orders.never_proposed"`)
}

func TestAssertAuditContains_ReasonSubstring(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventValidationFailed, "abc", "worst-case ticks 9 exceed budget 8"),
	}

	require.NoError(t, assertAuditContains(trail, Assertion{
		Type:   AssertAuditContains,
		Event:  "validation_failed",
		Reason: "exceed budget",
	}, emptyContext()))

	require.Error(t, assertAuditContains(trail, Assertion{
		Type:   AssertAuditContains,
		Event:  "validation_failed",
		Reason: "grace period",
	}, emptyContext()))
}

func TestAssertAuditOrder_InOrder(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventCycleStarted, "", ""),
		entry(1, audit.EventPatternsDetected, "", ""),
		entry(1, audit.EventPromotionSucceeded, "abc", ""),
	}

	require.NoError(t, assertAuditOrder(trail, Assertion{
		Type:   AssertAuditOrder,
		Events: []string{"cycle_started", "promotion_succeeded"},
	}))
}

func TestAssertAuditOrder_OutOfOrder(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventPromotionSucceeded, "abc", ""),
		entry(1, audit.EventCycleStarted, "", ""),
	}

	err := assertAuditOrder(trail, Assertion{
		Type:   AssertAuditOrder,
		Events: []string{"cycle_started", "promotion_succeeded"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")
}

func TestAssertAuditOrder_MissingEvent(t *testing.T) {
	trail := []audit.Entry{entry(1, audit.EventCycleStarted, "", "")}

	err := assertAuditOrder(trail, Assertion{
		Type:   AssertAuditOrder,
		Events: []string{"cycle_started", "promotion_succeeded"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: promotion_succeeded")
}

func TestAssertAuditOrder_UsesFirstOccurrences(t *testing.T) {
	// cycle_started repeats after no_anomalies, but ordering is judged
	// on first occurrences only.
	trail := []audit.Entry{
		entry(1, audit.EventCycleStarted, "", ""),
		entry(1, audit.EventNoAnomalies, "", ""),
		entry(2, audit.EventCycleStarted, "", ""),
	}

	err := assertAuditOrder(trail, Assertion{
		Type:   AssertAuditOrder,
		Events: []string{"no_anomalies", "cycle_started"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_anomalies (pos 2) should be before cycle_started (pos 1)")
}

func TestAssertAuditCount_Exact(t *testing.T) {
	trail := []audit.Entry{
		entry(1, audit.EventCycleStarted, "", ""),
		entry(2, audit.EventCycleStarted, "", ""),
	}

	require.NoError(t, assertAuditCount(trail, Assertion{
		Type:  AssertAuditCount,
		Event: "cycle_started",
		Count: 2,
	}))
}

func TestAssertAuditCount_Mismatch(t *testing.T) {
	trail := []audit.Entry{entry(1, audit.EventCycleStarted, "", "")}

	err := assertAuditCount(trail, Assertion{
		Type:  AssertAuditCount,
		Event: "promotion_succeeded",
		Count: 1,
	})
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "1 occurrences of promotion_succeeded", aerr.Expected)
	assert.Equal(t, "0 occurrences", aerr.Actual)
}

func TestAssertCurrentSnapshot_None(t *testing.T) {
	result := NewResult()

	require.NoError(t, assertCurrentSnapshot(result, Assertion{
		Type:     AssertCurrentSnapshot,
		Snapshot: SnapshotNone,
	}, emptyContext()))

	result.Current = &snapshot.Descriptor{SnapshotID: snapshot.ComputeID([]byte("x"))}
	err := assertCurrentSnapshot(result, Assertion{
		Type:     AssertCurrentSnapshot,
		Snapshot: SnapshotNone,
	}, emptyContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is promoted")
}

func TestAssertCurrentSnapshot_Match(t *testing.T) {
	id := snapshot.ComputeID([]byte("hot total candidate"))
	actx := &AssertionContext{Candidates: map[string]string{"orders.hot_total": id.String()}}

	result := NewResult()
	result.Current = &snapshot.Descriptor{SnapshotID: id}

	require.NoError(t, assertCurrentSnapshot(result, Assertion{
		Type:     AssertCurrentSnapshot,
		Snapshot: "orders.hot_total",
	}, actx))
}

func TestAssertCurrentSnapshot_Mismatch(t *testing.T) {
	actx := &AssertionContext{Candidates: map[string]string{
		"orders.hot_total": snapshot.ComputeID([]byte("expected")).String(),
	}}

	result := NewResult()
	result.Current = &snapshot.Descriptor{SnapshotID: snapshot.ComputeID([]byte("actual"))}

	err := assertCurrentSnapshot(result, Assertion{
		Type:     AssertCurrentSnapshot,
		Snapshot: "orders.hot_total",
	}, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `target "orders.hot_total"`)
}

func TestAssertCurrentSnapshot_NothingPromoted(t *testing.T) {
	actx := &AssertionContext{Candidates: map[string]string{
		"orders.hot_total": snapshot.ComputeID([]byte("expected")).String(),
	}}

	err := assertCurrentSnapshot(NewResult(), Assertion{
		Type:     AssertCurrentSnapshot,
		Snapshot: "orders.hot_total",
	}, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot promoted")
}

func TestAssertHistoryLength(t *testing.T) {
	actx := &AssertionContext{
		Candidates: map[string]string{},
		History:    []loop.FeedbackCycle{{}, {}},
	}

	require.NoError(t, assertHistoryLength(nil, Assertion{
		Type:   AssertHistoryLength,
		Length: 2,
	}, actx))

	err := assertHistoryLength(nil, Assertion{
		Type:   AssertHistoryLength,
		Length: 3,
	}, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 retained cycle records")
	assert.Contains(t, err.Error(), "2 records")
}

func TestEvaluateAssertions_CollectsAllFailures(t *testing.T) {
	result := NewResult()
	result.Trail = []audit.Entry{entry(1, audit.EventCycleStarted, "", "")}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertAuditContains, Event: "cycle_started"},     // passes
		{Type: AssertAuditContains, Event: "promotion_started"}, // fails
		{Type: AssertAuditCount, Event: "cycle_started", Count: 5},
	}, emptyContext())

	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "Assertion failed: audit_contains")
	assert.Contains(t, failures[1], "Assertion failed: audit_count")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(NewResult(), []Assertion{
		{Type: "trail_matches"},
	}, emptyContext())

	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "trail_matches"`)
}

func TestAssertionError_Format(t *testing.T) {
	aerr := &AssertionError{
		Type:     AssertAuditContains,
		Expected: "event promotion_succeeded",
		Actual:   "not found in trail",
		Trail: []audit.Entry{
			entry(1, audit.EventCycleStarted, "", ""),
			entry(1, audit.EventValidationFailed, "0123456789abcdef", "worst-case ticks 9 exceed budget 8"),
		},
	}

	msg := aerr.Error()
	assert.Contains(t, msg, "Assertion failed: audit_contains")
	assert.Contains(t, msg, "  Expected: event promotion_succeeded")
	assert.Contains(t, msg, "  Actual: not found in trail")
	assert.Contains(t, msg, "Full trail:")
	assert.Contains(t, msg, "[1] cycle=1 cycle_started")
	// Long snapshot ids are abbreviated and reasons quoted.
	assert.Contains(t, msg, "snapshot=0123456789ab")
	assert.Contains(t, msg, `reason="worst-case ticks 9 exceed budget 8"`)
}
