package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
)

// AssertionError is returned when an assertion fails.
// It includes the full trail so failures are debuggable from the
// message alone.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Trail    []audit.Entry // Full trail for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trail:\n")
	for i, entry := range e.Trail {
		fmt.Fprintf(&buf, "  [%d] cycle=%d %s", i+1, entry.CycleNumber, entry.Event.Type)
		if entry.Event.SnapshotID != "" {
			fmt.Fprintf(&buf, " snapshot=%s", shortID(entry.Event.SnapshotID))
		}
		if entry.Event.Reason != "" {
			fmt.Fprintf(&buf, " reason=%q", entry.Event.Reason)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// shortID abbreviates a snapshot id for failure messages.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// AssertionContext provides run context for evaluating assertions.
type AssertionContext struct {
	// Candidates maps proposal targets to the snapshot ids their
	// candidates hashed to.
	Candidates map[string]string

	// History is the controller's retained cycle history, oldest first.
	History []loop.FeedbackCycle
}

// resolveSnapshot maps an assertion's snapshot reference (a proposal
// target) to the candidate id it produced.
func (a *AssertionContext) resolveSnapshot(ref string) (string, bool) {
	id, ok := a.Candidates[ref]
	return id, ok
}

// assertAuditContains checks the trail for an entry matching the
// asserted event type and the optional snapshot, reason substring, and
// cycle number.
func assertAuditContains(trail []audit.Entry, assertion Assertion, actx *AssertionContext) error {
	wantSnapshot := ""
	if assertion.Snapshot != "" {
		id, ok := actx.resolveSnapshot(assertion.Snapshot)
		if !ok {
			return &AssertionError{
				Type:     AssertAuditContains,
				Expected: fmt.Sprintf("a candidate for target %q", assertion.Snapshot),
				Actual:   "no proposal with that target ran",
				Trail:    trail,
			}
		}
		wantSnapshot = id
	}

	for _, entry := range trail {
		if string(entry.Event.Type) != assertion.Event {
			continue
		}
		if assertion.Cycle != 0 && entry.CycleNumber != assertion.Cycle {
			continue
		}
		if wantSnapshot != "" && entry.Event.SnapshotID != wantSnapshot {
			continue
		}
		if assertion.Reason != "" && !strings.Contains(entry.Event.Reason, assertion.Reason) {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertAuditContains,
		Expected: describeContains(assertion),
		Actual:   "not found in trail",
		Trail:    trail,
	}
}

// describeContains renders the assertion's constraints for failure
// messages.
func describeContains(a Assertion) string {
	parts := []string{fmt.Sprintf("event %s", a.Event)}
	if a.Cycle != 0 {
		parts = append(parts, fmt.Sprintf("cycle %d", a.Cycle))
	}
	if a.Snapshot != "" {
		parts = append(parts, fmt.Sprintf("snapshot %q", a.Snapshot))
	}
	if a.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason containing %q", a.Reason))
	}
	return strings.Join(parts, ", ")
}

// assertAuditOrder checks that the first occurrences of the listed
// events appear in the given order. Events do not need to be adjacent.
func assertAuditOrder(trail []audit.Entry, assertion Assertion) error {
	// Find first position of each expected event, 1-indexed so zero
	// means absent.
	positions := make(map[string]int)
	for i, entry := range trail {
		typ := string(entry.Event.Type)
		for _, expected := range assertion.Events {
			if typ == expected && positions[expected] == 0 {
				positions[expected] = i + 1
			}
		}
	}

	for _, ev := range assertion.Events {
		if positions[ev] == 0 {
			return &AssertionError{
				Type:     AssertAuditOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", ev),
				Trail:    trail,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertAuditOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trail: trail,
			}
		}
	}

	return nil
}

// assertAuditCount checks that the event appears exactly the specified
// number of times.
func assertAuditCount(trail []audit.Entry, assertion Assertion) error {
	count := 0
	for _, entry := range trail {
		if string(entry.Event.Type) == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertAuditCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trail:    trail,
		}
	}

	return nil
}

// assertCurrentSnapshot checks the promoted head. The reference is a
// proposal target, or "none" for an empty head.
func assertCurrentSnapshot(result *Result, assertion Assertion, actx *AssertionContext) error {
	if assertion.Snapshot == SnapshotNone {
		if result.Current == nil {
			return nil
		}
		return &AssertionError{
			Type:     AssertCurrentSnapshot,
			Expected: "no promoted snapshot",
			Actual:   fmt.Sprintf("snapshot %s is promoted", result.Current.SnapshotID.Short()),
			Trail:    result.Trail,
		}
	}

	want, ok := actx.resolveSnapshot(assertion.Snapshot)
	if !ok {
		return &AssertionError{
			Type:     AssertCurrentSnapshot,
			Expected: fmt.Sprintf("a candidate for target %q", assertion.Snapshot),
			Actual:   "no proposal with that target ran",
			Trail:    result.Trail,
		}
	}
	if result.Current == nil {
		return &AssertionError{
			Type:     AssertCurrentSnapshot,
			Expected: fmt.Sprintf("target %q promoted", assertion.Snapshot),
			Actual:   "no snapshot promoted",
			Trail:    result.Trail,
		}
	}
	if got := result.Current.SnapshotID.String(); got != want {
		return &AssertionError{
			Type:     AssertCurrentSnapshot,
			Expected: fmt.Sprintf("target %q (%s)", assertion.Snapshot, shortID(want)),
			Actual:   shortID(got),
			Trail:    result.Trail,
		}
	}
	return nil
}

// assertHistoryLength checks how many cycle records the controller
// retained.
func assertHistoryLength(trail []audit.Entry, assertion Assertion, actx *AssertionContext) error {
	if got := len(actx.History); got != assertion.Length {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d retained cycle records", assertion.Length),
			Actual:   fmt.Sprintf("%d records", got),
			Trail:    trail,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter resolves snapshot references and carries the
// controller's cycle history.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertAuditContains:
			err = assertAuditContains(result.Trail, assertion, actx)
		case AssertAuditOrder:
			err = assertAuditOrder(result.Trail, assertion)
		case AssertAuditCount:
			err = assertAuditCount(result.Trail, assertion)
		case AssertCurrentSnapshot:
			err = assertCurrentSnapshot(result, assertion, actx)
		case AssertHistoryLength:
			err = assertHistoryLength(result.Trail, assertion, actx)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
