package invariant

import (
	"errors"
	"fmt"
	"strings"
)

// Invariant identifies which hard invariant a violation belongs to.
type Invariant string

const (
	Q1NoRetrocausation  Invariant = "Q1_NO_RETROCAUSATION"
	Q2TypeSoundness     Invariant = "Q2_TYPE_SOUNDNESS"
	Q3GuardPreservation Invariant = "Q3_GUARD_PRESERVATION"
	Q4SLOCompliance     Invariant = "Q4_SLO_COMPLIANCE"
	Q5PerformanceBounds Invariant = "Q5_PERFORMANCE_BOUNDS"
)

// Violation is the typed error returned when a candidate fails a hard
// invariant. Callers must never promote a candidate on any Violation.
//
// Q4 and Q5 gather ALL breached bounds into Reasons rather than stopping
// at the first, so operators see the full picture in one audit entry.
type Violation struct {
	// Invariant identifies the failed check.
	Invariant Invariant

	// CandidateID identifies the rejected candidate (may be empty for
	// threshold-only checks invoked outside a promotion attempt).
	CandidateID string

	// Reasons lists every breached bound, one human-readable string each.
	Reasons []string

	// Details contains additional context (measured values, thresholds).
	Details map[string]string
}

// Error implements the error interface.
func (v *Violation) Error() string {
	msg := strings.Join(v.Reasons, "; ")
	if v.CandidateID != "" {
		return fmt.Sprintf("%s: %s (candidate=%s)", v.Invariant, msg, v.CandidateID)
	}
	return fmt.Sprintf("%s: %s", v.Invariant, msg)
}

// IsViolation returns true if the error is a hard-invariant violation.
// Uses errors.As to handle wrapped errors.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// Violated extracts the failed invariant from an error chain.
// The second return is false if the error is not a Violation.
func Violated(err error) (Invariant, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v.Invariant, true
	}
	return "", false
}

func newViolation(inv Invariant, candidateID string, reasons []string, details map[string]string) *Violation {
	return &Violation{
		Invariant:   inv,
		CandidateID: candidateID,
		Reasons:     reasons,
		Details:     details,
	}
}
