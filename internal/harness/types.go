package harness

import (
	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/snapshot"
)

// Result holds the outcome of a scenario execution.
type Result struct {
	// Pass is true when all assertions held.
	Pass bool

	// Errors lists assertion failures.
	Errors []string

	// Trail is the complete audit trail the run produced, in order.
	Trail []audit.Entry

	// Cycles are the per-cycle records, one per scripted cycle. Cycles
	// the script aborted (observe_error and friends) appear here with
	// their failed step and error rather than failing the run.
	Cycles []loop.FeedbackCycle

	// Candidates maps proposal targets to the snapshot ids their
	// candidates hashed to.
	Candidates map[string]string

	// Current is the promoted head after the final cycle, nil when
	// nothing is promoted.
	Current *snapshot.Descriptor

	// State is the controller state after the final cycle.
	State loop.LoopState
}

// NewResult creates an empty result that passes until an error is added.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failure message and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}
