package loop

import (
	"errors"
	"fmt"
)

// CycleError is the umbrella for any step failure inside a cycle. It
// wraps the underlying cause, so errors.As still reaches the invariant,
// promotion, or rollback error underneath.
type CycleError struct {
	Step        CycleStep
	CycleNumber uint64
	Err         error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %d %s: %v", e.CycleNumber, e.Step, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// NewCycleError wraps err as a failure of step in the given cycle.
func NewCycleError(step CycleStep, cycleNumber uint64, err error) *CycleError {
	return &CycleError{Step: step, CycleNumber: cycleNumber, Err: err}
}

// FailedStep extracts which step a cycle error failed at.
func FailedStep(err error) (CycleStep, bool) {
	var e *CycleError
	if errors.As(err, &e) {
		return e.Step, true
	}
	return "", false
}
