package rollback

import (
	"errors"
	"fmt"

	"github.com/roach88/autarch/internal/snapshot"
)

// ErrorCode classifies why a reversal could not be performed.
type ErrorCode string

const (
	// ErrCodeNoPreviousSnapshot: immediate rollback requested before any
	// promotion was recorded, so there is nothing to return to.
	ErrCodeNoPreviousSnapshot ErrorCode = "NO_PREVIOUS_SNAPSHOT"

	// ErrCodeInvalidRollbackTarget: the named target is not a successful
	// promotion still present in the history ring.
	ErrCodeInvalidRollbackTarget ErrorCode = "INVALID_ROLLBACK_TARGET"

	// ErrCodeRollbackFailed: the reversal itself failed mid-flight
	// (promoter rejection or audit write failure).
	ErrCodeRollbackFailed ErrorCode = "ROLLBACK_FAILED"
)

// Error is the rollback failure type. Err carries the underlying cause
// when the failure wraps a promoter or audit error.
type Error struct {
	Code       ErrorCode
	SnapshotID snapshot.ID
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.SnapshotID.IsZero() {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (snapshot %s)", e.Code, e.Message, e.SnapshotID.Short())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a rollback error with no underlying cause.
func NewError(code ErrorCode, id snapshot.ID, message string) *Error {
	return &Error{Code: code, SnapshotID: id, Message: message}
}

// WrapError builds a rollback error around an underlying cause.
func WrapError(code ErrorCode, id snapshot.ID, message string, err error) *Error {
	return &Error{Code: code, SnapshotID: id, Message: message, Err: err}
}

// CodeOf extracts the rollback error code from err, if it carries one.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsNoPreviousSnapshot reports whether err is a NO_PREVIOUS_SNAPSHOT
// rollback error.
func IsNoPreviousSnapshot(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeNoPreviousSnapshot
}

// IsInvalidRollbackTarget reports whether err is an
// INVALID_ROLLBACK_TARGET rollback error.
func IsInvalidRollbackTarget(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeInvalidRollbackTarget
}
