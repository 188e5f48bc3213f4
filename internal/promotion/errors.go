package promotion

import (
	"errors"
	"fmt"

	"github.com/roach88/autarch/internal/snapshot"
)

// Error represents a failed promotion attempt: a candidate that passed
// (or never reached) invariant checking but could not be made current.
//
// Error includes structured fields for diagnostics and audit payloads.
type Error struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SnapshotID identifies the affected snapshot (zero if none applies).
	SnapshotID snapshot.ID

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes promotion failures.
type ErrorCode string

const (
	// ErrCodeSnapshotNotFound indicates a referenced snapshot (a parent,
	// or a lookup target) is not in the retained map.
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"

	// ErrCodePromotionFailed indicates the promotion or rollback
	// operation itself could not be performed.
	ErrCodePromotionFailed ErrorCode = "PROMOTION_FAILED"

	// ErrCodeGracePeriodNotMet indicates a forward promotion was
	// attempted before the configured minimum interval since the last
	// one had elapsed.
	ErrCodeGracePeriodNotMet ErrorCode = "GRACE_PERIOD_NOT_MET"

	// ErrCodeValidationFailed indicates the candidate's validation step
	// failed after compilation.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrCodeNoValidationReceipt indicates a guard was built without any
	// validation receipt.
	ErrCodeNoValidationReceipt ErrorCode = "NO_VALIDATION_RECEIPT"

	// ErrCodeInvariantsViolated indicates the receipt records that the
	// hard invariants were not preserved.
	ErrCodeInvariantsViolated ErrorCode = "INVARIANTS_VIOLATED"

	// ErrCodeNotProductionReady indicates the receipt's readiness flag
	// is false.
	ErrCodeNotProductionReady ErrorCode = "NOT_PRODUCTION_READY"

	// ErrCodeAtomicOperationFailed indicates post-promotion verification
	// found a different snapshot current (superseded mid-flight).
	ErrCodeAtomicOperationFailed ErrorCode = "ATOMIC_OPERATION_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if !e.SnapshotID.IsZero() {
		return fmt.Sprintf("%s: %s (snapshot=%s)", e.Code, e.Message, e.SnapshotID.Short())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a promotion Error with the given code and message.
func NewError(code ErrorCode, id snapshot.ID, message string) *Error {
	return &Error{Code: code, SnapshotID: id, Message: message}
}

// CodeOf extracts the promotion error code from an error chain.
// The second return is false if the chain holds no promotion Error.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// IsSnapshotNotFound returns true for SNAPSHOT_NOT_FOUND errors.
// Uses errors.As to handle wrapped errors.
func IsSnapshotNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeSnapshotNotFound
}

// IsGracePeriodNotMet returns true for GRACE_PERIOD_NOT_MET errors.
func IsGracePeriodNotMet(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeGracePeriodNotMet
}

// IsAtomicOperationFailed returns true for ATOMIC_OPERATION_FAILED errors.
func IsAtomicOperationFailed(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeAtomicOperationFailed
}
