package store

import (
	"errors"
	"fmt"
)

// CoreError is the structured error type for the intelligence core's
// error taxonomy. All errors are returned as structured results - there
// is no silent failure path.
//
// Version conflicts and insufficient-data results are expected, routine
// outcomes that callers must handle gracefully, not alarm conditions.
type CoreError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SubjectID identifies the affected subject or resident.
	SubjectID string

	// CurrentVersion carries the live state version on VERSION_CONFLICT
	// so the caller can re-read and retry with fresh data.
	CurrentVersion int64

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeVersionConflict indicates a stale expected version on a state
	// transition. Recoverable: re-read and retry.
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// ErrCodeNotInitialized indicates the subject has no state record yet.
	// Fatal to the current operation; requires explicit initialization.
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// ErrCodeDuplicateSubmission indicates an idempotency key was already
	// seen. Not an error from the caller's perspective - the prior result
	// is returned alongside.
	ErrCodeDuplicateSubmission ErrorCode = "DUPLICATE_SUBMISSION"

	// ErrCodeInsufficientData indicates a projection was attempted with too
	// few data points. The partial result carries no escalation horizon.
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"

	// ErrCodeRuleNotFound indicates a referenced rule does not exist.
	ErrCodeRuleNotFound ErrorCode = "RULE_NOT_FOUND"

	// ErrCodeResidentNotFound indicates the resident has no recorded data.
	ErrCodeResidentNotFound ErrorCode = "RESIDENT_NOT_FOUND"
)

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Code == ErrCodeVersionConflict {
		return fmt.Sprintf("%s: %s (subject=%s, current_version=%d)", e.Code, e.Message, e.SubjectID, e.CurrentVersion)
	}
	if e.SubjectID != "" {
		return fmt.Sprintf("%s: %s (subject=%s)", e.Code, e.Message, e.SubjectID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a CoreError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsVersionConflict reports whether err is a VERSION_CONFLICT error.
func IsVersionConflict(err error) bool {
	return IsCode(err, ErrCodeVersionConflict)
}

// ConflictVersion extracts the live version from a VERSION_CONFLICT error.
// Returns false if err is not a version conflict.
func ConflictVersion(err error) (int64, bool) {
	var ce *CoreError
	if errors.As(err, &ce) && ce.Code == ErrCodeVersionConflict {
		return ce.CurrentVersion, true
	}
	return 0, false
}

// NewVersionConflict creates a VERSION_CONFLICT error carrying the live
// version for the caller's retry.
func NewVersionConflict(subjectID string, expected, current int64) *CoreError {
	return &CoreError{
		Code:           ErrCodeVersionConflict,
		Message:        fmt.Sprintf("expected version %d, store holds %d", expected, current),
		SubjectID:      subjectID,
		CurrentVersion: current,
	}
}

// NewNotInitialized creates a NOT_INITIALIZED error.
func NewNotInitialized(subjectID string) *CoreError {
	return &CoreError{
		Code:      ErrCodeNotInitialized,
		Message:   "no state record exists for subject",
		SubjectID: subjectID,
	}
}

// NewRuleNotFound creates a RULE_NOT_FOUND error.
func NewRuleNotFound(name string) *CoreError {
	return &CoreError{
		Code:    ErrCodeRuleNotFound,
		Message: fmt.Sprintf("rule %q not found", name),
	}
}

// NewResidentNotFound creates a RESIDENT_NOT_FOUND error.
func NewResidentNotFound(residentID string) *CoreError {
	return &CoreError{
		Code:      ErrCodeResidentNotFound,
		Message:   "resident has no recorded signal facts",
		SubjectID: residentID,
	}
}
