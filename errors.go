package mlwatch

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the mlwatch package.
var (
	// ErrValidation is returned for a malformed or incomplete trigger
	// payload. It aborts the run before any collaborator is contacted.
	ErrValidation = errors.New("invalid trigger payload")

	// ErrConfig is returned when a required sub-config key is missing.
	ErrConfig = errors.New("invalid configuration")

	// ErrMissingTag is returned when a configured tag has no observations.
	ErrMissingTag = errors.New("tag has no observations")

	// ErrUnknownStrategy is returned for an unrecognized aggregation token.
	ErrUnknownStrategy = errors.New("unknown aggregation strategy")

	// ErrEmptySeries is returned when an aggregation strategy is applied
	// to an empty point sequence.
	ErrEmptySeries = errors.New("empty metric series")

	// ErrBackendUnavailable is returned when the alert backend cannot be
	// reached. It is not caught internally and propagates to the caller.
	ErrBackendUnavailable = errors.New("alert backend unavailable")

	// ErrInvalidExpression is returned when a threshold expression uses
	// tokens outside the allowed grammar.
	ErrInvalidExpression = errors.New("invalid threshold expression")
)

// DecodeError describes a single observation that could not be decoded.
// It is recovered locally: the observation is dropped and logged, and
// collection continues with the rest of the batch.
type DecodeError struct {
	Tag     string
	Run     string
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode %s/%s: %s: %v", e.Run, e.Tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("decode %s/%s: %s", e.Run, e.Tag, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// PersistenceError describes a batch write failure against the metric
// store. The failure is surfaced as a whole; the run continues since
// alerting reads history independently of the attempted write.
type PersistenceError struct {
	Table string
	Rows  int
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("persist %d rows to %s: %v", e.Rows, e.Table, e.Cause)
	}
	return fmt.Sprintf("persist %d rows: %v", e.Rows, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// BackendError wraps an alert/monitoring backend failure with the HTTP
// status observed, so transient statuses can be classified for retry.
type BackendError struct {
	Op     string
	Status int
	Cause  error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is reports ErrBackendUnavailable for server-side and transport failures.
func (e *BackendError) Is(target error) bool {
	if target != ErrBackendUnavailable {
		return false
	}
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}
