package orchestrator

import (
	"errors"
	"fmt"

	"github.com/kalambet/fatrocu/internal/invoice"
)

var (
	// ErrJobNotFound is returned for ids with no job record.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotReviewable is returned when a review action does not apply to the
	// job's current status.
	ErrNotReviewable = errors.New("job is not in a reviewable state")
	// ErrInvalidReview wraps malformed review edits.
	ErrInvalidReview = errors.New("invalid review")
	// ErrConfigNotFound is returned for unknown document config ids.
	ErrConfigNotFound = errors.New("config not found")
	// ErrInvalidConfig wraps config validation failures.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrPredefinedConfig is returned on attempts to change a built-in config.
	ErrPredefinedConfig = invoice.ErrPredefined
	// ErrStopped is returned once the event loop has exited.
	ErrStopped = errors.New("orchestrator stopped")
)

// ValidationError rejects a file at intake. No job is created for it.
type ValidationError struct {
	FileName string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FileName, e.Reason)
}

// MissingPayloadError reports a job whose cached file has disappeared.
type MissingPayloadError struct {
	JobID string
}

func (e *MissingPayloadError) Error() string {
	return "missing data: the original file is no longer available"
}

// PersistenceError wraps a failed write to durable storage.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
