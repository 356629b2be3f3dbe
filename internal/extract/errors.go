package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies an extraction failure for the retry policy.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureRateLimited
)

func (k FailureKind) String() string {
	if k == FailureRateLimited {
		return "rate_limited"
	}
	return "other"
}

// RateLimitError is returned when the service refuses a call because of
// quota or request-rate limits. It is transient.
type RateLimitError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("rate limited (HTTP %d)", e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ExtractionError is a terminal failure. Message is shown to the user as is.
type ExtractionError struct {
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionErr(err error, format string, args ...any) *ExtractionError {
	return &ExtractionError{Message: fmt.Sprintf(format, args...), Err: err}
}

// Classify decides whether err is worth retrying after a cooldown.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return FailureRateLimited
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return FailureOther
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "resource_exhausted", "resource exhausted", "too many requests", "http 429", "status 429"} {
		if strings.Contains(msg, marker) {
			return FailureRateLimited
		}
	}
	return FailureOther
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
