package invoice

import (
	"fmt"
	"time"
)

// EventKind names a lifecycle event a job can receive.
type EventKind int

const (
	EventDequeued EventKind = iota + 1
	EventExtractionSucceeded
	EventExtractionFailed
	EventRateLimited
	EventReviewed
	EventUndoReview
	// EventRecovered re-admits a job found queued or mid-flight at startup.
	EventRecovered
	// EventPayloadLost fails a job whose cached file bytes are gone.
	EventPayloadLost
)

func (k EventKind) String() string {
	switch k {
	case EventDequeued:
		return "dequeued"
	case EventExtractionSucceeded:
		return "extraction-succeeded"
	case EventExtractionFailed:
		return "extraction-failed"
	case EventRateLimited:
		return "rate-limited"
	case EventReviewed:
		return "reviewed"
	case EventUndoReview:
		return "undo-review"
	case EventRecovered:
		return "recovered"
	case EventPayloadLost:
		return "payload-lost"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is the input to the state machine. Data, LineItems and Message are
// payloads used by the events that carry them.
type Event struct {
	Kind      EventKind
	Data      Fields
	LineItems []Fields
	Message   string

	// Review edits, used by EventReviewed.
	CustomFields         []FieldConfig
	CustomLineItemFields []FieldConfig
}

// Outcome is the result of a legal transition.
type Outcome struct {
	Status       Status
	ReviewStatus ReviewStatus
	// ReplaceData is set when Data/LineItems replace the job's payload.
	ReplaceData  bool
	Data         Fields
	LineItems    []Fields
	ErrorMessage string
}

// TransitionError reports an event that is not legal in the current status.
type TransitionError struct {
	From  Status
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s job", e.Event, e.From)
}

// Transition computes the next state for a job in status from receiving ev.
func Transition(from Status, ev Event) (Outcome, error) {
	illegal := &TransitionError{From: from, Event: ev.Kind}

	switch ev.Kind {
	case EventDequeued:
		if from != StatusQueued {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusProcessing, ReviewStatus: ReviewNone}, nil

	case EventExtractionSucceeded:
		if from != StatusProcessing {
			return Outcome{}, illegal
		}
		data := ev.Data
		if data == nil {
			data = Fields{}
		}
		return Outcome{
			Status:       StatusAwaitingReview,
			ReviewStatus: ReviewPending,
			ReplaceData:  true,
			Data:         data,
			LineItems:    ev.LineItems,
		}, nil

	case EventExtractionFailed:
		if from != StatusProcessing {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusError, ReviewStatus: ReviewNone, ErrorMessage: failureMessage(ev.Message)}, nil

	case EventRateLimited:
		if from != StatusProcessing {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusQueued, ReviewStatus: ReviewNone}, nil

	case EventReviewed:
		if from != StatusAwaitingReview && from != StatusSuccess {
			return Outcome{}, illegal
		}
		data := ev.Data
		if data == nil {
			data = Fields{}
		}
		return Outcome{
			Status:       StatusSuccess,
			ReviewStatus: ReviewReviewed,
			ReplaceData:  true,
			Data:         data,
			LineItems:    ev.LineItems,
		}, nil

	case EventUndoReview:
		if from != StatusSuccess {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusAwaitingReview, ReviewStatus: ReviewPending}, nil

	case EventRecovered:
		if !from.Pending() {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusQueued, ReviewStatus: ReviewNone}, nil

	case EventPayloadLost:
		if !from.Pending() {
			return Outcome{}, illegal
		}
		return Outcome{Status: StatusError, ReviewStatus: ReviewNone, ErrorMessage: failureMessage(ev.Message)}, nil
	}
	return Outcome{}, illegal
}

func failureMessage(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// Apply runs ev through the state machine and returns the updated job.
// j is not modified.
func Apply(j Job, ev Event, now time.Time) (Job, error) {
	out, err := Transition(j.Status, ev)
	if err != nil {
		return j, err
	}

	next := j.Clone()
	next.Status = out.Status
	next.ReviewStatus = out.ReviewStatus
	next.UpdatedAt = now

	switch {
	case out.ReplaceData:
		next.ExtractedData = out.Data.Clone()
		next.LineItems = CloneRows(out.LineItems)
	case !out.Status.HasData():
		next.ExtractedData = nil
		next.LineItems = nil
	}

	next.ErrorMessage = ""
	if out.Status == StatusError {
		next.ErrorMessage = out.ErrorMessage
	}

	if ev.Kind == EventReviewed {
		next.CustomFields = append([]FieldConfig(nil), ev.CustomFields...)
		next.CustomLineItemFields = append([]FieldConfig(nil), ev.CustomLineItemFields...)
	}
	return next, nil
}

// MustApply is Apply for callers that have already established the event is
// legal. An illegal transition is a programming error and panics.
func MustApply(j Job, ev Event, now time.Time) Job {
	next, err := Apply(j, ev, now)
	if err != nil {
		panic(err)
	}
	return next
}
