package invoice

// Status is the processing state of a job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusAwaitingReview Status = "awaiting_review"
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusAwaitingReview, StatusSuccess, StatusError:
		return true
	}
	return false
}

// HasData reports whether jobs in this status carry extracted data.
func (s Status) HasData() bool {
	return s == StatusAwaitingReview || s == StatusSuccess
}

// Pending reports whether the job still needs the extraction service.
func (s Status) Pending() bool {
	return s == StatusQueued || s == StatusProcessing
}

// ReviewStatus tracks manual review of extracted data.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = "none"
	ReviewPending  ReviewStatus = "pending"
	ReviewReviewed ReviewStatus = "reviewed"
)
