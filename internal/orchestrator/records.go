package orchestrator

import (
	"slices"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// records is the in-memory view of every job, most recent first. It is
// owned by the event loop; durable writes go through the JobStore.
type records struct {
	jobs []invoice.Job
}

func (r *records) index(id string) int {
	return slices.IndexFunc(r.jobs, func(j invoice.Job) bool { return j.ID == id })
}

func (r *records) get(id string) (invoice.Job, bool) {
	i := r.index(id)
	if i < 0 {
		return invoice.Job{}, false
	}
	return r.jobs[i].Clone(), true
}

// put replaces an existing job in place or adds a new one at the front.
func (r *records) put(j invoice.Job) {
	if i := r.index(j.ID); i >= 0 {
		r.jobs[i] = j.Clone()
		return
	}
	r.jobs = slices.Insert(r.jobs, 0, j.Clone())
}

func (r *records) remove(id string) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.jobs = slices.Delete(r.jobs, i, i+1)
	return true
}

func (r *records) filter(keep func(invoice.Job) bool) []invoice.Job {
	out := []invoice.Job{}
	for _, j := range r.jobs {
		if keep == nil || keep(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}

func isPending(j invoice.Job) bool {
	return j.ReviewStatus == invoice.ReviewPending && j.Status == invoice.StatusAwaitingReview
}

func isReviewed(j invoice.Job) bool {
	return j.ReviewStatus == invoice.ReviewReviewed && j.Status == invoice.StatusSuccess
}
