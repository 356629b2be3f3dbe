package orchestrator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// Approval carries a reviewer's corrections for one job.
type Approval struct {
	JobID                string                `json:"job_id"`
	Data                 invoice.Fields        `json:"extracted_data"`
	LineItems            []invoice.Fields      `json:"line_items"`
	CustomFields         []invoice.FieldConfig `json:"custom_fields"`
	CustomLineItemFields []invoice.FieldConfig `json:"custom_line_item_fields"`
}

// Navigation tells a reviewer where to go after saving. Done is set when no
// pending job is left; Next is empty in that case.
type Navigation struct {
	Next string `json:"next,omitempty"`
	Done bool   `json:"done"`
}

// ExportSet is the reviewed jobs together with every config they may refer to.
type ExportSet struct {
	Jobs    []invoice.Job
	Configs []invoice.Config
}

// Pending returns jobs waiting for review, most recent first.
func (o *Orchestrator) Pending(ctx context.Context) ([]invoice.Job, error) {
	var out []invoice.Job
	if err := o.do(ctx, func() { out = o.records.filter(isPending) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Reviewed returns approved jobs, most recent first.
func (o *Orchestrator) Reviewed(ctx context.Context) ([]invoice.Job, error) {
	var out []invoice.Job
	if err := o.do(ctx, func() { out = o.records.filter(isReviewed) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Approve stores the reviewer's data and marks the job reviewed. Approving
// an already reviewed job with the same data leaves it untouched.
func (o *Orchestrator) Approve(ctx context.Context, a Approval) (invoice.Job, error) {
	var j invoice.Job
	var err error
	if derr := o.do(ctx, func() { j, err = o.approve(a) }); derr != nil {
		return invoice.Job{}, derr
	}
	return j, err
}

// SaveAndAdvance approves a job and picks the next one to review: the job
// that followed it in the pending list, or the first pending job when the
// approved one was not pending.
func (o *Orchestrator) SaveAndAdvance(ctx context.Context, a Approval) (invoice.Job, Navigation, error) {
	var j invoice.Job
	var nav Navigation
	var err error
	derr := o.do(ctx, func() {
		before := o.records.filter(isPending)
		j, err = o.approve(a)
		if err != nil {
			return
		}
		nav = nextPending(before, a.JobID, o.records.filter(isPending))
	})
	if derr != nil {
		return invoice.Job{}, Navigation{}, derr
	}
	return j, nav, err
}

// nextPending walks the pre-approval order from the approved job onward and
// returns the first entry that is still pending.
func nextPending(before []invoice.Job, id string, after []invoice.Job) Navigation {
	still := make(map[string]bool, len(after))
	for _, j := range after {
		still[j.ID] = true
	}
	start := 0
	for i, j := range before {
		if j.ID == id {
			start = i + 1
			break
		}
	}
	for _, j := range before[start:] {
		if still[j.ID] {
			return Navigation{Next: j.ID}
		}
	}
	if start == 0 && len(after) > 0 {
		return Navigation{Next: after[0].ID}
	}
	return Navigation{Done: true}
}

func (o *Orchestrator) approve(a Approval) (invoice.Job, error) {
	job, ok := o.records.get(a.JobID)
	if !ok {
		return invoice.Job{}, ErrJobNotFound
	}
	if job.Status != invoice.StatusAwaitingReview && job.Status != invoice.StatusSuccess {
		return invoice.Job{}, fmt.Errorf("%w: job %s is %s", ErrNotReviewable, job.ID, job.Status)
	}
	if cfg, ok := o.configs.Get(job.ConfigID); ok {
		if err := checkCustomFields(cfg.Fields, a.CustomFields); err != nil {
			return invoice.Job{}, err
		}
		if err := checkCustomFields(cfg.LineItemFields, a.CustomLineItemFields); err != nil {
			return invoice.Job{}, err
		}
	}

	next, err := invoice.Apply(job, invoice.Event{
		Kind:                 invoice.EventReviewed,
		Data:                 a.Data,
		LineItems:            a.LineItems,
		CustomFields:         a.CustomFields,
		CustomLineItemFields: a.CustomLineItemFields,
	}, o.sched.Now())
	if err != nil {
		return invoice.Job{}, fmt.Errorf("%w: %v", ErrNotReviewable, err)
	}

	unchanged := next
	unchanged.UpdatedAt = job.UpdatedAt
	if reflect.DeepEqual(unchanged, job) {
		return job, nil
	}
	o.save(next)
	o.logger.Info("job approved", "job_id", job.ID, "from", job.Status)
	return next, nil
}

func checkCustomFields(base, custom []invoice.FieldConfig) error {
	seen := make(map[string]bool, len(base)+len(custom))
	for _, f := range base {
		seen[f.Key] = true
	}
	for _, f := range custom {
		if f.Key == "" {
			return fmt.Errorf("%w: custom field %q has no key", ErrInvalidReview, f.Label)
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: field key %q is used more than once", ErrInvalidReview, f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}

// Undo returns a reviewed job to the review pool. Its data is kept.
func (o *Orchestrator) Undo(ctx context.Context, id string) (invoice.Job, error) {
	var j invoice.Job
	var err error
	derr := o.do(ctx, func() {
		job, ok := o.records.get(id)
		if !ok {
			err = ErrJobNotFound
			return
		}
		if job.Status != invoice.StatusSuccess {
			err = fmt.Errorf("%w: job %s is %s", ErrNotReviewable, id, job.Status)
			return
		}
		j, err = o.apply(job, invoice.Event{Kind: invoice.EventUndoReview})
		if err == nil {
			o.logger.Info("job review undone", "job_id", id)
		}
	})
	if derr != nil {
		return invoice.Job{}, derr
	}
	return j, err
}

// ClearApproved deletes every reviewed job along with its cached file. It
// returns the number of jobs removed.
func (o *Orchestrator) ClearApproved(ctx context.Context) (int, error) {
	var n int
	derr := o.do(ctx, func() {
		reviewed := o.records.filter(isReviewed)
		if len(reviewed) == 0 {
			return
		}
		ids := make([]string, len(reviewed))
		for i, j := range reviewed {
			ids[i] = j.ID
		}
		o.forget(ids...)
		n = len(ids)
		o.logger.Info("cleared approved jobs", "count", n)
	})
	return n, derr
}

// ExportSet returns the reviewed jobs and the config set for export.
func (o *Orchestrator) ExportSet(ctx context.Context) (ExportSet, error) {
	var set ExportSet
	err := o.do(ctx, func() {
		set = ExportSet{Jobs: o.records.filter(isReviewed), Configs: o.configs.All()}
	})
	return set, err
}
