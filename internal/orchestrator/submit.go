package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/fatrocu/internal/extract"
	"github.com/kalambet/fatrocu/internal/intake"
	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/storage"
)

// Rejection is a submitted file that did not become a job. Err is a
// *ValidationError or a *PersistenceError.
type Rejection struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// SubmitResult lists the jobs created by a submission and the files that
// were turned away.
type SubmitResult struct {
	Accepted []invoice.Job `json:"accepted"`
	Rejected []Rejection   `json:"rejected"`
}

func reject(name string, err error) Rejection {
	r := Rejection{FileName: name, Err: err, Reason: err.Error()}
	if ve, ok := err.(*ValidationError); ok {
		r.Reason = ve.Reason
	}
	return r
}

// Submit validates files and turns each valid one into a queued job bound to
// configID. Invalid files are reported per file and create nothing.
func (o *Orchestrator) Submit(ctx context.Context, files []intake.File, configID string) (SubmitResult, error) {
	cfg, err := o.Config(ctx, configID)
	if err != nil {
		return SubmitResult{}, err
	}

	results, err := o.deps.Intake.ReadAll(ctx, files)
	if err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{Accepted: []invoice.Job{}, Rejected: []Rejection{}}
	var ready []invoice.Job
	for _, r := range results {
		if r.Err != nil {
			res.Rejected = append(res.Rejected, reject(r.Name, &ValidationError{FileName: r.Name, Reason: r.Err.Error()}))
			continue
		}
		id, err := uuid.NewV7()
		if err != nil {
			return res, fmt.Errorf("generating job id: %w", err)
		}
		now := o.sched.Now()
		job := invoice.Job{
			ID:           id.String(),
			FileName:     r.Doc.Name,
			FileType:     r.Doc.MIMEType,
			Status:       invoice.StatusQueued,
			ReviewStatus: invoice.ReviewNone,
			ConfigID:     cfg.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		// The payload is written before the job exists so a job is never
		// visible without its file.
		if err := o.deps.Payloads.PutPayload(ctx, storage.Payload{
			JobID:     job.ID,
			FileName:  r.Doc.Name,
			MIMEType:  r.Doc.MIMEType,
			Data:      r.Doc.Data,
			CreatedAt: now,
		}); err != nil {
			res.Rejected = append(res.Rejected, reject(r.Name, &PersistenceError{Op: "cache file", Err: err}))
			continue
		}
		ready = append(ready, job)
	}

	if len(ready) == 0 {
		return res, nil
	}

	// Admission is not cancellable: once the loop takes the batch the jobs
	// exist, and the caller must learn about them.
	var admitted []invoice.Job
	var failed []Rejection
	derr := o.do(context.WithoutCancel(ctx), func() {
		admitted, failed = o.admit(ready, cfg)
	})
	if derr != nil {
		o.evict(ready)
		return res, derr
	}
	res.Accepted = append(res.Accepted, admitted...)
	res.Rejected = append(res.Rejected, failed...)
	return res, nil
}

// admit runs on the loop. It records each job, evicting the payload when the
// record cannot be stored, and queues the rest.
func (o *Orchestrator) admit(jobs []invoice.Job, cfg invoice.Config) ([]invoice.Job, []Rejection) {
	var admitted []invoice.Job
	var failed []Rejection
	for _, j := range jobs {
		if err := o.deps.Jobs.UpsertJob(o.runCtx, j); err != nil {
			if derr := o.deps.Payloads.DeletePayloads(o.runCtx, j.ID); derr != nil {
				o.logger.Error("evicting orphaned payload", "job_id", j.ID, "error", derr)
			}
			failed = append(failed, reject(j.FileName, &PersistenceError{Op: "save job", Err: err}))
			continue
		}
		o.records.put(j)

		if cfg.Manual() {
			j = o.completeManual(j, cfg)
		} else {
			o.queue.enqueue(j.ID)
		}
		admitted = append(admitted, j)
		o.logger.Info("job submitted", "job_id", j.ID, "status", j.Status, "config_id", cfg.ID)
	}
	o.drain()
	return admitted, failed
}

// completeManual moves a job for a field-less config straight to review.
func (o *Orchestrator) completeManual(j invoice.Job, cfg invoice.Config) invoice.Job {
	j, err := o.apply(j, invoice.Event{Kind: invoice.EventDequeued})
	if err != nil {
		return j
	}
	res := extract.Normalize(cfg, extract.Result{})
	j, _ = o.apply(j, invoice.Event{Kind: invoice.EventExtractionSucceeded, Data: res.Fields, LineItems: res.LineItems})
	return j
}

// evict removes payloads written for jobs the loop never took, which
// happens only when it has stopped.
func (o *Orchestrator) evict(jobs []invoice.Job) {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := o.deps.Payloads.DeletePayloads(context.Background(), ids...); err != nil {
		o.logger.Error("evicting payloads after failed submit", "error", err)
	}
}
