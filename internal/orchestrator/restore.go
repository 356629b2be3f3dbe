package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/fatrocu/internal/invoice"
)

// dataLostMessage is recorded on jobs whose cached file is gone at startup.
const dataLostMessage = "data lost: the original file was not found after restart, please upload it again"

// RestoreReport summarises what Restore found.
type RestoreReport struct {
	Loaded   int      `json:"loaded"`
	Requeued []string `json:"requeued"`
	Lost     []string `json:"lost"`
}

// Restore loads persisted configs and jobs. Jobs left QUEUED or PROCESSING
// are queued again when their cached file still exists and failed otherwise.
// Run must already be running. Restore may be called once.
func (o *Orchestrator) Restore(ctx context.Context) (RestoreReport, error) {
	var rep RestoreReport
	var err error
	if derr := o.do(ctx, func() { rep, err = o.restore() }); derr != nil {
		return RestoreReport{}, derr
	}
	return rep, err
}

func (o *Orchestrator) restore() (RestoreReport, error) {
	if o.restored {
		return RestoreReport{}, errors.New("orchestrator state already restored")
	}
	ctx := o.runCtx

	user, err := o.deps.Configs.LoadConfigs(ctx)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("loading configs: %w", err)
	}
	jobs, err := o.deps.Jobs.LoadJobs(ctx)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("loading jobs: %w", err)
	}
	o.configs = invoice.NewConfigSet(user)
	o.restored = true

	rep := RestoreReport{Loaded: len(jobs), Requeued: []string{}, Lost: []string{}}
	o.records.jobs = make([]invoice.Job, 0, len(jobs))
	for _, j := range jobs {
		if verr := j.Validate(); verr != nil {
			o.logger.Warn("loaded job violates status invariants", "job_id", j.ID, "error", verr)
		}
		o.records.jobs = append(o.records.jobs, j.Clone())
	}

	for _, j := range recoveryOrder(jobs) {
		ok, herr := o.deps.Payloads.HasPayload(ctx, j.ID)
		if herr != nil {
			// Only a confirmed miss loses the job. Dispatch reads the file
			// again and fails the job there if it really is gone.
			o.logger.Error("checking cached file", "job_id", j.ID, "error", herr)
			ok = true
		}
		if !ok {
			o.apply(j, invoice.Event{Kind: invoice.EventPayloadLost, Message: dataLostMessage})
			rep.Lost = append(rep.Lost, j.ID)
			continue
		}
		if _, aerr := o.apply(j, invoice.Event{Kind: invoice.EventRecovered}); aerr != nil {
			continue
		}
		o.queue.enqueue(j.ID)
		rep.Requeued = append(rep.Requeued, j.ID)
	}

	o.logger.Info("restored state",
		"jobs", rep.Loaded,
		"requeued", len(rep.Requeued),
		"lost", len(rep.Lost),
		"user_configs", len(user),
	)
	o.drain()
	return rep, nil
}

// recoveryOrder picks the unfinished jobs and orders them for requeueing:
// jobs that were mid-flight first, then oldest submission first.
func recoveryOrder(jobs []invoice.Job) []invoice.Job {
	var out []invoice.Job
	for _, j := range jobs {
		if j.Status.Pending() {
			out = append(out, j)
		}
	}
	slices.SortStableFunc(out, func(a, b invoice.Job) int {
		ap, bp := a.Status == invoice.StatusProcessing, b.Status == invoice.StatusProcessing
		switch {
		case ap && !bp:
			return -1
		case bp && !ap:
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
