// Package orchestrator runs the invoice job lifecycle: intake, a bounded
// extraction queue with rate-limit backoff, deletion while in flight,
// restoring state after restart, and the review workflow.
//
// All mutable state is owned by a single event loop goroutine started by
// Run. Public methods hand work to the loop and wait for the reply;
// extraction calls run in their own goroutines and post results back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/fatrocu/internal/extract"
	"github.com/kalambet/fatrocu/internal/intake"
	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/storage"
)

const (
	// DefaultCooldown is how long the queue stays paused after a rate limit.
	DefaultCooldown = 60 * time.Second
	// MaxConcurrency caps parallel extraction calls.
	MaxConcurrency = 3
)

// JobStore persists job records.
type JobStore interface {
	LoadJobs(ctx context.Context) ([]invoice.Job, error)
	UpsertJob(ctx context.Context, j invoice.Job) error
	DeleteJobs(ctx context.Context, ids ...string) error
}

// PayloadCache persists original file bytes keyed by job id.
type PayloadCache interface {
	PutPayload(ctx context.Context, p storage.Payload) error
	GetPayload(ctx context.Context, jobID string) (storage.Payload, error)
	HasPayload(ctx context.Context, jobID string) (bool, error)
	DeletePayloads(ctx context.Context, jobIDs ...string) error
}

// ConfigStore persists user-defined document configs.
type ConfigStore interface {
	LoadConfigs(ctx context.Context) ([]invoice.Config, error)
	SaveConfig(ctx context.Context, c invoice.Config) error
	DeleteConfig(ctx context.Context, id string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Jobs      JobStore
	Payloads  PayloadCache
	Configs   ConfigStore
	Extractor extract.Extractor
	Intake    *intake.Reader
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the number of extraction calls allowed in flight,
// clamped to 1..MaxConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.queue.limit = min(max(n, 1), MaxConcurrency) }
}

// WithCooldown sets the pause applied after a rate-limit signal.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.backoff.cooldown = d
		}
	}
}

// WithScheduler replaces the clock and timer source.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) {
		o.sched = s
		o.backoff.sched = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator coordinates jobs between intake, extraction and review.
type Orchestrator struct {
	deps   Deps
	sched  Scheduler
	logger *slog.Logger

	reqs chan func()
	done chan struct{}
	// runCtx is the context passed to Run. Only read on the loop and by
	// extraction goroutines started from it.
	runCtx context.Context

	records  *records
	queue    *queue
	backoff  *backoff
	guard    *guard
	configs  *invoice.ConfigSet
	restored bool
}

// New creates an Orchestrator. Call Run to start its event loop and then
// Restore to load persisted state.
func New(deps Deps, opts ...Option) *Orchestrator {
	if deps.Intake == nil {
		deps.Intake = intake.NewReader(0)
	}
	o := &Orchestrator{
		deps:    deps,
		sched:   realScheduler{},
		logger:  slog.Default(),
		reqs:    make(chan func()),
		done:    make(chan struct{}),
		records: &records{},
		queue:   newQueue(1),
		guard:   newGuard(),
		configs: invoice.NewConfigSet(nil),
	}
	o.backoff = &backoff{cooldown: DefaultCooldown, sched: o.sched}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes events until ctx is cancelled. It must be called once.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx
	defer close(o.done)
	defer o.backoff.stop()

	for {
		select {
		case fn := <-o.reqs:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the event loop and waits for it to finish. Once the loop
// has taken fn it runs to completion, so an error from a cancelled ctx does
// not mean fn was skipped.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case o.reqs <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn for the event loop without waiting. It is used by
// extraction goroutines and timers, never from the loop itself.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.reqs <- fn:
	case <-o.done:
	}
}

// drain starts extraction for as many queued jobs as the queue admits.
func (o *Orchestrator) drain() {
	for {
		id, ok := o.queue.next()
		if !ok {
			return
		}
		o.dispatch(id)
	}
}

func (o *Orchestrator) dispatch(id string) {
	job, ok := o.records.get(id)
	if !ok || o.guard.buried(id) {
		o.queue.done(id)
		return
	}

	job, err := o.apply(job, invoice.Event{Kind: invoice.EventDequeued})
	if err != nil {
		o.queue.done(id)
		return
	}

	cfg, ok := o.configs.Get(job.ConfigID)
	if !ok {
		o.queue.done(id)
		o.apply(job, invoice.Event{
			Kind:    invoice.EventExtractionFailed,
			Message: fmt.Sprintf("document config %q no longer exists", job.ConfigID),
		})
		return
	}

	o.logger.Debug("dispatching job", "job_id", id, "config_id", cfg.ID)
	ctx := o.runCtx
	go func() {
		res, err := o.extract(ctx, id, cfg)
		o.post(func() { o.complete(id, res, err) })
	}()
}

// extract runs off the loop: it loads the cached file and calls the
// extractor.
func (o *Orchestrator) extract(ctx context.Context, id string, cfg invoice.Config) (extract.Result, error) {
	p, err := o.deps.Payloads.GetPayload(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return extract.Result{}, &MissingPayloadError{JobID: id}
	}
	if err != nil {
		return extract.Result{}, &PersistenceError{Op: "load payload", Err: err}
	}
	return o.deps.Extractor.Extract(ctx, extract.Request{
		FileName: p.FileName,
		MIMEType: p.MIMEType,
		Data:     p.Data,
		Config:   cfg,
	})
}

// complete is the single write-back path for extraction results.
func (o *Orchestrator) complete(id string, res extract.Result, err error) {
	o.queue.done(id)
	defer o.drain()

	if o.guard.buried(id) {
		o.logger.Info("discarding result for deleted job", "job_id", id)
		return
	}
	job, ok := o.records.get(id)
	if !ok {
		o.logger.Info("discarding result for unknown job", "job_id", id)
		return
	}

	if err == nil {
		o.apply(job, invoice.Event{Kind: invoice.EventExtractionSucceeded, Data: res.Fields, LineItems: res.LineItems})
		return
	}

	if extract.Classify(err) == extract.FailureRateLimited {
		if _, aerr := o.apply(job, invoice.Event{Kind: invoice.EventRateLimited}); aerr != nil {
			return
		}
		o.queue.requeue(id)
		o.queue.pause()

		var wait time.Duration
		var rl *extract.RateLimitError
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
		}
		if o.backoff.trip(wait, func() { o.post(o.resume) }) {
			o.logger.Warn("extraction rate limited, pausing queue", "job_id", id, "cooldown", o.backoff.until.Sub(o.sched.Now()))
		}
		return
	}

	o.logger.Info("extraction failed", "job_id", id, "error", err)
	o.apply(job, invoice.Event{Kind: invoice.EventExtractionFailed, Message: extract.Message(err)})
}

func (o *Orchestrator) resume() {
	o.backoff.clear()
	o.queue.resume()
	o.logger.Info("cooldown over, resuming queue", "queue_len", len(o.queue.order))
	o.drain()
}

// apply runs ev through the state machine, stores the result and persists
// it. Illegal transitions are bugs: they are logged and leave the job as is.
func (o *Orchestrator) apply(j invoice.Job, ev invoice.Event) (invoice.Job, error) {
	next, err := invoice.Apply(j, ev, o.sched.Now())
	if err != nil {
		o.logger.Error("rejected job transition", "job_id", j.ID, "status", j.Status, "error", err)
		return j, err
	}
	o.save(next)
	return next, nil
}

func (o *Orchestrator) save(j invoice.Job) {
	o.records.put(j)
	if err := o.deps.Jobs.UpsertJob(o.runCtx, j); err != nil {
		perr := &PersistenceError{Op: "save job", Err: err}
		o.logger.Error("persisting job", "job_id", j.ID, "status", j.Status, "error", perr)
	}
}

// forget drops a job from memory and both durable stores. The id is
// tombstoned first so any in-flight result is discarded.
func (o *Orchestrator) forget(ids ...string) {
	for _, id := range ids {
		o.guard.bury(id)
		o.queue.remove(id)
		o.records.remove(id)
	}
	if err := o.deps.Jobs.DeleteJobs(o.runCtx, ids...); err != nil {
		o.logger.Error("deleting jobs", "error", &PersistenceError{Op: "delete jobs", Err: err})
	}
	if err := o.deps.Payloads.DeletePayloads(o.runCtx, ids...); err != nil {
		o.logger.Error("evicting payloads", "error", &PersistenceError{Op: "delete payloads", Err: err})
	}
}

// Delete removes a job, its cached file, and any pending queue entry. A
// result still in flight for the job is discarded when it arrives.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	var err error
	if derr := o.do(ctx, func() {
		if _, ok := o.records.get(id); !ok {
			err = ErrJobNotFound
			return
		}
		o.forget(id)
		o.logger.Info("job deleted", "job_id", id, "in_flight", o.queue.running(id))
		o.drain()
	}); derr != nil {
		return derr
	}
	return err
}

// Job returns a single job.
func (o *Orchestrator) Job(ctx context.Context, id string) (invoice.Job, error) {
	var j invoice.Job
	var ok bool
	if err := o.do(ctx, func() { j, ok = o.records.get(id) }); err != nil {
		return invoice.Job{}, err
	}
	if !ok {
		return invoice.Job{}, ErrJobNotFound
	}
	return j, nil
}

// Jobs returns every job, most recent first.
func (o *Orchestrator) Jobs(ctx context.Context) ([]invoice.Job, error) {
	var out []invoice.Job
	if err := o.do(ctx, func() { out = o.records.filter(nil) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Payload returns the cached original file of a job.
func (o *Orchestrator) Payload(ctx context.Context, id string) (storage.Payload, error) {
	if _, err := o.Job(ctx, id); err != nil {
		return storage.Payload{}, err
	}
	p, err := o.deps.Payloads.GetPayload(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Payload{}, &MissingPayloadError{JobID: id}
	}
	return p, err
}

// QueueStatus describes the extraction queue.
type QueueStatus struct {
	Paused      bool       `json:"paused"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	InFlight    []string   `json:"in_flight"`
	Queued      []string   `json:"queued"`
	Concurrency int        `json:"concurrency"`
}

// QueueStatus reports the queue state.
func (o *Orchestrator) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var st QueueStatus
	err := o.do(ctx, func() {
		st = QueueStatus{
			Paused:      o.queue.paused,
			InFlight:    o.queue.active(),
			Queued:      o.queue.waiting(),
			Concurrency: o.queue.limit,
		}
		if o.backoff.armed() {
			t := o.backoff.until
			st.ResumeAt = &t
		}
	})
	return st, err
}
