package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/fatrocu/internal/extract"
	"github.com/kalambet/fatrocu/internal/intake"
	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/storage"
)

// fakeScheduler is a virtual clock. Timers fire only from Advance, on the
// calling goroutine.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// armed counts timers that have neither fired nor been stopped.
func (s *fakeScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type reply struct {
	res extract.Result
	err error
}

type call struct {
	req   extract.Request
	reply chan reply
}

func (c call) succeed(fields invoice.Fields) {
	c.reply <- reply{res: extract.Result{Fields: fields}}
}

func (c call) fail(err error) {
	c.reply <- reply{err: err}
}

// stubExtractor hands every call to the test and blocks until the test
// replies.
type stubExtractor struct {
	calls chan call
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{calls: make(chan call)}
}

func (e *stubExtractor) Extract(ctx context.Context, req extract.Request) (extract.Result, error) {
	c := call{req: req, reply: make(chan reply, 1)}
	select {
	case e.calls <- c:
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.res, r.err
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	}
}

func (e *stubExtractor) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-e.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an extraction call")
		return call{}
	}
}

func (e *stubExtractor) idle(t *testing.T) {
	t.Helper()
	select {
	case c := <-e.calls:
		t.Fatalf("unexpected extraction of %s", c.req.FileName)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	o     *Orchestrator
	store *storage.Store
	sched *fakeScheduler
	ext   *stubExtractor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newHarnessWithStore(t, store, opts...)
}

func newHarnessWithStore(t *testing.T, store *storage.Store, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: store, sched: newFakeScheduler(), ext: newStubExtractor()}
	base := []Option{
		WithScheduler(h.sched),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.o = New(Deps{
		Jobs:      store,
		Payloads:  store,
		Configs:   store,
		Extractor: h.ext,
		Intake:    intake.NewReader(0),
	}, append(base, opts...)...)
	return h
}

// start runs the loop and restores state.
func (h *harness) start(t *testing.T) RestoreReport {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	rep, err := h.o.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return rep
}

func pngFile(name string) intake.File {
	return intake.FromBytes(name, intake.MIMEPNG, []byte("\x89PNG\r\n\x1a\n"+name))
}

// submit enqueues one job per name and returns their ids keyed by name.
func (h *harness) submit(t *testing.T, configID string, names ...string) map[string]string {
	t.Helper()
	files := make([]intake.File, len(names))
	for i, n := range names {
		files[i] = pngFile(n)
	}
	res, err := h.o.Submit(context.Background(), files, configID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Accepted) != len(names) {
		t.Fatalf("Submit accepted %d of %d files: %+v", len(res.Accepted), len(names), res.Rejected)
	}
	ids := make(map[string]string, len(names))
	for _, j := range res.Accepted {
		ids[j.FileName] = j.ID
	}
	return ids
}

func (h *harness) job(t *testing.T, id string) invoice.Job {
	t.Helper()
	j, err := h.o.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job(%s): %v", id, err)
	}
	return j
}

func (h *harness) queueStatus(t *testing.T) QueueStatus {
	t.Helper()
	st, err := h.o.QueueStatus(context.Background())
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	return st
}

// checkInvariants verifies the status/data invariants of every job, both in
// memory and in the store.
func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()
	jobs, err := h.o.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	stored, err := h.store.LoadJobs(context.Background())
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	for _, j := range append(jobs, stored...) {
		if err := j.Validate(); err != nil {
			t.Errorf("invariant violated: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitStatus(t *testing.T, id string, want invoice.Status) invoice.Job {
	t.Helper()
	var j invoice.Job
	eventually(t, "job "+id+" to become "+string(want), func() bool {
		got, err := h.o.Job(context.Background(), id)
		if err != nil {
			return false
		}
		j = got
		return got.Status == want
	})
	return j
}
