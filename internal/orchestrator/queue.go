package orchestrator

import (
	"slices"
	"time"
)

// queue holds job ids waiting for extraction and the ids currently being
// extracted. An id is in at most one of the two, and at most once.
type queue struct {
	order    []string
	inFlight map[string]struct{}
	paused   bool
	limit    int
	// bounced counts the ids at the head of order that were sent back by
	// a rate limit during the current pause.
	bounced int
}

func newQueue(limit int) *queue {
	return &queue{inFlight: make(map[string]struct{}), limit: limit}
}

func (q *queue) has(id string) bool {
	if _, ok := q.inFlight[id]; ok {
		return true
	}
	return slices.Contains(q.order, id)
}

// enqueue appends id. It reports false if id is already queued or running.
func (q *queue) enqueue(id string) bool {
	if q.has(id) {
		return false
	}
	q.order = append(q.order, id)
	return true
}

// requeue puts a rate-limited id back at the head, ahead of everything
// waiting but behind ids bounced earlier in the same pause.
func (q *queue) requeue(id string) bool {
	if q.has(id) {
		return false
	}
	at := min(q.bounced, len(q.order))
	q.order = slices.Insert(q.order, at, id)
	q.bounced = at + 1
	return true
}

// pause stops dispatching until resume is called.
func (q *queue) pause() {
	q.paused = true
}

func (q *queue) resume() {
	q.paused = false
	q.bounced = 0
}

// remove drops a waiting id. In-flight ids are left alone: their slot is
// released only when the call returns.
func (q *queue) remove(id string) bool {
	i := slices.Index(q.order, id)
	if i < 0 {
		return false
	}
	q.order = slices.Delete(q.order, i, i+1)
	if i < q.bounced {
		q.bounced--
	}
	return true
}

// next pops the head and marks it in flight, unless the queue is paused,
// empty or at its concurrency limit.
func (q *queue) next() (string, bool) {
	if q.paused || len(q.order) == 0 || len(q.inFlight) >= q.limit {
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	q.inFlight[id] = struct{}{}
	return id, true
}

// done releases the in-flight slot held by id.
func (q *queue) done(id string) {
	delete(q.inFlight, id)
}

func (q *queue) running(id string) bool {
	_, ok := q.inFlight[id]
	return ok
}

func (q *queue) waiting() []string {
	return slices.Clone(q.order)
}

func (q *queue) active() []string {
	ids := make([]string, 0, len(q.inFlight))
	for id := range q.inFlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// backoff owns the single cooldown timer armed after a rate-limit signal.
type backoff struct {
	cooldown time.Duration
	sched    Scheduler
	timer    Timer
	until    time.Time
}

// trip arms the cooldown timer. A second signal while one is armed is
// ignored and trip reports false.
func (b *backoff) trip(wait time.Duration, fire func()) bool {
	if b.timer != nil {
		return false
	}
	if wait < b.cooldown {
		wait = b.cooldown
	}
	b.until = b.sched.Now().Add(wait)
	b.timer = b.sched.AfterFunc(wait, fire)
	return true
}

func (b *backoff) armed() bool {
	return b.timer != nil
}

func (b *backoff) clear() {
	b.timer = nil
	b.until = time.Time{}
}

func (b *backoff) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.clear()
}

// guard remembers deleted job ids for the rest of the session so results
// that arrive after deletion can be recognised and dropped.
type guard struct {
	tombstones map[string]struct{}
}

func newGuard() *guard {
	return &guard{tombstones: make(map[string]struct{})}
}

func (g *guard) bury(id string) {
	g.tombstones[id] = struct{}{}
}

func (g *guard) buried(id string) bool {
	_, ok := g.tombstones[id]
	return ok
}
