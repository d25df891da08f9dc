// Package progress aggregates file-completion counts across concurrent
// downloads. It tracks whole files, not bytes: a discrete counter is enough
// for a batch progress surface and needs no per-chunk synchronization.
package progress

import "sync"

// Reporter receives progress updates. Called under the tracker's lock, so
// implementations must not call back into the tracker.
type Reporter func(completed, total int, percent float64)

type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	report    Reporter
}

func New(report Reporter) *Tracker {
	return &Tracker{report: report}
}

// SetTotal fixes the batch size and resets the completed count.
func (t *Tracker) SetTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = n
	t.completed = 0
	t.notify()
}

// MarkCompleted records one finished task, successful or not. Each task must
// call this exactly once.
func (t *Tracker) MarkCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.notify()
}

// Snapshot returns a consistent (completed, total) pair.
func (t *Tracker) Snapshot() (completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.total
}

// Percent returns the batch completion percentage in [0, 100].
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentLocked()
}

func (t *Tracker) percentLocked() float64 {
	if t.total <= 0 {
		return 0
	}
	p := float64(t.completed) / float64(t.total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

func (t *Tracker) notify() {
	if t.report != nil {
		t.report(t.completed, t.total, t.percentLocked())
	}
}
