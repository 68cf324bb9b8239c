// Package sched provides the mode-aware concurrency scheduler: three
// named worker pools resized on operating-mode changes, plus a timer
// queue for delayed and recurring tasks.
package sched

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the timer queue and breaks ties between
// tasks scheduled for the same instant.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
)

// Kind hints which pool a task should run on.
type Kind string

const (
	KindGeneral Kind = "general"
	KindIO      Kind = "io"
	KindCPU     Kind = "cpu"
)

// Task is a unit of work submitted to the scheduler. The scheduler owns
// the task from submission until completion.
type Task struct {
	Name     string
	Fn       func() error
	Priority Priority
	Kind     Kind
	Callback func(err error)
	Timeout  time.Duration
}

// Handle tracks a submitted task.
type Handle struct {
	ID   uuid.UUID
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle() *Handle {
	return &Handle{
		ID:   uuid.New(),
		done: make(chan struct{}),
	}
}

func (h *Handle) complete(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Done returns a channel closed when the task finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task error after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until completion or the timeout elapses. It reports
// whether the task finished in time.
func (h *Handle) Wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats aggregates execution outcomes for one pool.
type Stats struct {
	Submitted   int64         `json:"submitted"`
	Completed   int64         `json:"completed"`
	Failed      int64         `json:"failed"`
	Rejected    int64         `json:"rejected"`
	TotalTime   time.Duration `json:"total_time"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
}

// AvgDuration returns the mean task duration.
func (s Stats) AvgDuration() time.Duration {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(finished)
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) recordSubmit() {
	r.mu.Lock()
	r.stats.Submitted++
	r.mu.Unlock()
}

func (r *statsRecorder) recordReject() {
	r.mu.Lock()
	r.stats.Rejected++
	r.mu.Unlock()
}

func (r *statsRecorder) recordDone(duration time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if failed {
		r.stats.Failed++
	} else {
		r.stats.Completed++
	}
	r.stats.TotalTime += duration
	if r.stats.MinDuration == 0 || duration < r.stats.MinDuration {
		r.stats.MinDuration = duration
	}
	if duration > r.stats.MaxDuration {
		r.stats.MaxDuration = duration
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
