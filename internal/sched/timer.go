package sched

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"quizsense/internal/logging"
)

type scheduledItem struct {
	task      Task
	runAt     time.Time
	priority  Priority
	seq       int64
	cancelled *atomic.Bool
	onReject  func()
	index     int
}

type scheduleHeap []*scheduledItem

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if !h[i].runAt.Equal(h[j].runAt) {
		return h[i].runAt.Before(h[j].runAt)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduleHeap) Push(x interface{}) {
	item := x.(*scheduledItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Cancellation cancels a scheduled or recurring task.
type Cancellation struct {
	flag *atomic.Bool
}

// Cancel marks the task cancelled; an already-dequeued run completes.
func (c *Cancellation) Cancel() {
	c.flag.Store(true)
}

// TaskSubmitter accepts due tasks for execution. *PoolSet satisfies it.
type TaskSubmitter interface {
	Submit(task Task) (*Handle, error)
}

// Timer schedules one-shot delayed tasks and self-rescheduling
// recurring tasks, submitting them to a pool set when due. The loop
// sleeps on the queue with a bounded timeout and re-queues tasks that
// wake early.
type Timer struct {
	pools  TaskSubmitter
	logger *logging.Logger

	queue scheduleHeap
	seq   int64
	wake  chan struct{}

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewTimer creates a timer bound to a pool set.
func NewTimer(pools TaskSubmitter) *Timer {
	return &Timer{
		pools:  pools,
		logger: logging.NewLogger("Timer"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start launches the scheduling loop.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop()
}

// Stop terminates the loop; queued tasks are not executed.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
}

// Schedule queues a one-shot task to run after delay.
func (t *Timer) Schedule(task Task, delay time.Duration) *Cancellation {
	cancelled := &atomic.Bool{}

	t.mu.Lock()
	t.seq++
	item := &scheduledItem{
		task:      task,
		runAt:     time.Now().Add(delay),
		priority:  task.Priority,
		seq:       t.seq,
		cancelled: cancelled,
	}
	heap.Push(&t.queue, item)
	t.mu.Unlock()

	t.kick()
	return &Cancellation{flag: cancelled}
}

// ScheduleRecurring runs the task every interval until cancelled. The
// task re-submits itself after each run, so a slow run delays the next
// occurrence rather than overlapping it.
func (t *Timer) ScheduleRecurring(task Task, interval time.Duration) *Cancellation {
	cancelled := &atomic.Bool{}

	var schedule func()
	schedule = func() {
		if cancelled.Load() {
			return
		}
		wrapped := task
		inner := task.Fn
		wrapped.Fn = func() error {
			err := inner()
			schedule()
			return err
		}

		t.mu.Lock()
		t.seq++
		item := &scheduledItem{
			task:      wrapped,
			runAt:     time.Now().Add(interval),
			priority:  task.Priority,
			seq:       t.seq,
			cancelled: cancelled,
			// A pool rejection must not end the recurrence; re-queue
			// for the next interval instead.
			onReject: schedule,
		}
		heap.Push(&t.queue, item)
		t.mu.Unlock()
		t.kick()
	}

	schedule()
	return &Cancellation{flag: cancelled}
}

func (t *Timer) kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	defer t.wg.Done()

	for {
		wait := t.dispatchReady()

		select {
		case <-t.stopCh:
			return
		case <-t.wake:
		case <-time.After(wait):
		}
	}
}

// dispatchReady submits every due task and returns how long to sleep
// until the next one. An early wake simply re-enters here and the
// not-yet-due head stays queued.
func (t *Timer) dispatchReady() time.Duration {
	const maxWait = time.Second

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for t.queue.Len() > 0 {
		head := t.queue[0]
		if head.cancelled.Load() {
			heap.Pop(&t.queue)
			continue
		}
		if head.runAt.After(now) {
			wait := head.runAt.Sub(now)
			if wait > maxWait {
				wait = maxWait
			}
			return wait
		}

		heap.Pop(&t.queue)
		if _, err := t.pools.Submit(head.task); err != nil {
			t.logger.ErrorWithFields("scheduled task rejected", err,
				map[string]interface{}{"task": head.task.Name})
			if head.onReject != nil {
				// Re-queues under t.mu, so run it off this goroutine.
				go head.onReject()
			}
		}
	}
	return maxWait
}

// Pending returns the number of queued (not yet dispatched) tasks.
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}
