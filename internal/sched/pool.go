package sched

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"quizsense/internal/logging"
)

// ErrPoolSaturated is returned when a pool's queue is full. Rejections
// are always counted in the pool's statistics.
var ErrPoolSaturated = errors.New("sched: pool queue full")

// ErrPoolClosed is returned when submitting to a draining pool.
var ErrPoolClosed = errors.New("sched: pool closed")

type poolItem struct {
	task   Task
	handle *Handle
}

// Pool is a fixed set of workers pulling from a bounded queue.
type Pool struct {
	name    string
	workers int
	queue   chan poolItem
	logger  *logging.Logger
	stats   *statsRecorder

	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewPool starts a pool with the given worker count and queue capacity.
func NewPool(name string, workers, queueCapacity int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan poolItem, queueCapacity),
		logger:  logging.NewLogger(fmt.Sprintf("Pool-%s", name)),
		stats:   &statsRecorder{},
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task. A full queue rejects immediately rather than
// blocking the caller.
func (p *Pool) Submit(task Task) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordReject()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	handle := newHandle()
	select {
	case p.queue <- poolItem{task: task, handle: handle}:
		p.stats.recordSubmit()
		return handle, nil
	default:
		p.stats.recordReject()
		return nil, ErrPoolSaturated
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for item := range p.queue {
		p.run(item)
	}
}

func (p *Pool) run(item poolItem) {
	start := time.Now()
	err := p.invoke(item.task)
	duration := time.Since(start)

	p.stats.recordDone(duration, err != nil)
	if err != nil {
		p.logger.ErrorWithFields("task failed", err, map[string]interface{}{
			"task":    item.task.Name,
			"task_id": item.handle.ID.String(),
		})
	}

	item.handle.complete(err)
	if item.task.Callback != nil {
		item.task.Callback(err)
	}
}

// invoke runs the task body, converting panics to errors so one bad
// task cannot take a worker down.
func (p *Pool) invoke(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()

	if task.Timeout > 0 {
		return p.invokeWithTimeout(task)
	}
	return task.Fn()
}

// invokeWithTimeout applies a soft timeout: the worker stops waiting,
// but the task goroutine finishes on its own.
func (p *Pool) invokeWithTimeout(task Task) error {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("task panic: %v", r)
			}
		}()
		result <- task.Fn()
	}()

	select {
	case err := <-result:
		return err
	case <-time.After(task.Timeout):
		return fmt.Errorf("task %q exceeded %v timeout", task.Name, task.Timeout)
	}
}

// Drain stops intake and lets workers finish queued work. It returns
// immediately; DrainWait blocks.
func (p *Pool) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
}

// DrainWait drains and waits up to timeout for workers to finish.
// It reports whether the pool fully drained in time.
func (p *Pool) DrainWait(timeout time.Duration) bool {
	p.Drain()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("drain timeout, abandoning workers")
		return false
	}
}

// Stats returns a snapshot of the pool's aggregate statistics.
func (p *Pool) Stats() Stats {
	return p.stats.snapshot()
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueLen returns the number of queued tasks.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}
