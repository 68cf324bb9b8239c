package sched

import (
	"sync"
	"time"

	"quizsense/internal/cache"
	"quizsense/internal/logging"
	"quizsense/internal/resource"
)

// PoolConfig sizes the pools for one operating mode.
type PoolConfig struct {
	CoreWorkers   int
	MaxWorkers    int
	QueueCapacity int
	IdleTimeout   time.Duration
}

var poolConfigs = map[resource.Mode]PoolConfig{
	resource.ModeHighPerformance: {CoreWorkers: 8, MaxWorkers: 16, QueueCapacity: 100, IdleTimeout: 60 * time.Second},
	resource.ModeBalanced:        {CoreWorkers: 4, MaxWorkers: 8, QueueCapacity: 50, IdleTimeout: 30 * time.Second},
	resource.ModePowerSaver:      {CoreWorkers: 2, MaxWorkers: 4, QueueCapacity: 20, IdleTimeout: 10 * time.Second},
}

// ConfigFor returns the pool sizing table for a mode.
func ConfigFor(mode resource.Mode) PoolConfig {
	if cfg, ok := poolConfigs[mode]; ok {
		return cfg
	}
	return poolConfigs[resource.ModeBalanced]
}

func ioWorkers(cfg PoolConfig) int {
	workers := cfg.MaxWorkers * 2
	if workers > 20 {
		workers = 20
	}
	return workers
}

// PoolSet owns the three named pools (general, io, cpu) and resizes
// them when the operating mode changes. Old pools drain asynchronously;
// submissions move to the new pools immediately.
type PoolSet struct {
	logger *logging.Logger

	general *Pool
	io      *Pool
	cpu     *Pool

	retired      []*Pool
	retiredStats Stats
	memo         *cache.LFU
	mode         resource.Mode
	mu           sync.RWMutex
}

// NewPoolSet creates pools sized for the given mode.
func NewPoolSet(mode resource.Mode) *PoolSet {
	ps := &PoolSet{
		logger: logging.NewLogger("PoolSet"),
		memo:   cache.NewLFU(1000),
	}
	ps.build(mode)
	return ps
}

func (ps *PoolSet) build(mode resource.Mode) {
	cfg := ConfigFor(mode)
	ps.mode = mode
	ps.general = NewPool("general", cfg.MaxWorkers, cfg.QueueCapacity)
	ps.io = NewPool("io", ioWorkers(cfg), cfg.QueueCapacity)
	ps.cpu = NewPool("cpu", cfg.CoreWorkers, cfg.QueueCapacity)
}

// Submit routes a task to the pool selected by its Kind hint.
func (ps *PoolSet) Submit(task Task) (*Handle, error) {
	ps.mu.RLock()
	var pool *Pool
	switch task.Kind {
	case KindIO:
		pool = ps.io
	case KindCPU:
		pool = ps.cpu
	default:
		pool = ps.general
	}
	ps.mu.RUnlock()

	return pool.Submit(task)
}

// OnModeChange resizes the pools for a new mode. The previous pools
// stop accepting work and drain in the background, so no queued task is
// lost and callers never block on the resize.
func (ps *PoolSet) OnModeChange(mode resource.Mode) {
	ps.mu.Lock()
	if mode == ps.mode {
		ps.mu.Unlock()
		return
	}

	old := []*Pool{ps.general, ps.io, ps.cpu}
	oldCfg := ConfigFor(ps.mode)
	ps.retired = append(ps.retired, old...)
	ps.build(mode)
	ps.mu.Unlock()

	ps.logger.Infof("resizing pools for %s mode", mode)

	for _, pool := range old {
		go func(p *Pool) {
			p.DrainWait(oldCfg.IdleTimeout)
			ps.reap(p)
		}(pool)
	}
}

// reap folds a drained pool's final statistics into the retired
// accumulator and drops the pool, so repeated mode changes do not grow
// the retired list.
func (ps *PoolSet) reap(pool *Pool) {
	s := pool.Stats()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.retiredStats.Submitted += s.Submitted
	ps.retiredStats.Completed += s.Completed
	ps.retiredStats.Failed += s.Failed
	ps.retiredStats.Rejected += s.Rejected
	ps.retiredStats.TotalTime += s.TotalTime

	for i, p := range ps.retired {
		if p == pool {
			ps.retired = append(ps.retired[:i], ps.retired[i+1:]...)
			return
		}
	}
}

// Memoize caches the result of an idempotent computation in the
// scheduler's LFU hot-path cache.
func (ps *PoolSet) Memoize(key string, sizeBytes int64, compute func() interface{}) interface{} {
	if v, ok := ps.memo.Get(key); ok {
		return v
	}
	v := compute()
	ps.memo.Put(key, v, sizeBytes)
	return v
}

// MemoStats exposes the hot-path cache statistics.
func (ps *PoolSet) MemoStats() cache.Stats {
	return ps.memo.Stats()
}

// Mode returns the mode the pools are currently sized for.
func (ps *PoolSet) Mode() resource.Mode {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.mode
}

// Stats merges statistics across active and retired pools, so work
// finished during a drain still shows up.
func (ps *PoolSet) Stats() map[string]Stats {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	merged := map[string]Stats{
		"general": ps.general.Stats(),
		"io":      ps.io.Stats(),
		"cpu":     ps.cpu.Stats(),
	}
	retired := ps.retiredStats
	for _, pool := range ps.retired {
		s := pool.Stats()
		retired.Submitted += s.Submitted
		retired.Completed += s.Completed
		retired.Failed += s.Failed
		retired.Rejected += s.Rejected
		retired.TotalTime += s.TotalTime
	}
	merged["retired"] = retired
	return merged
}

// Shutdown drains every pool, bounded by the timeout per pool.
func (ps *PoolSet) Shutdown(timeout time.Duration) {
	ps.mu.Lock()
	pools := append([]*Pool{ps.general, ps.io, ps.cpu}, ps.retired...)
	ps.mu.Unlock()

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.DrainWait(timeout)
		}(pool)
	}
	wg.Wait()
}
