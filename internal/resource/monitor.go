package resource

import (
	"runtime"
	"sync"
	"time"

	"quizsense/internal/logging"
)

// ModeChangeCallback is invoked synchronously when the active concrete
// mode changes. Panics inside a callback are recovered and logged.
type ModeChangeCallback func(mode Mode)

// ThrottleHook is invoked when the process exceeds its active budget and
// the monitor applies advisory back-pressure. Caches register here to be
// cleared during a throttle pass.
type ThrottleHook func()

// Monitor samples system resources on a fixed interval, resolves the
// operating mode and enforces the active mode's budget on this process.
type Monitor struct {
	logger  *logging.Logger
	sampler Sampler
	procs   ProcessSampler

	configured Mode // operator-selected mode, possibly adaptive
	active     Mode // resolved concrete mode

	profile   Profile
	hasSample bool

	interval      time.Duration
	throttleSleep time.Duration

	callbacks     []ModeChangeCallback
	throttleHooks []ThrottleHook
	throttleCount int64

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithSampler substitutes the system sampler (used by tests).
func WithSampler(s Sampler) MonitorOption {
	return func(m *Monitor) { m.sampler = s }
}

// WithProcessSampler substitutes the process usage sampler.
func WithProcessSampler(p ProcessSampler) MonitorOption {
	return func(m *Monitor) { m.procs = p }
}

// WithInterval overrides the 5s sampling interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor creates a resource monitor with the operator's configured
// mode. An adaptive configuration starts out balanced until the first
// sample resolves it.
func NewMonitor(configured Mode, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		logger:        logging.NewLogger("ResourceMonitor"),
		configured:    configured,
		active:        configured,
		interval:      5 * time.Second,
		throttleSleep: 10 * time.Millisecond,
		stopCh:        make(chan struct{}),
	}
	if !configured.IsConcrete() {
		m.active = ModeBalanced
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sampler == nil {
		sys, err := NewSystemSampler()
		if err != nil {
			m.logger.Error("system sampler unavailable", err)
		} else {
			m.sampler = sys
			m.procs = sys
		}
	}
	return m
}

// Start launches the monitoring loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the monitoring loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Take an immediate first sample so the mode settles before the
	// first capture.
	m.Tick()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs one sample/resolve/enforce pass. Exposed so the service
// loop and tests can drive the monitor without waiting for the ticker.
func (m *Monitor) Tick() {
	if m.sampler == nil {
		return
	}

	profile, err := m.sampler.Sample()
	if err != nil {
		m.logger.Error("resource sample failed", err)
		return
	}

	m.mu.Lock()
	m.profile = profile
	m.hasSample = true
	configured := m.configured
	m.mu.Unlock()

	if configured == ModeAdaptive {
		m.setActive(ResolveMode(configured, profile))
	}

	m.enforceLimits()
}

// ResolveMode maps a configured mode plus a resource profile to a
// concrete mode. Non-adaptive configurations pass through unchanged.
func ResolveMode(configured Mode, profile Profile) Mode {
	if configured != ModeAdaptive {
		if configured.IsConcrete() {
			return configured
		}
		return ModeBalanced
	}

	switch {
	case profile.BatteryPercent != nil && *profile.BatteryPercent < 30 && !profile.PowerPlugged:
		return ModePowerSaver
	case profile.HighLoad():
		return ModePowerSaver
	case profile.LowResource():
		return ModeBalanced
	default:
		return ModeHighPerformance
	}
}

func (m *Monitor) setActive(mode Mode) {
	m.mu.Lock()
	if mode == m.active {
		m.mu.Unlock()
		return
	}
	old := m.active
	m.active = mode
	callbacks := make([]ModeChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Infof("mode changed: %s -> %s", old, mode)

	for _, cb := range callbacks {
		m.invokeCallback(cb, mode)
	}
}

func (m *Monitor) invokeCallback(cb ModeChangeCallback, mode Mode) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorWithFields("mode-change callback panicked", nil,
				map[string]interface{}{"panic": r})
		}
	}()
	cb(mode)
}

// enforceLimits applies advisory back-pressure when this process exceeds
// the active budget. A throttle pass is a short sleep, a GC cycle and a
// sweep of the registered cache-clear hooks, not a hard limit.
func (m *Monitor) enforceLimits() {
	if m.procs == nil {
		return
	}

	usage, err := m.procs.SampleProcess()
	if err != nil {
		return
	}

	limits := LimitsFor(m.CurrentMode())
	if usage.CPUPercent <= limits.CPUPercent && usage.MemoryMB <= limits.MemoryMB {
		return
	}

	m.mu.Lock()
	m.throttleCount++
	hooks := make([]ThrottleHook, len(m.throttleHooks))
	copy(hooks, m.throttleHooks)
	m.mu.Unlock()

	m.logger.InfoWithFields("budget exceeded, throttling", map[string]interface{}{
		"cpu_percent": usage.CPUPercent,
		"memory_mb":   usage.MemoryMB,
	})

	time.Sleep(m.throttleSleep)
	for _, hook := range hooks {
		hook()
	}
	runtime.GC()
}

// SetMode changes the operator-configured mode at runtime.
func (m *Monitor) SetMode(mode Mode) {
	m.mu.Lock()
	m.configured = mode
	m.mu.Unlock()

	if mode.IsConcrete() {
		m.setActive(mode)
	}
}

// CurrentMode returns the resolved concrete mode.
func (m *Monitor) CurrentMode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CurrentLimits returns the budget for the resolved mode.
func (m *Monitor) CurrentLimits() Limits {
	return LimitsFor(m.CurrentMode())
}

// CurrentProfile returns the latest sampled profile.
func (m *Monitor) CurrentProfile() (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile, m.hasSample
}

// RegisterModeChange subscribes a callback to concrete mode changes.
func (m *Monitor) RegisterModeChange(cb ModeChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// RegisterThrottleHook subscribes a hook run during throttle passes.
func (m *Monitor) RegisterThrottleHook(hook ThrottleHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleHooks = append(m.throttleHooks, hook)
}

// ThrottleCount returns how many throttle passes have been applied.
func (m *Monitor) ThrottleCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.throttleCount
}
