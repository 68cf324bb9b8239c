package resource

import (
	"os"
	"runtime"
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Profile is a snapshot of system resource usage. It is produced by the
// monitor loop on every tick and is read-only to subscribers.
type Profile struct {
	CPUPercent     float64
	MemoryPercent  float64
	MemoryMB       float64
	BatteryPercent *float64 // nil when no battery is present
	PowerPlugged   bool
	GoroutineCount int
	SampledAt      time.Time
}

// HighLoad reports whether the system is under high load.
func (p Profile) HighLoad() bool {
	return p.CPUPercent > 60 || p.MemoryPercent > 70
}

// LowResource reports whether the system is running low on resources.
func (p Profile) LowResource() bool {
	if p.CPUPercent > 80 || p.MemoryPercent > 85 {
		return true
	}
	return p.BatteryPercent != nil && *p.BatteryPercent < 20
}

// Sampler produces resource profiles. The system sampler reads OS
// counters; tests substitute a fixed sampler.
type Sampler interface {
	Sample() (Profile, error)
}

// ProcessUsage reports the current process's own CPU and memory usage,
// used for budget enforcement rather than mode resolution.
type ProcessUsage struct {
	CPUPercent float64
	MemoryMB   float64
}

// ProcessSampler reads the current process's resource usage.
type ProcessSampler interface {
	SampleProcess() (ProcessUsage, error)
}

// SystemSampler reads host counters via gopsutil and battery state via
// the platform battery API.
type SystemSampler struct {
	proc *process.Process
}

// NewSystemSampler creates a sampler bound to the current process.
func NewSystemSampler() (*SystemSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SystemSampler{proc: proc}, nil
}

// Sample reads a full system resource profile.
func (s *SystemSampler) Sample() (Profile, error) {
	profile := Profile{
		GoroutineCount: runtime.NumGoroutine(),
		PowerPlugged:   true, // assume mains power when no battery reports
		SampledAt:      time.Now(),
	}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return profile, err
	}
	if len(percents) > 0 {
		profile.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return profile, err
	}
	profile.MemoryPercent = vm.UsedPercent
	profile.MemoryMB = float64(vm.Used) / (1024 * 1024)

	// Battery readings are best-effort; a desktop host simply has none.
	if batteries, err := battery.GetAll(); err == nil && len(batteries) > 0 {
		b := batteries[0]
		if b.Full > 0 {
			pct := b.Current / b.Full * 100
			profile.BatteryPercent = &pct
		}
		profile.PowerPlugged = b.State != battery.Discharging && b.State != battery.Empty
	}

	return profile, nil
}

// SampleProcess reads the current process's own usage.
func (s *SystemSampler) SampleProcess() (ProcessUsage, error) {
	usage := ProcessUsage{}

	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		return usage, err
	}
	usage.CPUPercent = cpuPct

	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		return usage, err
	}
	usage.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)

	return usage, nil
}
