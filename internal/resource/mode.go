package resource

import "time"

// Mode is a named resource budget profile governing capture cadence,
// image quality and worker pool sizing.
type Mode string

const (
	ModeHighPerformance Mode = "high"
	ModeBalanced        Mode = "balanced"
	ModePowerSaver      Mode = "saver"
	// ModeAdaptive is a meta-mode resolved into one of the concrete
	// three on every monitor tick. Subscribers only ever observe the
	// resolved concrete mode.
	ModeAdaptive Mode = "adaptive"
)

// Limits is the resource budget associated with a concrete mode.
type Limits struct {
	CPUPercent      float64
	MemoryMB        float64
	Workers         int
	CaptureInterval time.Duration
}

var modeLimits = map[Mode]Limits{
	ModeHighPerformance: {
		CPUPercent:      50,
		MemoryMB:        500,
		Workers:         20,
		CaptureInterval: 2 * time.Second,
	},
	ModeBalanced: {
		CPUPercent:      30,
		MemoryMB:        300,
		Workers:         10,
		CaptureInterval: 5 * time.Second,
	},
	ModePowerSaver: {
		CPUPercent:      15,
		MemoryMB:        150,
		Workers:         5,
		CaptureInterval: 10 * time.Second,
	},
}

// LimitsFor returns the budget for a mode. The adaptive meta-mode maps
// to the balanced budget until it has been resolved.
func LimitsFor(mode Mode) Limits {
	if l, ok := modeLimits[mode]; ok {
		return l
	}
	return modeLimits[ModeBalanced]
}

// IsConcrete reports whether the mode is one of the three resolved modes.
func (m Mode) IsConcrete() bool {
	return m == ModeHighPerformance || m == ModeBalanced || m == ModePowerSaver
}
