// Package capture implements adaptive frame acquisition. A capture pass
// grabs a frame through an injected primitive, degrades it to the
// quality profile of the active resource mode and suppresses frames the
// pipeline has already seen.
package capture

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"quizsense/internal/logging"
	"quizsense/internal/resource"
	"quizsense/internal/vision"
)

// Grabber is the external capture primitive. A nil region means the
// full surface.
type Grabber interface {
	Grab(region *image.Rectangle) (*image.RGBA, error)
}

// Quality describes how aggressively frames are degraded in a mode.
type Quality struct {
	Scale       float64
	Grayscale   bool
	JPEGQuality int
	Interval    time.Duration
}

var modeQuality = map[resource.Mode]Quality{
	resource.ModeHighPerformance: {Scale: 1.0, Grayscale: false, JPEGQuality: 95, Interval: 2 * time.Second},
	resource.ModeBalanced:        {Scale: 0.75, Grayscale: false, JPEGQuality: 85, Interval: 5 * time.Second},
	resource.ModePowerSaver:      {Scale: 0.5, Grayscale: true, JPEGQuality: 70, Interval: 10 * time.Second},
}

// QualityFor returns the quality profile for a mode. Unresolved modes
// map to the balanced profile.
func QualityFor(mode resource.Mode) Quality {
	if q, ok := modeQuality[mode]; ok {
		return q
	}
	return modeQuality[resource.ModeBalanced]
}

const (
	// Per-channel delta above which a pixel counts as changed.
	pixelDeltaThreshold = 30
	// Minimum changed pixels for a frame to count as new content.
	pixelDiffFloor = 5000
)

// RegionPriority orders multi-region capture. Under high system load
// only Critical and High regions are grabbed.
type RegionPriority int

const (
	PriorityCritical RegionPriority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Region names a rectangular capture target.
type Region struct {
	Name     string
	Rect     image.Rectangle
	Priority RegionPriority
}

// ModeSource exposes the resolved mode and latest resource profile.
// *resource.Monitor satisfies it.
type ModeSource interface {
	CurrentMode() resource.Mode
	CurrentProfile() (resource.Profile, bool)
	RegisterModeChange(resource.ModeChangeCallback)
}

// Stats counts capture outcomes since startup.
type Stats struct {
	Grabs          int64
	Accepted       int64
	IntervalHits   int64
	HashDedups     int64
	PixelDedups    int64
	Errors         int64
	SkippedRegions int64
}

// Capture grabs, degrades and deduplicates frames according to the
// active resource mode.
type Capture struct {
	logger  *logging.Logger
	grabber Grabber
	modes   ModeSource
	now     func() time.Time

	lastFrame    *image.RGBA
	lastHash     string
	lastAcceptAt time.Time

	stats Stats
	mu    sync.Mutex
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithClock substitutes the wall clock (used by tests).
func WithClock(now func() time.Time) CaptureOption {
	return func(c *Capture) { c.now = now }
}

// NewCapture creates an adaptive capture bound to a grabber and a mode
// source. A mode change clears the dedup state so the first frame in
// the new quality profile is always delivered.
func NewCapture(grabber Grabber, modes ModeSource, opts ...CaptureOption) *Capture {
	c := &Capture{
		logger:  logging.NewLogger("AdaptiveCapture"),
		grabber: grabber,
		modes:   modes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	modes.RegisterModeChange(func(resource.Mode) {
		c.Reset()
	})
	return c
}

// Capture returns the current frame for a region, or the previous frame
// when nothing changed. Within one mode interval the previously
// accepted frame is returned without touching the grabber.
func (c *Capture) Capture(region *image.Rectangle) (*image.RGBA, error) {
	quality := QualityFor(c.modes.CurrentMode())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastFrame != nil && c.now().Sub(c.lastAcceptAt) < quality.Interval {
		c.stats.IntervalHits++
		return c.lastFrame, nil
	}

	frame, err := c.grabber.Grab(region)
	if err != nil {
		c.stats.Errors++
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	c.stats.Grabs++

	frame, err = c.degrade(frame, quality)
	if err != nil {
		c.stats.Errors++
		return nil, err
	}

	hash := vision.PerceptualHash(frame)
	if c.lastFrame != nil {
		if hash == c.lastHash {
			c.stats.HashDedups++
			return c.lastFrame, nil
		}
		if vision.PixelDiffCount(frame, c.lastFrame, pixelDeltaThreshold) < pixelDiffFloor {
			c.stats.PixelDedups++
			return c.lastFrame, nil
		}
	}

	// The interval gate is measured from the last accepted frame, so a
	// deduped grab does not push the next real capture out.
	c.lastFrame = frame
	c.lastHash = hash
	c.lastAcceptAt = c.now()
	c.stats.Accepted++
	return frame, nil
}

func (c *Capture) degrade(frame *image.RGBA, quality Quality) (*image.RGBA, error) {
	if quality.Scale < 1.0 {
		frame = vision.Downscale(frame, quality.Scale)
	}
	if quality.Grayscale {
		frame = vision.ToGrayscale(frame)
	}
	if quality.JPEGQuality < 95 {
		reencoded, err := vision.ReencodeLossy(frame, quality.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("degrade frame: %w", err)
		}
		frame = reencoded
	}
	return frame, nil
}

// CaptureRegions grabs a set of named regions. The result slice is
// aligned with the input. Under high system load regions below High
// priority are skipped and their slot is nil, which is not an error.
func (c *Capture) CaptureRegions(regions []Region) ([]*image.RGBA, error) {
	highLoad := false
	if profile, ok := c.modes.CurrentProfile(); ok {
		highLoad = profile.HighLoad()
	}

	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return regions[order[a]].Priority < regions[order[b]].Priority
	})

	results := make([]*image.RGBA, len(regions))
	for _, idx := range order {
		region := regions[idx]
		if highLoad && region.Priority > PriorityHigh {
			c.mu.Lock()
			c.stats.SkippedRegions++
			c.mu.Unlock()
			c.logger.Debugf("skipping region %s under high load", region.Name)
			continue
		}

		rect := region.Rect
		frame, err := c.grabber.Grab(&rect)
		if err != nil {
			return results, fmt.Errorf("grab region %s: %w", region.Name, err)
		}
		c.mu.Lock()
		c.stats.Grabs++
		c.mu.Unlock()

		quality := QualityFor(c.modes.CurrentMode())
		frame, err = c.degrade(frame, quality)
		if err != nil {
			return results, err
		}
		results[idx] = frame
	}

	return results, nil
}

// Reset clears the dedup state. The next capture always grabs and
// delivers a fresh frame.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFrame = nil
	c.lastHash = ""
	c.lastAcceptAt = time.Time{}
}

// LastHash returns the perceptual hash of the last accepted frame.
func (c *Capture) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Stats returns a snapshot of capture counters.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
