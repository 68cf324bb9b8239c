package capture

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizsense/internal/resource"
)

type stubModes struct {
	mode      resource.Mode
	profile   resource.Profile
	hasSample bool
	callbacks []resource.ModeChangeCallback
}

func (s *stubModes) CurrentMode() resource.Mode { return s.mode }

func (s *stubModes) CurrentProfile() (resource.Profile, bool) {
	return s.profile, s.hasSample
}

func (s *stubModes) RegisterModeChange(cb resource.ModeChangeCallback) {
	s.callbacks = append(s.callbacks, cb)
}

func (s *stubModes) fire(mode resource.Mode) {
	s.mode = mode
	for _, cb := range s.callbacks {
		cb(mode)
	}
}

type stubGrabber struct {
	frames []*image.RGBA
	calls  int
	err    error
}

func (g *stubGrabber) Grab(region *image.Rectangle) (*image.RGBA, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if len(g.frames) == 0 {
		return nil, assert.AnError
	}
	frame := g.frames[0]
	if len(g.frames) > 1 {
		g.frames = g.frames[1:]
	}
	return frame, nil
}

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func paint(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// splitFrame builds a 160x160 frame, left half black, right half white.
func splitFrame() *image.RGBA {
	img := uniform(160, 160, color.RGBA{255, 255, 255, 255})
	paint(img, image.Rect(0, 0, 80, 160), color.RGBA{0, 0, 0, 255})
	return img
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCapture(g Grabber, modes ModeSource) (*Capture, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	return NewCapture(g, modes, WithClock(clock.now)), clock
}

func TestCaptureIntervalGateReturnsSamePointer(t *testing.T) {
	grabber := &stubGrabber{frames: []*image.RGBA{splitFrame()}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	first, err := ac.Capture(nil)
	require.NoError(t, err)

	clock.advance(500 * time.Millisecond)
	second, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, grabber.calls, "grabber must not run inside the interval")
}

func TestCaptureHashEqualReturnsPreviousFrame(t *testing.T) {
	base := splitFrame()
	identical := splitFrame()
	grabber := &stubGrabber{frames: []*image.RGBA{base, identical}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	first, err := ac.Capture(nil)
	require.NoError(t, err)

	clock.advance(3 * time.Second)
	second, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), ac.Stats().HashDedups)
}

func TestCaptureSmallPixelChangeIsSuppressed(t *testing.T) {
	base := splitFrame()
	// Flip one 20x20 cell from black to white: the hash changes but
	// only 400 pixels moved, below the change floor.
	minor := splitFrame()
	paint(minor, image.Rect(20, 20, 40, 40), color.RGBA{255, 255, 255, 255})

	grabber := &stubGrabber{frames: []*image.RGBA{base, minor}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	first, err := ac.Capture(nil)
	require.NoError(t, err)

	clock.advance(3 * time.Second)
	second, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), ac.Stats().PixelDedups)
}

func TestCaptureAcceptsChangedFrame(t *testing.T) {
	base := splitFrame()
	changed := uniform(160, 160, color.RGBA{255, 255, 255, 255})

	grabber := &stubGrabber{frames: []*image.RGBA{base, changed}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	first, err := ac.Capture(nil)
	require.NoError(t, err)

	clock.advance(3 * time.Second)
	second, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), ac.Stats().Accepted)
}

func TestDedupedGrabDoesNotExtendIntervalGate(t *testing.T) {
	base := splitFrame()
	identical := splitFrame()
	changed := uniform(160, 160, color.RGBA{255, 255, 255, 255})

	grabber := &stubGrabber{frames: []*image.RGBA{base, identical, changed}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	_, err := ac.Capture(nil)
	require.NoError(t, err)

	// A deduped grab must not reset the gate: the interval keeps
	// counting from the last accepted frame.
	clock.advance(3 * time.Second)
	_, err = ac.Capture(nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), ac.Stats().HashDedups)

	clock.advance(time.Second)
	third, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.Equal(t, 3, grabber.calls, "one second after a dedup the gate is still open")
	assert.Same(t, changed, third)
	assert.Equal(t, int64(2), ac.Stats().Accepted)
	assert.Equal(t, int64(0), ac.Stats().IntervalHits)
}

func TestModeChangeClearsDedupState(t *testing.T) {
	grabber := &stubGrabber{frames: []*image.RGBA{splitFrame(), splitFrame()}}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, clock := newTestCapture(grabber, modes)

	first, err := ac.Capture(nil)
	require.NoError(t, err)

	modes.fire(resource.ModeHighPerformance)

	clock.advance(3 * time.Second)
	second, err := ac.Capture(nil)
	require.NoError(t, err)

	// Same content, but the dedup state was cleared so a fresh frame
	// is delivered.
	assert.NotSame(t, first, second)
}

func TestCaptureRegionsSkipsLowPriorityUnderHighLoad(t *testing.T) {
	grabber := &stubGrabber{frames: []*image.RGBA{splitFrame()}}
	modes := &stubModes{
		mode:      resource.ModeHighPerformance,
		profile:   resource.Profile{CPUPercent: 90},
		hasSample: true,
	}
	ac, _ := newTestCapture(grabber, modes)

	regions := []Region{
		{Name: "status", Rect: image.Rect(0, 0, 40, 40), Priority: PriorityLow},
		{Name: "question", Rect: image.Rect(0, 0, 160, 80), Priority: PriorityCritical},
		{Name: "options", Rect: image.Rect(0, 80, 160, 160), Priority: PriorityHigh},
	}

	results, err := ac.CaptureRegions(regions)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Nil(t, results[0], "low priority region skipped under load")
	assert.NotNil(t, results[1])
	assert.NotNil(t, results[2])
	assert.Equal(t, int64(1), ac.Stats().SkippedRegions)
}

func TestCaptureRegionsAllGrabbedWhenIdle(t *testing.T) {
	grabber := &stubGrabber{frames: []*image.RGBA{splitFrame()}}
	modes := &stubModes{
		mode:      resource.ModeHighPerformance,
		profile:   resource.Profile{CPUPercent: 10},
		hasSample: true,
	}
	ac, _ := newTestCapture(grabber, modes)

	regions := []Region{
		{Name: "a", Priority: PriorityLow},
		{Name: "b", Priority: PriorityHigh},
	}

	results, err := ac.CaptureRegions(regions)
	require.NoError(t, err)
	assert.NotNil(t, results[0])
	assert.NotNil(t, results[1])
}

func TestPowerSaverDegradesFrame(t *testing.T) {
	frame := uniform(100, 100, color.RGBA{200, 30, 30, 255})
	grabber := &stubGrabber{frames: []*image.RGBA{frame}}
	modes := &stubModes{mode: resource.ModePowerSaver}
	ac, _ := newTestCapture(grabber, modes)

	out, err := ac.Capture(nil)
	require.NoError(t, err)

	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	px := out.RGBAAt(25, 25)
	assert.InDelta(t, float64(px.R), float64(px.G), 3)
	assert.InDelta(t, float64(px.G), float64(px.B), 3)
}

func TestQualityTable(t *testing.T) {
	hp := QualityFor(resource.ModeHighPerformance)
	assert.Equal(t, 1.0, hp.Scale)
	assert.False(t, hp.Grayscale)
	assert.Equal(t, 2*time.Second, hp.Interval)

	ps := QualityFor(resource.ModePowerSaver)
	assert.Equal(t, 0.5, ps.Scale)
	assert.True(t, ps.Grayscale)
	assert.Equal(t, 10*time.Second, ps.Interval)

	// The adaptive meta-mode falls back to the balanced profile.
	assert.Equal(t, QualityFor(resource.ModeBalanced), QualityFor(resource.ModeAdaptive))
}

func TestCaptureGrabError(t *testing.T) {
	grabber := &stubGrabber{err: assert.AnError}
	modes := &stubModes{mode: resource.ModeHighPerformance}
	ac, _ := newTestCapture(grabber, modes)

	_, err := ac.Capture(nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), ac.Stats().Errors)
}
