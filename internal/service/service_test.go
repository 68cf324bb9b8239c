package service

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizsense/internal/config"
	"quizsense/internal/detect"
	"quizsense/internal/events"
	"quizsense/internal/resource"
)

type queueGrabber struct {
	frames []*image.RGBA
	err    error
}

func (g *queueGrabber) Grab(region *image.Rectangle) (*image.RGBA, error) {
	if g.err != nil {
		return nil, g.err
	}
	frame := g.frames[0]
	if len(g.frames) > 1 {
		g.frames = g.frames[1:]
	}
	return frame, nil
}

type fixedOCR struct {
	components detect.Components
}

func (o *fixedOCR) ExtractQuestionComponents(frame *image.RGBA) (detect.Components, error) {
	return o.components, nil
}

type recordingAutomation struct {
	handled chan *detect.Detection
}

func newRecordingAutomation() *recordingAutomation {
	return &recordingAutomation{handled: make(chan *detect.Detection, 16)}
}

func (a *recordingAutomation) HandleQuestion(d *detect.Detection) error {
	a.handled <- d
	return nil
}

func halfFrame(leftBlack bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 160, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 160; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (x < 80) == leftBlack {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Mode = resource.ModeHighPerformance
	cfg.QuestionPacing = 0
	cfg.MaxConsecutiveErrors = 3
	cfg.DatabasePath = filepath.Join(t.TempDir(), "quizsense.db")
	cfg.WeightsDir = filepath.Join(t.TempDir(), "weights")
	return cfg
}

func questionOCR() *fixedOCR {
	return &fixedOCR{components: detect.Components{
		QuestionText: "Which planet is closest to the sun?",
		Options:      []detect.Option{{Text: "Mercury"}, {Text: "Venus"}},
	}}
}

func TestStepDispatchesDetectedQuestion(t *testing.T) {
	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	automation := newRecordingAutomation()

	svc, err := New(testConfig(t), grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	fatal := svc.step()
	assert.False(t, fatal)

	select {
	case d := <-automation.handled:
		assert.Equal(t, "Which planet is closest to the sun?", d.QuestionText)
		assert.Equal(t, "text_patterns", d.Method)
		assert.GreaterOrEqual(t, d.Confidence, 0.5)
	case <-time.After(2 * time.Second):
		t.Fatal("automation never received the detection")
	}

	assert.Equal(t, int64(1), svc.QuestionsAnswered())
}

func TestRepeatedFrameIsSuppressed(t *testing.T) {
	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	automation := newRecordingAutomation()

	svc, err := New(testConfig(t), grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	svc.step()
	svc.step()

	assert.Equal(t, int64(1), svc.QuestionsAnswered(), "same frame must not dispatch twice")
}

func TestConsecutiveErrorsAreFatal(t *testing.T) {
	grabber := &queueGrabber{err: errors.New("surface gone")}
	automation := newRecordingAutomation()

	svc, err := New(testConfig(t), grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	assert.False(t, svc.step())
	assert.False(t, svc.step())
	assert.True(t, svc.step(), "third consecutive error crosses the cap")
	assert.Error(t, svc.Err())
}

func TestErrorCountResetsOnSuccess(t *testing.T) {
	grabber := &queueGrabber{err: errors.New("flaky")}
	automation := newRecordingAutomation()

	svc, err := New(testConfig(t), grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	svc.step()
	svc.step()

	grabber.err = nil
	grabber.frames = []*image.RGBA{halfFrame(true)}
	assert.False(t, svc.step())

	grabber.err = errors.New("flaky again")
	assert.False(t, svc.step(), "count restarted after a good pass")
	assert.NoError(t, svc.Err())
}

func TestSessionQuestionLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQuestions = 1

	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	automation := newRecordingAutomation()

	svc, err := New(cfg, grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	assert.Equal(t, "", svc.sessionLimitReached())
	svc.step()
	assert.Equal(t, "question_limit", svc.sessionLimitReached())
}

func TestSessionDurationLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionDuration = time.Nanosecond

	svc, err := New(cfg, &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}, questionOCR(), newRecordingAutomation())
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	svc.mu.Lock()
	svc.startedAt = time.Now().Add(-time.Minute)
	svc.mu.Unlock()

	assert.Equal(t, "duration", svc.sessionLimitReached())
}

func TestMetricsMergeSubsystems(t *testing.T) {
	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	automation := newRecordingAutomation()

	svc, err := New(testConfig(t), grabber, questionOCR(), automation)
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	svc.step()

	m := svc.Metrics()
	assert.Equal(t, resource.ModeHighPerformance, m.Mode)
	assert.Equal(t, int64(1), m.QuestionsAnswered)
	assert.Equal(t, int64(1), m.Capture.Accepted)
	assert.Equal(t, int64(1), m.Detection.FramesAnalyzed)
	assert.Contains(t, m.Pools, "general")
	assert.Contains(t, m.Pools, "io")
	assert.Contains(t, m.Pools, "cpu")
}

func TestStartPublishesSessionStarted(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQuestions = 1

	svc, err := New(cfg, &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}, questionOCR(), newRecordingAutomation())
	require.NoError(t, err)

	started := make(chan events.Event, 1)
	svc.Bus().Subscribe(events.EventTypeSessionStarted, func(e events.Event) { started <- e })

	require.NoError(t, svc.Start())
	select {
	case e := <-started:
		assert.Equal(t, string(resource.ModeHighPerformance), e.Data["mode"])
	case <-time.After(2 * time.Second):
		t.Fatal("session start never announced")
	}
	svc.Stop()
}

type idleSystemSampler struct{}

func (idleSystemSampler) Sample() (resource.Profile, error) {
	return resource.Profile{CPUPercent: 20, MemoryPercent: 30, MemoryMB: 2048}, nil
}

type overBudgetProcess struct{}

func (overBudgetProcess) SampleProcess() (resource.ProcessUsage, error) {
	return resource.ProcessUsage{CPUPercent: 95, MemoryMB: 900}, nil
}

func TestThrottlePublishesEventAndClearsDetectionCache(t *testing.T) {
	monitor := resource.NewMonitor(resource.ModeHighPerformance,
		resource.WithSampler(idleSystemSampler{}),
		resource.WithProcessSampler(overBudgetProcess{}))

	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	svc, err := New(testConfig(t), grabber, questionOCR(), newRecordingAutomation(), WithMonitor(monitor))
	require.NoError(t, err)
	defer svc.pools.Shutdown(time.Second)

	throttled := make(chan events.Event, 1)
	svc.Bus().Subscribe(events.EventTypeThrottleApplied, func(e events.Event) { throttled <- e })

	svc.step()
	require.Greater(t, svc.engine.Metrics().Cache.Items, 0)

	monitor.Tick()

	select {
	case e := <-throttled:
		assert.Equal(t, 20.0, e.Data["cpu_percent"])
	case <-time.After(2 * time.Second):
		t.Fatal("throttle never announced")
	}
	assert.Equal(t, 0, svc.engine.Metrics().Cache.Items)
	assert.Equal(t, int64(1), monitor.ThrottleCount())
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQuestions = 1

	grabber := &queueGrabber{frames: []*image.RGBA{halfFrame(true)}}
	automation := newRecordingAutomation()

	svc, err := New(cfg, grabber, questionOCR(), automation)
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start(), "double start is rejected")

	select {
	case <-automation.handled:
	case <-time.After(5 * time.Second):
		t.Fatal("service loop never dispatched")
	}

	svc.Stop()
	assert.NoError(t, svc.Err())
}
