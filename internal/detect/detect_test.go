package detect

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	name  string
	det   *Detection
	err   error
	panic bool
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	s.calls++
	if s.panic {
		panic("strategy blew up")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.det == nil {
		return nil, nil
	}
	clone := *s.det
	return &clone, nil
}

type stubOCR struct {
	components Components
	err        error
}

func (o *stubOCR) ExtractQuestionComponents(frame *image.RGBA) (Components, error) {
	return o.components, o.err
}

func testFrame(seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if (x/8+y/8+int(seed))%2 == 0 {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

type slowStrategy struct {
	calls int32
	det   *Detection
	delay time.Duration
}

func (s *slowStrategy) Name() string { return "template" }

func (s *slowStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(s.delay)
	clone := *s.det
	return &clone, nil
}

type engineClock struct{ t time.Time }

func (c *engineClock) now() time.Time          { return c.t }
func (c *engineClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFirstQualifyingStrategyWins(t *testing.T) {
	cheap := &stubStrategy{name: "template", det: &Detection{QuestionText: "cheap", Confidence: 0.6}}
	expensive := &stubStrategy{name: "ml_classification", det: &Detection{QuestionText: "expensive", Confidence: 0.99}}

	engine := NewEngine(nil, WithStrategies(cheap, expensive))
	det := engine.Detect(testFrame(0), nil)

	require.NotNil(t, det)
	assert.Equal(t, "template", det.Method)
	assert.Equal(t, "cheap", det.QuestionText)
	assert.Equal(t, 0, expensive.calls, "later rungs must not run once one wins")
}

func TestLowConfidenceFallsThrough(t *testing.T) {
	weak := &stubStrategy{name: "template", det: &Detection{Confidence: 0.3}}
	strong := &stubStrategy{name: "text_patterns", det: &Detection{QuestionText: "q", Confidence: 0.8}}

	engine := NewEngine(nil, WithStrategies(weak, strong))
	det := engine.Detect(testFrame(0), nil)

	require.NotNil(t, det)
	assert.Equal(t, "text_patterns", det.Method)
}

func TestStrategyErrorIsContained(t *testing.T) {
	broken := &stubStrategy{name: "template", err: errors.New("match failed")}
	working := &stubStrategy{name: "text_patterns", det: &Detection{QuestionText: "q", Confidence: 0.9}}

	engine := NewEngine(nil, WithStrategies(broken, working))
	det := engine.Detect(testFrame(0), nil)

	require.NotNil(t, det)
	assert.Equal(t, "text_patterns", det.Method)
	assert.Equal(t, int64(1), engine.Metrics().StrategyErrors)
}

func TestStrategyPanicIsContained(t *testing.T) {
	panicky := &stubStrategy{name: "template", panic: true}
	working := &stubStrategy{name: "text_patterns", det: &Detection{QuestionText: "q", Confidence: 0.9}}

	engine := NewEngine(nil, WithStrategies(panicky, working))
	det := engine.Detect(testFrame(0), nil)

	require.NotNil(t, det)
	assert.Equal(t, int64(1), engine.Metrics().StrategyErrors)
}

func TestNoStrategyQualifiesReturnsNil(t *testing.T) {
	weak := &stubStrategy{name: "template", det: &Detection{Confidence: 0.2}}
	engine := NewEngine(nil, WithStrategies(weak))

	assert.Nil(t, engine.Detect(testFrame(0), nil))
}

func TestConcurrentDetectSameFrameComputesOnce(t *testing.T) {
	slow := &slowStrategy{
		delay: 100 * time.Millisecond,
		det:   &Detection{QuestionText: "once", Confidence: 0.9},
	}
	engine := NewEngine(nil, WithStrategies(slow))
	frame := testFrame(0)

	results := make([]*Detection, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Detect(frame, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&slow.calls),
		"the second caller waits on the in-flight computation and hits the cache")
	require.NotNil(t, results[0])
	assert.Same(t, results[0], results[1])
	assert.Equal(t, int64(1), engine.Metrics().CacheHits)
}

func TestCacheHitSkipsLadder(t *testing.T) {
	strategy := &stubStrategy{name: "template", det: &Detection{QuestionText: "q", Confidence: 0.9}}
	engine := NewEngine(nil, WithStrategies(strategy))

	frame := testFrame(0)
	first := engine.Detect(frame, nil)
	second := engine.Detect(frame, nil)

	require.NotNil(t, first)
	assert.Same(t, first, second, "cached result is returned as-is")
	assert.Equal(t, 1, strategy.calls)
	assert.Equal(t, int64(1), engine.Metrics().CacheHits)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	strategy := &stubStrategy{name: "template", det: &Detection{QuestionText: "q", Confidence: 0.9}}
	clock := &engineClock{t: time.Unix(5000, 0)}
	engine := NewEngine(nil, WithStrategies(strategy), WithEngineClock(clock.now))

	frame := testFrame(0)
	engine.Detect(frame, nil)

	clock.advance(301 * time.Second)
	engine.Detect(frame, nil)

	assert.Equal(t, 2, strategy.calls, "expired entry must be recomputed")
}

func TestNegativeResultIsCachedToo(t *testing.T) {
	strategy := &stubStrategy{name: "template"}
	engine := NewEngine(nil, WithStrategies(strategy))

	frame := testFrame(0)
	engine.Detect(frame, nil)
	engine.Detect(frame, nil)

	assert.Equal(t, 1, strategy.calls)
}

func TestIsDuplicate(t *testing.T) {
	engine := NewEngine(nil, WithStrategies(&stubStrategy{name: "template"}))
	base := time.Unix(9000, 0)

	first := &Detection{QuestionText: "What is the capital of France?", Timestamp: base}
	assert.False(t, engine.IsDuplicate(first))

	// Same words one second later: suppressed.
	repeat := &Detection{QuestionText: "what is the capital of France", Timestamp: base.Add(time.Second)}
	assert.True(t, engine.IsDuplicate(repeat))

	// Different question inside the window: reported.
	other := &Detection{QuestionText: "Which ocean is the largest on Earth?", Timestamp: base.Add(time.Second)}
	assert.False(t, engine.IsDuplicate(other))

	// Same words again but three seconds later: reported.
	later := &Detection{QuestionText: "Which ocean is the largest on Earth?", Timestamp: base.Add(4 * time.Second)}
	assert.False(t, engine.IsDuplicate(later))

	assert.Equal(t, int64(1), engine.Metrics().Duplicates)
}

func TestWordJaccard(t *testing.T) {
	assert.Equal(t, 1.0, wordJaccard("The quick fox", "the quick fox"))
	assert.Equal(t, 0.0, wordJaccard("alpha beta", "gamma delta"))
	assert.InDelta(t, 0.5, wordJaccard("a b c d", "a b"), 1e-9)
}

func TestHistoryKeepsDetections(t *testing.T) {
	strategy := &stubStrategy{name: "template", det: &Detection{QuestionText: "q", Confidence: 0.9}}
	engine := NewEngine(nil, WithStrategies(strategy))

	engine.Detect(testFrame(0), nil)
	engine.Detect(testFrame(1), nil)

	history := engine.History()
	require.Len(t, history, 2)
	assert.Equal(t, "q", history[0].QuestionText)
}

func TestTextPatternScoring(t *testing.T) {
	s := NewTextPatternStrategy(nil)

	tests := []struct {
		name    string
		text    string
		options int
		want    float64
	}{
		{"full question with options", "What is the capital of France?", 4, 1.0},
		{"question word only", "Where does it live", 0, 0.45},
		{"numbered prefix", "Q3: pick the right image", 0, 0.45},
		{"plain statement", "Loading assets", 0, 0.2},
		{"short fragment", "ok?", 0, 0.25},
		{"context keyword", "Final round of the trivia challenge", 0, 0.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.ScoreText(tt.text, tt.options), 1e-9)
		})
	}
}

func TestTextPatternStrategyUsesExtractor(t *testing.T) {
	ocr := &stubOCR{components: Components{
		QuestionText: "Which planet is closest to the sun?",
		Options:      []Option{{Text: "Mercury"}, {Text: "Venus"}},
	}}
	s := NewTextPatternStrategy(nil)

	det, err := s.Detect(&FrameContext{Frame: testFrame(0), OCR: ocr})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "Which planet is closest to the sun?", det.QuestionText)
	assert.GreaterOrEqual(t, det.Confidence, 0.5)
}

func TestTextPatternStrategyNoExtractor(t *testing.T) {
	s := NewTextPatternStrategy(nil)
	det, err := s.Detect(&FrameContext{Frame: testFrame(0)})
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestTemplateStrategyMatches(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			frame.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	needle := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			needle.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			frame.SetRGBA(x+20, y+20, color.RGBA{0, 0, 0, 255})
		}
	}

	ocr := &stubOCR{components: Components{QuestionText: "Is this a question?"}}
	s := NewTemplateStrategy(Template{Name: "question_banner", Image: needle})

	det, err := s.Detect(&FrameContext{Frame: frame, OCR: ocr})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Greater(t, det.Confidence, 0.85)
	assert.Equal(t, "Is this a question?", det.QuestionText)
}

func TestUIStructureStrategyScoresLayout(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			frame.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	// A wide text band and three stacked option buttons.
	fill := func(rect image.Rectangle) {
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				frame.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	fill(image.Rect(60, 40, 580, 120))
	fill(image.Rect(100, 180, 260, 228))
	fill(image.Rect(100, 260, 260, 308))
	fill(image.Rect(100, 340, 260, 388))

	s := NewUIStructureStrategy()
	det, err := s.Detect(&FrameContext{Frame: frame})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.GreaterOrEqual(t, det.Confidence, 0.7)
}

func TestUIStructureStrategyFlatFrame(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 128, 128))
	s := NewUIStructureStrategy()

	det, err := s.Detect(&FrameContext{Frame: frame})
	require.NoError(t, err)
	assert.Nil(t, det)
}
