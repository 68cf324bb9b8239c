package detect

import (
	"hash/fnv"
	"image"
	"strings"
	"sync"
	"time"

	"quizsense/internal/cache"
	"quizsense/internal/logging"
	"quizsense/internal/ml"
	"quizsense/internal/vision"
)

// Strategy order is a contract: cheapest first, and the first
// detection at or above the confidence threshold wins.
const (
	defaultThreshold   = 0.5
	defaultCacheTTL    = 300 * time.Second
	defaultCacheBudget = 512 * 1024
	defaultHistorySize = 100

	duplicateWindow     = 2 * time.Second
	duplicateSimilarity = 0.9

	// Fixed number of in-flight lock stripes; memory stays bounded no
	// matter how many distinct frame hashes flow through.
	hashLockStripes = 64
)

// Metrics is a snapshot of engine counters.
type Metrics struct {
	FramesAnalyzed  int64
	CacheHits       int64
	Detections      int64
	Duplicates      int64
	StrategyErrors  int64
	PerMethod       map[string]int64
	AverageDuration time.Duration
	Cache           cache.Stats
}

type cachedResult struct {
	detection *Detection
	expiresAt time.Time
}

// Engine runs the detection ladder over frames and memoizes the result
// per frame hash.
type Engine struct {
	logger     *logging.Logger
	strategies []Strategy
	ocr        OCR

	results *cache.LRU
	ttl     time.Duration

	threshold float64
	now       func() time.Time

	history      []*Detection
	historySize  int
	lastReported *Detection

	framesAnalyzed int64
	cacheHits      int64
	detections     int64
	duplicates     int64
	strategyErrors int64
	perMethod      map[string]int64
	totalDuration  time.Duration

	hashLocks [hashLockStripes]sync.Mutex
	mu        sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithThreshold overrides the winning confidence threshold.
func WithThreshold(t float64) EngineOption {
	return func(e *Engine) { e.threshold = t }
}

// WithCacheTTL overrides how long a frame hash result stays valid.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithEngineClock substitutes the wall clock (used by tests).
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithStrategies replaces the default ladder. Order is preserved.
func WithStrategies(strategies ...Strategy) EngineOption {
	return func(e *Engine) { e.strategies = strategies }
}

// NewEngine builds the engine with the standard four-rung ladder when
// no strategies are injected.
func NewEngine(ocr OCR, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:      logging.NewLogger("DetectionEngine"),
		ocr:         ocr,
		results:     cache.NewLRU(defaultCacheBudget),
		ttl:         defaultCacheTTL,
		threshold:   defaultThreshold,
		now:         time.Now,
		historySize: defaultHistorySize,
		perMethod:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.strategies) == 0 {
		ensemble := ml.NewEnsemble()
		e.strategies = []Strategy{
			NewTemplateStrategy(),
			NewTextPatternStrategy(nil),
			NewUIStructureStrategy(),
			NewMLStrategy(ensemble, ml.NewLearner(ensemble)),
		}
	}
	return e
}

// Detect analyzes one frame. It returns nil when no strategy reaches
// the threshold, which is indistinguishable from "no question present".
// Strategy errors are contained and the ladder falls through.
func (e *Engine) Detect(frame *image.RGBA, region *image.Rectangle) *Detection {
	hash := vision.PerceptualHash(frame)

	// One in-flight computation per frame hash: concurrent callers on
	// the same frame serialize on its stripe and then hit the cache. A
	// stripe collision between distinct hashes only over-serializes.
	hashLock := &e.hashLocks[lockStripe(hash)]
	hashLock.Lock()
	defer hashLock.Unlock()

	e.mu.Lock()
	e.framesAnalyzed++
	e.mu.Unlock()

	if value, ok := e.results.Get(hash); ok {
		result := value.(cachedResult)
		if e.now().Before(result.expiresAt) {
			e.mu.Lock()
			e.cacheHits++
			e.mu.Unlock()
			return result.detection
		}
		e.results.Remove(hash)
	}

	start := e.now()
	detection := e.runLadder(&FrameContext{Frame: frame, Hash: hash, Region: region, OCR: e.ocr})
	elapsed := e.now().Sub(start)

	if detection != nil {
		detection.Timestamp = e.now()
		detection.FrameHash = hash
		detection.Region = region
	}

	size := int64(64)
	if detection != nil {
		size = detection.sizeBytes()
	}
	e.results.Put(hash, cachedResult{detection: detection, expiresAt: e.now().Add(e.ttl)}, size)

	e.mu.Lock()
	e.totalDuration += elapsed
	if detection != nil {
		e.detections++
		e.perMethod[detection.Method]++
		e.history = append(e.history, detection)
		if len(e.history) > e.historySize {
			e.history = e.history[len(e.history)-e.historySize:]
		}
	}
	e.mu.Unlock()

	return detection
}

func lockStripe(hash string) int {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return int(h.Sum32() % hashLockStripes)
}

func (e *Engine) runLadder(ctx *FrameContext) *Detection {
	for _, strategy := range e.strategies {
		detection, err := e.runStrategy(strategy, ctx)
		if err != nil {
			e.mu.Lock()
			e.strategyErrors++
			e.mu.Unlock()
			e.logger.ErrorWithFields("strategy failed", err,
				map[string]interface{}{"strategy": strategy.Name()})
			continue
		}
		if detection == nil {
			continue
		}
		if detection.Confidence >= e.threshold {
			detection.Method = strategy.Name()
			return detection
		}
	}
	return nil
}

func (e *Engine) runStrategy(strategy Strategy, ctx *FrameContext) (det *Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			det = nil
			err = &strategyPanic{strategy: strategy.Name(), value: r}
		}
	}()
	return strategy.Detect(ctx)
}

type strategyPanic struct {
	strategy string
	value    interface{}
}

func (p *strategyPanic) Error() string {
	return "strategy " + p.strategy + " panicked"
}

// IsDuplicate reports whether a detection repeats the last reported
// one: under two seconds apart with near-identical word sets. A novel
// detection becomes the new reference.
func (e *Engine) IsDuplicate(detection *Detection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	last := e.lastReported
	if last != nil &&
		detection.Timestamp.Sub(last.Timestamp) < duplicateWindow &&
		wordJaccard(detection.QuestionText, last.QuestionText) > duplicateSimilarity {
		e.duplicates++
		return true
	}

	e.lastReported = detection
	return false
}

// wordJaccard is the intersection-over-union of the two word sets,
// case folded.
func wordJaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,:;!?\"'")] = struct{}{}
	}
	delete(set, "")
	return set
}

// History returns a copy of the recent detections, oldest first.
func (e *Engine) History() []*Detection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Detection, len(e.history))
	copy(out, e.history)
	return out
}

// ClearCache drops all memoized results. Registered as a throttle hook
// so budget pressure frees detection memory first.
func (e *Engine) ClearCache() {
	e.results.Clear()
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	perMethod := make(map[string]int64, len(e.perMethod))
	for k, v := range e.perMethod {
		perMethod[k] = v
	}

	m := Metrics{
		FramesAnalyzed: e.framesAnalyzed,
		CacheHits:      e.cacheHits,
		Detections:     e.detections,
		Duplicates:     e.duplicates,
		StrategyErrors: e.strategyErrors,
		PerMethod:      perMethod,
		Cache:          e.results.Stats(),
	}
	analyzed := e.framesAnalyzed - e.cacheHits
	if analyzed > 0 {
		m.AverageDuration = e.totalDuration / time.Duration(analyzed)
	}
	return m
}
