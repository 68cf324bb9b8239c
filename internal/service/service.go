// Package service runs the perception loop: capture a frame, run the
// detection ladder, suppress duplicates and hand confirmed questions to
// the automation collaborator, all inside the operator's resource
// budget.
package service

import (
	"fmt"
	"sync"
	"time"

	"quizsense/internal/cache"
	"quizsense/internal/capture"
	"quizsense/internal/config"
	"quizsense/internal/detect"
	"quizsense/internal/events"
	"quizsense/internal/logging"
	"quizsense/internal/ml"
	"quizsense/internal/resource"
	"quizsense/internal/sched"
	"quizsense/internal/store"
)

// Automation receives confirmed question detections. What it does with
// them (research, input synthesis) is outside the perception core.
type Automation interface {
	HandleQuestion(detection *detect.Detection) error
}

// Metrics merges the counters of every subsystem.
type Metrics struct {
	Mode              resource.Mode
	Uptime            time.Duration
	QuestionsAnswered int64
	ConsecutiveErrors int
	Capture           capture.Stats
	Detection         detect.Metrics
	Pools             map[string]sched.Stats
	MemoCache         cache.Stats
	Throttles         int64
	PendingSamples    int
	Retrains          int64
}

// Service owns the perception loop and the lifecycle of every
// subsystem under it.
type Service struct {
	logger *logging.Logger
	cfg    *config.Config

	monitor  *resource.Monitor
	frames   *capture.Capture
	engine   *detect.Engine
	pools    *sched.PoolSet
	timer    *sched.Timer
	bus      *events.DefaultEventBus
	db       *store.DB
	ensemble *ml.Ensemble
	learner  *ml.Learner

	automation Automation

	startedAt         time.Time
	questionsAnswered int64
	consecutiveErrors int
	fatalErr          error

	autosave *sched.Cancellation

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// Option overrides a service collaborator before assembly.
type Option func(*Service)

// WithMonitor substitutes the resource monitor, letting tests drive
// mode resolution and throttling with injected samplers.
func WithMonitor(m *resource.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// New assembles a service from configuration and the injected
// externals. Persistence is best-effort: a failed database open
// degrades to a memory-only run.
func New(cfg *config.Config, grabber capture.Grabber, ocr detect.OCR, automation Automation, opts ...Option) (*Service, error) {
	if grabber == nil {
		return nil, fmt.Errorf("capture grabber is required")
	}
	if automation == nil {
		return nil, fmt.Errorf("automation collaborator is required")
	}

	s := &Service{
		logger:     logging.NewLogger("PerceptionService"),
		cfg:        cfg,
		automation: automation,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.monitor == nil {
		s.monitor = resource.NewMonitor(cfg.Mode)
	}
	s.pools = sched.NewPoolSet(s.monitor.CurrentMode())
	s.timer = sched.NewTimer(s.pools)
	s.bus = events.NewEventBus(64)

	if cfg.DatabasePath != "" {
		db, err := store.Open(cfg.DatabasePath)
		if err != nil {
			s.logger.Error("database unavailable, running without persistence", err)
		} else {
			s.db = db
		}
	}

	s.buildPipeline(ocr)
	s.frames = capture.NewCapture(grabber, s.monitor)
	s.wire()
	return s, nil
}

// buildPipeline assembles the classifier, learner and detection engine
// from the detection config.
func (s *Service) buildPipeline(ocr detect.OCR) {
	var ensembleOpts []ml.EnsembleOption
	if len(s.cfg.Detection.EnsembleWeights) > 0 {
		ensembleOpts = append(ensembleOpts, ml.WithWeights(s.cfg.Detection.EnsembleWeights))
	}
	s.ensemble = ml.NewEnsemble(ensembleOpts...)

	learnerOpts := []ml.LearnerOption{
		ml.WithBatchSize(s.cfg.Detection.RetrainBatchSize),
		ml.WithUncertaintyThreshold(s.cfg.Detection.UncertaintyThreshold),
		// Retrains run on the cpu pool so a full batch never stalls the
		// capture cadence.
		ml.WithRetrainSubmit(func(retrain func() error) error {
			_, err := s.pools.Submit(sched.Task{
				Name:     "retrain_ensemble",
				Kind:     sched.KindCPU,
				Priority: sched.PriorityNormal,
				Fn:       retrain,
			})
			return err
		}),
	}
	if s.db != nil {
		learnerOpts = append(learnerOpts, ml.WithPersist(func(scorers []ml.Scorer, samples []ml.TrainingSample) error {
			if err := s.db.SaveTrainingSamples(samples); err != nil {
				return err
			}
			s.bus.PublishAsync(events.NewRetrainCompletedEvent(len(samples)))
			return store.SaveScorerStates(s.cfg.WeightsDir, scorers)
		}))
	}
	s.learner = ml.NewLearner(s.ensemble, learnerOpts...)

	if s.db != nil {
		if err := store.LoadScorerStates(s.cfg.WeightsDir, s.ensemble.Scorers()); err != nil {
			s.logger.Error("loading persisted model failed, starting untrained", err)
		}
		if samples, err := s.db.LoadTrainingSamples(s.cfg.Detection.RetrainBatchSize); err == nil {
			s.learner.Seed(samples)
		}
	}

	templateStrategy := detect.NewTemplateStrategy()
	if s.cfg.TemplatesDir != "" {
		if templates, err := detect.LoadTemplates(s.cfg.TemplatesDir); err != nil {
			s.logger.Debugf("no templates loaded from %s: %v", s.cfg.TemplatesDir, err)
		} else {
			for _, t := range templates {
				templateStrategy.AddTemplate(t)
			}
			s.logger.Infof("loaded %d question templates", len(templates))
		}
	}

	s.engine = detect.NewEngine(ocr,
		detect.WithThreshold(s.cfg.Detection.ConfidenceThreshold),
		detect.WithCacheTTL(s.cfg.Detection.CacheTTL()),
		detect.WithStrategies(
			templateStrategy,
			detect.NewTextPatternStrategy(s.cfg.Detection.ContextKeywords),
			detect.NewUIStructureStrategy(),
			detect.NewMLStrategy(s.ensemble, s.learner),
		))
}

// wire connects the cross-subsystem notifications.
func (s *Service) wire() {
	s.monitor.RegisterModeChange(func(mode resource.Mode) {
		s.pools.OnModeChange(mode)
		s.bus.PublishAsync(events.NewModeChangedEvent(string(mode)))
	})
	s.monitor.RegisterThrottleHook(func() {
		s.engine.ClearCache()
		profile, _ := s.monitor.CurrentProfile()
		s.bus.PublishAsync(events.NewThrottleAppliedEvent(profile.CPUPercent, profile.MemoryMB))
	})
}

// Start launches the monitor, the timer and the perception loop.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.monitor.Start()
	s.timer.Start()

	// Periodic model autosave keeps a crash from losing a trained
	// ensemble that never hit another retrain.
	s.autosave = s.timer.ScheduleRecurring(sched.Task{
		Name:     "model_autosave",
		Kind:     sched.KindIO,
		Priority: sched.PriorityLow,
		Fn: func() error {
			if s.db == nil {
				return nil
			}
			return store.SaveScorerStates(s.cfg.WeightsDir, s.ensemble.Scorers())
		},
	}, 5*time.Minute)

	s.wg.Add(1)
	go s.run()

	s.bus.PublishAsync(events.NewSessionStartedEvent(string(s.monitor.CurrentMode())))
	s.logger.Infof("started in %s mode", s.monitor.CurrentMode())
	return nil
}

// Stop shuts everything down best-effort with bounded waits.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	if s.autosave != nil {
		s.autosave.Cancel()
	}
	s.timer.Stop()
	s.pools.Shutdown(5 * time.Second)
	s.monitor.Stop()
	s.bus.Stop()

	if s.db != nil {
		if err := store.SaveScorerStates(s.cfg.WeightsDir, s.ensemble.Scorers()); err != nil {
			s.logger.Error("final model save failed", err)
		}
		s.db.Close()
	}

	s.logger.Info("stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if reason := s.sessionLimitReached(); reason != "" {
			s.logger.Infof("session limit reached: %s", reason)
			s.bus.PublishAsync(events.NewSessionEndedEvent(reason, int(s.QuestionsAnswered())))
			return
		}

		if fatal := s.step(); fatal {
			return
		}

		s.sleep(s.monitor.CurrentLimits().CaptureInterval)
	}
}

// step runs one capture/detect/dispatch pass. It returns true only on
// the fatal path: too many consecutive pipeline errors.
func (s *Service) step() bool {
	frame, err := s.frames.Capture(nil)
	if err != nil {
		return s.recordError(fmt.Errorf("capture: %w", err))
	}

	detection := s.engine.Detect(frame, nil)
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()

	if detection == nil {
		// Indistinguishable from "no question present"; not an error.
		return false
	}

	if s.engine.IsDuplicate(detection) {
		s.bus.PublishAsync(events.NewDetectionDuplicateEvent(detection.QuestionText))
		return false
	}

	s.dispatch(detection)
	return false
}

// dispatch hands the detection to the automation collaborator and logs
// it, both off the perception loop.
func (s *Service) dispatch(detection *detect.Detection) {
	s.mu.Lock()
	s.questionsAnswered++
	s.mu.Unlock()

	s.bus.PublishAsync(events.NewDetectionFoundEvent(
		detection.QuestionText, detection.Method, detection.Confidence, len(detection.Options)))

	if _, err := s.pools.Submit(sched.Task{
		Name:     "handle_question",
		Priority: sched.PriorityHigh,
		Fn:       func() error { return s.automation.HandleQuestion(detection) },
		Callback: func(err error) {
			if err != nil {
				s.logger.Error("automation handler failed", err)
			}
		},
	}); err != nil {
		s.logger.Error("dispatch rejected", err)
	}

	if s.db != nil {
		if _, err := s.pools.Submit(sched.Task{
			Name:     "log_detection",
			Kind:     sched.KindIO,
			Priority: sched.PriorityLow,
			Fn:       func() error { return s.db.SaveDetection(detection) },
		}); err != nil {
			s.logger.Error("detection log rejected", err)
		}
	}

	// Pacing between answered questions.
	s.sleep(s.cfg.QuestionPacing)
}

// recordError counts a pipeline error; crossing the consecutive cap is
// the only fatal path.
func (s *Service) recordError(err error) bool {
	s.mu.Lock()
	s.consecutiveErrors++
	count := s.consecutiveErrors
	s.mu.Unlock()

	s.logger.ErrorWithFields("pipeline error", err, map[string]interface{}{
		"consecutive": count,
	})
	s.bus.PublishAsync(events.NewErrorEvent("service", err, nil))

	if count >= s.cfg.MaxConsecutiveErrors {
		s.mu.Lock()
		s.fatalErr = fmt.Errorf("%d consecutive pipeline errors, last: %w", count, err)
		s.mu.Unlock()
		s.logger.Error("too many consecutive errors, stopping", err)
		s.bus.PublishAsync(events.NewSessionEndedEvent("errors", int(s.QuestionsAnswered())))
		return true
	}
	return false
}

func (s *Service) sessionLimitReached() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SessionDuration > 0 && time.Since(s.startedAt) >= s.cfg.SessionDuration {
		return "duration"
	}
	if s.cfg.MaxQuestions > 0 && s.questionsAnswered >= int64(s.cfg.MaxQuestions) {
		return "question_limit"
	}
	return ""
}

// sleep waits for d or until the service stops.
func (s *Service) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

// Err returns the fatal error that stopped the loop, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// QuestionsAnswered returns how many questions were dispatched.
func (s *Service) QuestionsAnswered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionsAnswered
}

// Bus exposes the telemetry bus for external observers.
func (s *Service) Bus() events.EventBus {
	return s.bus
}

// Metrics merges every subsystem's counters into one snapshot.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	answered := s.questionsAnswered
	errs := s.consecutiveErrors
	startedAt := s.startedAt
	s.mu.Unlock()

	m := Metrics{
		Mode:              s.monitor.CurrentMode(),
		QuestionsAnswered: answered,
		ConsecutiveErrors: errs,
		Capture:           s.frames.Stats(),
		Detection:         s.engine.Metrics(),
		Pools:             s.pools.Stats(),
		MemoCache:         s.pools.MemoStats(),
		Throttles:         s.monitor.ThrottleCount(),
		PendingSamples:    s.learner.Pending(),
		Retrains:          s.learner.Retrains(),
	}
	if !startedAt.IsZero() {
		m.Uptime = time.Since(startedAt)
	}
	return m
}
