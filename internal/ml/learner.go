package ml

import (
	"fmt"
	"math/rand"
	"sync"

	"quizsense/internal/logging"
)

// Learner feeds uncertain predictions back into the ensemble. Samples
// accumulate in a bounded buffer; when a full batch is present the
// whole scorer set is retrained on a clone and swapped in only if the
// holdout validation passes. A failed retrain never touches the live
// model.
type Learner struct {
	logger   *logging.Logger
	ensemble *Ensemble

	buffer    []TrainingSample
	maxBuffer int
	batchSize int

	uncertaintyThreshold float64
	trainRatio           float64
	minValAccuracy       float64

	retrains int64
	persist  func(scorers []Scorer, samples []TrainingSample) error

	submit        func(retrain func() error) error
	retrainQueued bool

	rng *rand.Rand
	mu  sync.Mutex
}

// LearnerOption configures a Learner.
type LearnerOption func(*Learner)

// WithBatchSize overrides the retrain batch size.
func WithBatchSize(n int) LearnerOption {
	return func(l *Learner) { l.batchSize = n }
}

// WithUncertaintyThreshold overrides the sampling threshold.
func WithUncertaintyThreshold(t float64) LearnerOption {
	return func(l *Learner) { l.uncertaintyThreshold = t }
}

// WithPersist registers a hook run after every successful retrain,
// receiving the freshly trained scorers and the batch they learned
// from.
func WithPersist(fn func(scorers []Scorer, samples []TrainingSample) error) LearnerOption {
	return func(l *Learner) { l.persist = fn }
}

// WithRetrainSubmit registers a hook that runs retrains elsewhere
// (typically a worker pool), so a full batch never blocks the
// observing goroutine. The hook's error means the retrain was not
// dispatched; the learner will try again on the next uncertain sample.
func WithRetrainSubmit(fn func(retrain func() error) error) LearnerOption {
	return func(l *Learner) { l.submit = fn }
}

// NewLearner creates an active learner bound to an ensemble.
func NewLearner(ensemble *Ensemble, opts ...LearnerOption) *Learner {
	l := &Learner{
		logger:               logging.NewLogger("ActiveLearning"),
		ensemble:             ensemble,
		maxBuffer:            500,
		batchSize:            50,
		uncertaintyThreshold: 0.3,
		trainRatio:           0.8,
		minValAccuracy:       0.5,
		rng:                  rand.New(rand.NewSource(41)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe considers one labelled prediction for the training buffer.
// Confident predictions are discarded; uncertain ones are queued, and
// a full batch triggers a retrain. Returns whether the sample was
// queued.
func (l *Learner) Observe(pred Prediction, sample TrainingSample) bool {
	if pred.Uncertainty <= l.uncertaintyThreshold {
		return false
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, sample)
	if len(l.buffer) > l.maxBuffer {
		l.buffer = l.buffer[len(l.buffer)-l.maxBuffer:]
	}
	ready := len(l.buffer) >= l.batchSize
	l.mu.Unlock()

	if ready {
		l.dispatchRetrain()
	}
	return true
}

// dispatchRetrain hands a retrain to the submit hook, or runs it inline
// when none is wired. At most one dispatched retrain is in flight; a
// rejected dispatch clears the slot so a later batch can retry.
func (l *Learner) dispatchRetrain() {
	if l.submit == nil {
		if err := l.Retrain(); err != nil {
			l.logger.Error("retrain failed, keeping live model", err)
		}
		return
	}

	l.mu.Lock()
	if l.retrainQueued {
		l.mu.Unlock()
		return
	}
	l.retrainQueued = true
	l.mu.Unlock()

	err := l.submit(func() error {
		defer func() {
			l.mu.Lock()
			l.retrainQueued = false
			l.mu.Unlock()
		}()
		if err := l.Retrain(); err != nil {
			l.logger.Error("retrain failed, keeping live model", err)
			return err
		}
		return nil
	})
	if err != nil {
		l.mu.Lock()
		l.retrainQueued = false
		l.mu.Unlock()
		l.logger.Error("retrain dispatch rejected", err)
	}
}

// Seed loads previously persisted samples into the buffer without
// triggering a retrain.
func (l *Learner) Seed(samples []TrainingSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, samples...)
	if len(l.buffer) > l.maxBuffer {
		l.buffer = l.buffer[len(l.buffer)-l.maxBuffer:]
	}
}

// Retrain fits a cloned scorer set on the buffered samples and swaps
// it into the ensemble if holdout validation passes. On any failure
// the live model is left untouched and the buffer is kept for the next
// attempt.
func (l *Learner) Retrain() error {
	l.mu.Lock()
	if len(l.buffer) < 2 {
		l.mu.Unlock()
		return fmt.Errorf("not enough samples to retrain: %d", len(l.buffer))
	}
	batch := make([]TrainingSample, len(l.buffer))
	copy(batch, l.buffer)
	l.mu.Unlock()

	l.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
	split := int(float64(len(batch)) * l.trainRatio)
	if split < 1 {
		split = 1
	}
	if split == len(batch) {
		split = len(batch) - 1
	}
	train, holdout := batch[:split], batch[split:]

	live := l.ensemble.Scorers()
	clones := make([]Scorer, len(live))
	for i, scorer := range live {
		clones[i] = scorer.Clone()
	}

	for _, clone := range clones {
		if err := clone.Fit(train); err != nil {
			// Image scorers legitimately see no samples when frames
			// were unavailable; anything else aborts the retrain.
			if err == ErrNoSamples && clone.Kind() == KindImage {
				continue
			}
			return fmt.Errorf("fit %s: %w", clone.Name(), err)
		}
	}

	accuracy := l.validate(clones, holdout)
	if accuracy < l.minValAccuracy {
		return fmt.Errorf("validation accuracy %.2f below %.2f", accuracy, l.minValAccuracy)
	}

	l.ensemble.swap(clones)

	l.mu.Lock()
	l.buffer = l.buffer[:0]
	l.retrains++
	l.mu.Unlock()

	l.logger.InfoWithFields("retrained ensemble", map[string]interface{}{
		"samples":  len(batch),
		"accuracy": accuracy,
	})

	if l.persist != nil {
		if err := l.persist(clones, batch); err != nil {
			l.logger.Error("persisting trained model failed", err)
		}
	}
	return nil
}

// validate scores the holdout set with the candidate scorers, combined
// with the live weight table.
func (l *Learner) validate(scorers []Scorer, holdout []TrainingSample) float64 {
	if len(holdout) == 0 {
		return 0
	}
	weights := l.ensemble.Weights()

	correct := 0
	for _, sample := range holdout {
		weightedSum, weightTotal := 0.0, 0.0
		for _, scorer := range scorers {
			if !scorer.Ready() {
				continue
			}
			score, ok := scorer.Score(sample.Features, sample.ImageVec)
			if !ok {
				continue
			}
			w := weights[scorer.Name()]
			weightedSum += w * score
			weightTotal += w
		}
		if weightTotal == 0 {
			continue
		}
		if (weightedSum/weightTotal > 0.5) == sample.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(holdout))
}

// Pending returns the number of buffered samples.
func (l *Learner) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Retrains returns how many successful retrains have happened.
func (l *Learner) Retrains() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retrains
}
