package ml

import (
	"errors"
	"image"
	"sync"

	"quizsense/internal/logging"
)

// ErrStateMismatch is returned when persisted scorer state does not fit
// the scorer it is loaded into.
var ErrStateMismatch = errors.New("scorer state does not match configuration")

// DefaultWeights is the relative influence of each scorer. Empirically
// tuned; the config file can override it.
var DefaultWeights = map[string]float64{
	"forest":      0.20,
	"boosted":     0.20,
	"mlp":         0.20,
	"feature_net": 0.25,
	"image_net":   0.15,
}

// Prediction is the ensemble's verdict on one candidate.
type Prediction struct {
	Score       float64
	IsQuestion  bool
	Uncertainty float64
	// ScorerScores holds the raw score of every scorer that voted.
	ScorerScores map[string]float64
	// Fallback is set when no scorer was trained and the heuristic
	// feature carried the prediction alone.
	Fallback bool
}

// Ensemble combines the scorers into one weighted prediction. The
// scorer set is swapped atomically after a successful retrain; readers
// never observe a half-trained model.
type Ensemble struct {
	logger  *logging.Logger
	scorers []Scorer
	weights map[string]float64
	mu      sync.RWMutex
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithWeights overrides the default scorer weights.
func WithWeights(weights map[string]float64) EnsembleOption {
	return func(e *Ensemble) {
		for name, w := range weights {
			e.weights[name] = w
		}
	}
}

// WithScorers replaces the default scorer set.
func WithScorers(scorers ...Scorer) EnsembleOption {
	return func(e *Ensemble) { e.scorers = scorers }
}

// NewEnsemble creates an ensemble with the full default scorer set,
// all untrained.
func NewEnsemble(opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		logger: logging.NewLogger("EnsembleClassifier"),
		scorers: []Scorer{
			NewForest(),
			NewBoosted(),
			NewMLP(),
			NewFeatureNet(),
			NewImageNet(),
		},
		weights: make(map[string]float64, len(DefaultWeights)),
	}
	for name, w := range DefaultWeights {
		e.weights[name] = w
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Predict scores a candidate. The result is the weighted mean over the
// scorers that are trained and did not abstain, so it stays inside the
// convex hull of their scores. With no trained scorer the heuristic
// feature is the score.
func (e *Ensemble) Predict(feat Features, frame *image.RGBA) Prediction {
	imageVec := PooledPixels(frame)

	e.mu.RLock()
	scorers := e.scorers
	weights := e.weights
	e.mu.RUnlock()

	perScorer := make(map[string]float64)
	weightedSum, weightTotal := 0.0, 0.0

	for _, scorer := range scorers {
		if !scorer.Ready() {
			continue
		}
		score, ok := scorer.Score(feat, imageVec)
		if !ok {
			continue
		}
		w := weights[scorer.Name()]
		if w <= 0 {
			continue
		}
		perScorer[scorer.Name()] = score
		weightedSum += w * score
		weightTotal += w
	}

	pred := Prediction{ScorerScores: perScorer}
	if weightTotal > 0 {
		pred.Score = weightedSum / weightTotal
	} else {
		pred.Score = feat.Heuristic
		pred.Fallback = true
	}
	pred.Score = clamp01(pred.Score)
	pred.IsQuestion = pred.Score > 0.5
	pred.Uncertainty = uncertainty(pred.Score)
	return pred
}

// uncertainty peaks at 1 when the score sits on the decision boundary
// and falls to 0 at either extreme.
func uncertainty(score float64) float64 {
	u := 1 - 2*absFloat(score-0.5)
	return clamp01(u)
}

// Scorers returns the live scorer set.
func (e *Ensemble) Scorers() []Scorer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scorers
}

// Weights returns a copy of the active weight table.
func (e *Ensemble) Weights() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.weights))
	for name, w := range e.weights {
		out[name] = w
	}
	return out
}

// swap installs a fully trained scorer set in one step.
func (e *Ensemble) swap(scorers []Scorer) {
	e.mu.Lock()
	e.scorers = scorers
	e.mu.Unlock()
	e.logger.Info("ensemble model swapped")
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
