package ml

import (
	"encoding/json"
	"math"
	"sync"
)

// stump is a one-level decision rule: vec[Feature] > Threshold votes
// Polarity, otherwise -Polarity. Alpha is its boosting weight.
type stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Polarity  float64 `json:"polarity"`
	Alpha     float64 `json:"alpha"`
}

func (s stump) vote(vec []float64) float64 {
	if vec[s.Feature] > s.Threshold {
		return s.Polarity
	}
	return -s.Polarity
}

// Boosted is an adaptively boosted stump ensemble over the feature
// vector. Each round reweights the samples the previous stumps got
// wrong.
type Boosted struct {
	rounds int

	stumps []stump
	mu     sync.RWMutex
}

// NewBoosted creates an untrained boosted ensemble.
func NewBoosted() *Boosted {
	return &Boosted{rounds: 20}
}

func (b *Boosted) Name() string     { return "boosted" }
func (b *Boosted) Kind() ScorerKind { return KindFeature }

func (b *Boosted) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.stumps) > 0
}

// Score maps the normalized voting margin from [-1, 1] into [0, 1].
func (b *Boosted) Score(feat Features, _ []float64) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.stumps) == 0 {
		return 0, false
	}

	vec := feat.Vector()
	margin, total := 0.0, 0.0
	for _, s := range b.stumps {
		margin += s.Alpha * s.vote(vec)
		total += s.Alpha
	}
	if total == 0 {
		return 0.5, true
	}
	return clamp01((margin/total + 1) / 2), true
}

// Fit runs the boosting rounds from scratch.
func (b *Boosted) Fit(samples []TrainingSample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	n := len(samples)
	vecs := make([][]float64, n)
	targets := make([]float64, n)
	for i, s := range samples {
		vecs[i] = s.Features.Vector()
		if s.Label {
			targets[i] = 1
		} else {
			targets[i] = -1
		}
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}

	var stumps []stump
	for round := 0; round < b.rounds; round++ {
		best, bestErr := bestStump(vecs, targets, weights)
		if bestErr >= 0.5 {
			break
		}
		// Floor the error so a perfect stump keeps a finite weight.
		if bestErr < 1e-10 {
			bestErr = 1e-10
		}
		best.Alpha = 0.5 * math.Log((1-bestErr)/bestErr)
		stumps = append(stumps, best)

		total := 0.0
		for i := range weights {
			weights[i] *= math.Exp(-best.Alpha * targets[i] * best.vote(vecs[i]))
			total += weights[i]
		}
		for i := range weights {
			weights[i] /= total
		}

		if bestErr <= 1e-10 {
			break
		}
	}

	if len(stumps) == 0 {
		// No stump beats chance on this batch; a single majority-vote
		// stump keeps the scorer usable.
		stumps = append(stumps, stump{Feature: 0, Threshold: -1, Polarity: majorityPolarity(targets), Alpha: 1})
	}

	b.mu.Lock()
	b.stumps = stumps
	b.mu.Unlock()
	return nil
}

func bestStump(vecs [][]float64, targets, weights []float64) (stump, float64) {
	dims := len(vecs[0])
	best := stump{}
	bestErr := math.Inf(1)

	for feature := 0; feature < dims; feature++ {
		for _, v := range vecs {
			threshold := v[feature]
			for _, polarity := range []float64{1, -1} {
				candidate := stump{Feature: feature, Threshold: threshold, Polarity: polarity}
				err := 0.0
				for i, vec := range vecs {
					if candidate.vote(vec) != targets[i] {
						err += weights[i]
					}
				}
				if err < bestErr {
					bestErr = err
					best = candidate
				}
			}
		}
	}

	return best, bestErr
}

func majorityPolarity(targets []float64) float64 {
	sum := 0.0
	for _, t := range targets {
		sum += t
	}
	if sum >= 0 {
		return 1
	}
	return -1
}

// Clone returns a fresh untrained ensemble with the same round count.
func (b *Boosted) Clone() Scorer {
	return &Boosted{rounds: b.rounds}
}

type boostedState struct {
	Stumps []stump `json:"stumps"`
}

// StateJSON serializes the fitted stumps.
func (b *Boosted) StateJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(boostedState{Stumps: b.stumps})
}

// LoadState restores previously fitted stumps.
func (b *Boosted) LoadState(data []byte) error {
	var state boostedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	b.mu.Lock()
	b.stumps = state.Stumps
	b.mu.Unlock()
	return nil
}
