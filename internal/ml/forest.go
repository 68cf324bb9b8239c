package ml

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
)

// ErrNoSamples is returned when Fit is called with nothing to learn from.
var ErrNoSamples = errors.New("no training samples")

// treeNode is one node of a decision tree. Leaves carry the positive
// class probability of the samples that reached them.
type treeNode struct {
	Leaf      bool      `json:"leaf"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Prob      float64   `json:"prob,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
}

func (n *treeNode) predict(vec []float64) float64 {
	for !n.Leaf {
		if vec[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

// Forest is a bagged ensemble of depth-limited decision trees over the
// feature vector. Each tree trains on a bootstrap resample and splits
// on a random subset of features.
type Forest struct {
	numTrees int
	maxDepth int
	minLeaf  int

	trees []*treeNode
	rng   *rand.Rand
	mu    sync.RWMutex
}

// NewForest creates an untrained forest with default sizing.
func NewForest() *Forest {
	return &Forest{
		numTrees: 10,
		maxDepth: 5,
		minLeaf:  2,
		rng:      rand.New(rand.NewSource(17)),
	}
}

func (f *Forest) Name() string     { return "forest" }
func (f *Forest) Kind() ScorerKind { return KindFeature }

func (f *Forest) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.trees) > 0
}

// Score averages the leaf probabilities across all trees.
func (f *Forest) Score(feat Features, _ []float64) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.trees) == 0 {
		return 0, false
	}

	vec := feat.Vector()
	sum := 0.0
	for _, tree := range f.trees {
		sum += tree.predict(vec)
	}
	return sum / float64(len(f.trees)), true
}

// Fit grows the forest from scratch on the given samples.
func (f *Forest) Fit(samples []TrainingSample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	vecs := make([][]float64, len(samples))
	labels := make([]bool, len(samples))
	for i, s := range samples {
		vecs[i] = s.Features.Vector()
		labels[i] = s.Label
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	trees := make([]*treeNode, f.numTrees)
	for t := 0; t < f.numTrees; t++ {
		idx := make([]int, len(samples))
		for i := range idx {
			idx[i] = f.rng.Intn(len(samples))
		}
		trees[t] = f.grow(vecs, labels, idx, 0)
	}
	f.trees = trees
	return nil
}

func (f *Forest) grow(vecs [][]float64, labels []bool, idx []int, depth int) *treeNode {
	positives := 0
	for _, i := range idx {
		if labels[i] {
			positives++
		}
	}
	prob := float64(positives) / float64(len(idx))

	if depth >= f.maxDepth || len(idx) < 2*f.minLeaf || positives == 0 || positives == len(idx) {
		return &treeNode{Leaf: true, Prob: prob}
	}

	feature, threshold, ok := f.bestSplit(vecs, labels, idx)
	if !ok {
		return &treeNode{Leaf: true, Prob: prob}
	}

	var left, right []int
	for _, i := range idx {
		if vecs[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < f.minLeaf || len(right) < f.minLeaf {
		return &treeNode{Leaf: true, Prob: prob}
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      f.grow(vecs, labels, left, depth+1),
		Right:     f.grow(vecs, labels, right, depth+1),
	}
}

// bestSplit searches a random sqrt(d) feature subset for the split with
// the lowest weighted gini impurity.
func (f *Forest) bestSplit(vecs [][]float64, labels []bool, idx []int) (int, float64, bool) {
	dims := len(vecs[0])
	subset := f.rng.Perm(dims)[:int(math.Ceil(math.Sqrt(float64(dims))))]

	bestGini := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for _, feature := range subset {
		for _, i := range idx {
			threshold := vecs[i][feature]
			lPos, lTot, rPos, rTot := 0, 0, 0, 0
			for _, j := range idx {
				if vecs[j][feature] <= threshold {
					lTot++
					if labels[j] {
						lPos++
					}
				} else {
					rTot++
					if labels[j] {
						rPos++
					}
				}
			}
			if lTot == 0 || rTot == 0 {
				continue
			}
			g := weightedGini(lPos, lTot, rPos, rTot)
			if g < bestGini {
				bestGini = g
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func weightedGini(lPos, lTot, rPos, rTot int) float64 {
	gini := func(pos, tot int) float64 {
		p := float64(pos) / float64(tot)
		return 2 * p * (1 - p)
	}
	total := float64(lTot + rTot)
	return float64(lTot)/total*gini(lPos, lTot) + float64(rTot)/total*gini(rPos, rTot)
}

// Clone returns a fresh untrained forest with the same configuration.
func (f *Forest) Clone() Scorer {
	return &Forest{
		numTrees: f.numTrees,
		maxDepth: f.maxDepth,
		minLeaf:  f.minLeaf,
		rng:      rand.New(rand.NewSource(f.rng.Int63())),
	}
}

type forestState struct {
	Trees []*treeNode `json:"trees"`
}

// StateJSON serializes the grown trees.
func (f *Forest) StateJSON() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(forestState{Trees: f.trees})
}

// LoadState restores previously grown trees.
func (f *Forest) LoadState(data []byte) error {
	var state forestState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	f.mu.Lock()
	f.trees = state.Trees
	f.mu.Unlock()
	return nil
}
