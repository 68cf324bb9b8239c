package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
)

// FeedForward is a small fully-connected sigmoid network trained with
// stochastic gradient descent. It backs three ensemble members: the
// single-hidden-layer mlp, the deeper featureNet and the imageNet over
// pooled pixels.
type FeedForward struct {
	name   string
	kind   ScorerKind
	sizes  []int
	lr     float64
	epochs int

	weights [][][]float64 // [layer][neuron][input]
	biases  [][]float64   // [layer][neuron]
	ready   bool

	rng *rand.Rand
	mu  sync.RWMutex
}

// NewMLP creates the single-hidden-layer feature scorer.
func NewMLP() *FeedForward {
	return newFeedForward("mlp", KindFeature, []int{FeatureDim, 12, 1})
}

// NewFeatureNet creates the deeper feature scorer.
func NewFeatureNet() *FeedForward {
	return newFeedForward("feature_net", KindFeature, []int{FeatureDim, 16, 8, 1})
}

// NewImageNet creates the pooled-pixel scorer. It abstains whenever a
// sample carries no image vector.
func NewImageNet() *FeedForward {
	return newFeedForward("image_net", KindImage, []int{ImageVecDim, 16, 1})
}

func newFeedForward(name string, kind ScorerKind, sizes []int) *FeedForward {
	n := &FeedForward{
		name:   name,
		kind:   kind,
		sizes:  sizes,
		lr:     0.1,
		epochs: 50,
		rng:    rand.New(rand.NewSource(29)),
	}
	n.initialize()
	return n
}

func (n *FeedForward) initialize() {
	layers := len(n.sizes) - 1
	n.weights = make([][][]float64, layers)
	n.biases = make([][]float64, layers)
	for l := 0; l < layers; l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		scale := 1.0 / math.Sqrt(float64(in))
		n.weights[l] = make([][]float64, out)
		n.biases[l] = make([]float64, out)
		for j := 0; j < out; j++ {
			n.weights[l][j] = make([]float64, in)
			for i := 0; i < in; i++ {
				n.weights[l][j][i] = (n.rng.Float64()*2 - 1) * scale
			}
		}
	}
}

func (n *FeedForward) Name() string     { return n.name }
func (n *FeedForward) Kind() ScorerKind { return n.kind }

func (n *FeedForward) Ready() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ready
}

func (n *FeedForward) input(feat Features, imageVec []float64) []float64 {
	if n.kind == KindImage {
		return imageVec
	}
	return feat.Vector()
}

// Score runs a forward pass. Image scorers abstain without a pixel
// vector; all scorers abstain until trained.
func (n *FeedForward) Score(feat Features, imageVec []float64) (float64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.ready {
		return 0, false
	}

	in := n.input(feat, imageVec)
	if len(in) != n.sizes[0] {
		return 0, false
	}

	activations := n.forward(in)
	return activations[len(activations)-1][0], true
}

// forward returns the activation of every layer, input included.
func (n *FeedForward) forward(in []float64) [][]float64 {
	activations := make([][]float64, len(n.sizes))
	activations[0] = in

	for l := range n.weights {
		out := make([]float64, n.sizes[l+1])
		for j := range out {
			sum := n.biases[l][j]
			for i, w := range n.weights[l][j] {
				sum += w * activations[l][i]
			}
			out[j] = sigmoid(sum)
		}
		activations[l+1] = out
	}
	return activations
}

// Fit trains with plain SGD backpropagation. Samples without the input
// representation this network consumes are skipped.
func (n *FeedForward) Fit(samples []TrainingSample) error {
	type example struct {
		in     []float64
		target float64
	}

	var examples []example
	for _, s := range samples {
		in := n.input(s.Features, s.ImageVec)
		if len(in) != n.sizes[0] {
			continue
		}
		target := 0.0
		if s.Label {
			target = 1
		}
		examples = append(examples, example{in: in, target: target})
	}
	if len(examples) == 0 {
		return ErrNoSamples
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for epoch := 0; epoch < n.epochs; epoch++ {
		for _, idx := range n.rng.Perm(len(examples)) {
			ex := examples[idx]
			activations := n.forward(ex.in)
			n.backprop(activations, ex.target)
		}
	}
	n.ready = true
	return nil
}

func (n *FeedForward) backprop(activations [][]float64, target float64) {
	layers := len(n.weights)

	// Output delta for sigmoid + squared error.
	deltas := make([][]float64, layers)
	out := activations[layers][0]
	deltas[layers-1] = []float64{(out - target) * out * (1 - out)}

	for l := layers - 2; l >= 0; l-- {
		deltas[l] = make([]float64, n.sizes[l+1])
		for j := range deltas[l] {
			sum := 0.0
			for k := range deltas[l+1] {
				sum += n.weights[l+1][k][j] * deltas[l+1][k]
			}
			a := activations[l+1][j]
			deltas[l][j] = sum * a * (1 - a)
		}
	}

	for l := 0; l < layers; l++ {
		for j := range n.weights[l] {
			for i := range n.weights[l][j] {
				n.weights[l][j][i] -= n.lr * deltas[l][j] * activations[l][i]
			}
			n.biases[l][j] -= n.lr * deltas[l][j]
		}
	}
}

// Clone returns a fresh untrained network with the same architecture.
func (n *FeedForward) Clone() Scorer {
	clone := newFeedForward(n.name, n.kind, append([]int(nil), n.sizes...))
	clone.rng = rand.New(rand.NewSource(n.rng.Int63()))
	clone.initialize()
	return clone
}

type feedForwardState struct {
	Sizes   []int         `json:"sizes"`
	Weights [][][]float64 `json:"weights"`
	Biases  [][]float64   `json:"biases"`
}

// StateJSON serializes the trained weights.
func (n *FeedForward) StateJSON() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return json.Marshal(feedForwardState{Sizes: n.sizes, Weights: n.weights, Biases: n.biases})
}

// LoadState restores trained weights. The stored architecture must
// match this network's.
func (n *FeedForward) LoadState(data []byte) error {
	var state feedForwardState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if len(state.Sizes) != len(n.sizes) {
		return ErrStateMismatch
	}
	for i, s := range state.Sizes {
		if s != n.sizes[i] {
			return ErrStateMismatch
		}
	}

	n.mu.Lock()
	n.weights = state.Weights
	n.biases = state.Biases
	n.ready = true
	n.mu.Unlock()
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
