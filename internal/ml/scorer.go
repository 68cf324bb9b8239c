package ml

import (
	"image"
	"time"

	"quizsense/internal/vision"
)

// ScorerKind separates feature-vector scorers from pixel scorers.
type ScorerKind string

const (
	KindFeature ScorerKind = "feature"
	KindImage   ScorerKind = "image"
)

// TrainingSample is one labelled observation. ImageVec is present only
// when a frame was available at observation time.
type TrainingSample struct {
	Features  Features  `json:"features"`
	ImageVec  []float64 `json:"image_vec,omitempty"`
	Label     bool      `json:"label"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Scorer is one member of the ensemble. Score returns a probability in
// [0, 1] and false when the scorer abstains (image scorers abstain when
// no frame accompanies the features). Fit trains in place.
type Scorer interface {
	Name() string
	Kind() ScorerKind
	Ready() bool
	Score(f Features, imageVec []float64) (float64, bool)
	Fit(samples []TrainingSample) error
	Clone() Scorer
	StateJSON() ([]byte, error)
	LoadState(data []byte) error
}

// ImageVecDim is the length of the pooled pixel vector.
const ImageVecDim = 64

// PooledPixels reduces a frame to an 8x8 grid of normalized luminance
// values, the input representation of the image scorer.
func PooledPixels(frame *image.RGBA) []float64 {
	if frame == nil {
		return nil
	}
	small := vision.Resize(frame, 8, 8)
	vec := make([]float64, ImageVecDim)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			idx := y*small.Stride + x*4
			lum := (int(small.Pix[idx])*299 + int(small.Pix[idx+1])*587 + int(small.Pix[idx+2])*114) / 1000
			vec[y*8+x] = float64(lum) / 255
		}
	}
	return vec
}
