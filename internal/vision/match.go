// Package vision contains the pure-image operations the perception
// pipeline is built from: template matching, frame transforms,
// perceptual hashing, frame differencing and coarse layout analysis.
// Everything operates on *image.RGBA with no external dependencies.
package vision

import (
	"image"
	"math"
)

// MatchMethod selects the template matching algorithm.
type MatchMethod int

const (
	// MatchSAD - sum of absolute differences (fastest)
	MatchSAD MatchMethod = iota
	// MatchSSD - sum of squared differences (balanced)
	MatchSSD
	// MatchNCC - normalized cross-correlation (most accurate)
	MatchNCC
)

// MatchConfig configures template matching.
type MatchConfig struct {
	Method       MatchMethod
	Threshold    float64          // 0.0-1.0, higher = more strict
	SearchRegion *image.Rectangle // optional: limit search area
}

// DefaultMatchConfig returns recommended settings.
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Method:    MatchSSD,
		Threshold: 0.85,
	}
}

// MatchResult is the outcome of a template search.
type MatchResult struct {
	Found      bool
	Location   image.Point
	Confidence float64
}

// FindTemplate searches haystack for the best occurrence of needle.
func FindTemplate(haystack, needle *image.RGBA, config *MatchConfig) *MatchResult {
	if config == nil {
		config = DefaultMatchConfig()
	}

	hb := haystack.Bounds()
	nb := needle.Bounds()
	nw, nh := nb.Dx(), nb.Dy()

	if nw > hb.Dx() || nh > hb.Dy() {
		return &MatchResult{Found: false}
	}

	search := hb
	if config.SearchRegion != nil {
		search = config.SearchRegion.Intersect(hb)
		if search.Empty() {
			return &MatchResult{Found: false}
		}
	}

	maxY := search.Max.Y - nh
	maxX := search.Max.X - nw
	if maxY < search.Min.Y || maxX < search.Min.X {
		return &MatchResult{Found: false}
	}

	best := 0.0
	bestLoc := image.Point{}
	found := false

	for y := search.Min.Y; y <= maxY; y++ {
		for x := search.Min.X; x <= maxX; x++ {
			score := matchScore(haystack, needle, x, y, config.Method)
			if score > best {
				best = score
				bestLoc = image.Point{X: x, Y: y}
				if score >= config.Threshold {
					found = true
				}
			}
		}
	}

	return &MatchResult{Found: found, Location: bestLoc, Confidence: best}
}

func matchScore(haystack, needle *image.RGBA, x, y int, method MatchMethod) float64 {
	nb := needle.Bounds()
	w, h := nb.Dx(), nb.Dy()

	switch method {
	case MatchSAD:
		return matchSAD(haystack, needle, x, y, w, h)
	case MatchNCC:
		return matchNCC(haystack, needle, x, y, w, h)
	default:
		return matchSSD(haystack, needle, x, y, w, h)
	}
}

func matchSAD(haystack, needle *image.RGBA, x, y, w, h int) float64 {
	var sad uint64
	for ny := 0; ny < h; ny++ {
		for nx := 0; nx < w; nx++ {
			hIdx := (y+ny)*haystack.Stride + (x+nx)*4
			nIdx := ny*needle.Stride + nx*4
			sad += uint64(absInt(int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])))
			sad += uint64(absInt(int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])))
			sad += uint64(absInt(int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])))
		}
	}
	maxSAD := float64(w * h * 3 * 255)
	return 1.0 - float64(sad)/maxSAD
}

func matchSSD(haystack, needle *image.RGBA, x, y, w, h int) float64 {
	var ssd uint64
	for ny := 0; ny < h; ny++ {
		for nx := 0; nx < w; nx++ {
			hIdx := (y+ny)*haystack.Stride + (x+nx)*4
			nIdx := ny*needle.Stride + nx*4
			dr := int(haystack.Pix[hIdx]) - int(needle.Pix[nIdx])
			dg := int(haystack.Pix[hIdx+1]) - int(needle.Pix[nIdx+1])
			db := int(haystack.Pix[hIdx+2]) - int(needle.Pix[nIdx+2])
			ssd += uint64(dr*dr + dg*dg + db*db)
		}
	}
	maxSSD := float64(w * h * 3 * 255 * 255)
	return 1.0 - float64(ssd)/maxSSD
}

func matchNCC(haystack, needle *image.RGBA, x, y, w, h int) float64 {
	var sumH, sumN, sumHN, sumHH, sumNN float64
	n := float64(w * h * 3)

	for ny := 0; ny < h; ny++ {
		for nx := 0; nx < w; nx++ {
			hIdx := (y+ny)*haystack.Stride + (x+nx)*4
			nIdx := ny*needle.Stride + nx*4
			for c := 0; c < 3; c++ {
				hv := float64(haystack.Pix[hIdx+c])
				nv := float64(needle.Pix[nIdx+c])
				sumH += hv
				sumN += nv
				sumHN += hv * nv
				sumHH += hv * hv
				sumNN += nv * nv
			}
		}
	}

	numerator := sumHN - sumH*sumN/n
	denomH := math.Sqrt(sumHH - sumH*sumH/n)
	denomN := math.Sqrt(sumNN - sumN*sumN/n)
	if denomH == 0 || denomN == 0 {
		return 0
	}

	// Correlation is in [-1, 1]; normalize to [0, 1].
	return (numerator/(denomH*denomN) + 1.0) / 2.0
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
