// Package ml implements the weighted classifier ensemble behind the
// ml_classification detection strategy, plus the active-learning loop
// that retrains it from uncertain predictions.
package ml

import (
	"image"
	"strings"
	"unicode"
)

// Question-leading words checked by the feature extractor.
var questionWords = []string{
	"what", "which", "who", "whom", "whose", "when", "where", "why", "how",
	"is", "are", "was", "were", "do", "does", "did", "can", "could",
	"should", "would",
}

// Features is the fixed 10-dimensional description of a candidate
// question. All components are normalized into [0, 1] so every scorer
// sees the same scale.
type Features struct {
	Length          float64
	WordCount       float64
	HasQuestionMark float64
	HasQuestionWord float64
	OptionCount     float64
	Heuristic       float64
	RegionArea      float64
	TextDensity     float64
	CapitalRatio    float64
	NumericRatio    float64
}

// FeatureDim is the length of the feature vector.
const FeatureDim = 10

// Vector flattens the features in declaration order.
func (f Features) Vector() []float64 {
	return []float64{
		f.Length, f.WordCount, f.HasQuestionMark, f.HasQuestionWord,
		f.OptionCount, f.Heuristic, f.RegionArea, f.TextDensity,
		f.CapitalRatio, f.NumericRatio,
	}
}

// ExtractFeatures computes the feature vector for a candidate question.
// It is a pure function of the text, options and region.
func ExtractFeatures(text string, options []string, region *image.Rectangle) Features {
	f := Features{
		Length:      clamp01(float64(len(text)) / 500),
		WordCount:   clamp01(float64(len(strings.Fields(text))) / 50),
		OptionCount: clamp01(float64(len(options)) / 4),
	}

	if strings.Contains(text, "?") {
		f.HasQuestionMark = 1
	}
	lower := strings.ToLower(text)
	first := ""
	if fields := strings.Fields(lower); len(fields) > 0 {
		first = strings.Trim(fields[0], ".,:;!?")
	}
	for _, w := range questionWords {
		if first == w {
			f.HasQuestionWord = 1
			break
		}
	}

	f.Heuristic = heuristicConfidence(f.HasQuestionMark == 1, f.HasQuestionWord == 1, len(options))

	if region != nil {
		area := float64(region.Dx() * region.Dy())
		f.RegionArea = clamp01(area / (1920 * 1080))
		if area > 0 {
			f.TextDensity = clamp01(float64(len(text)) / area * 1000)
		}
	}

	letters, capitals, digits := 0, 0, 0
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			capitals++
			letters++
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters > 0 {
		f.CapitalRatio = float64(capitals) / float64(letters)
	}
	if len(text) > 0 {
		f.NumericRatio = float64(digits) / float64(len(text))
	}

	return f
}

// heuristicConfidence is the rule-of-thumb score used both as a feature
// and as the prediction fallback before any scorer has been trained.
func heuristicConfidence(qmark, qword bool, optionCount int) float64 {
	score := 0.5
	if qmark {
		score += 0.2
	}
	if qword {
		score += 0.15
	}
	if optionCount >= 2 {
		score += 0.15
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
