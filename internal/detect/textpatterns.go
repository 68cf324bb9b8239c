package detect

import (
	"regexp"
	"strings"
)

// Pattern families scored by the text strategy. Each family that
// matches adds to the score once, however many of its expressions hit.
var (
	questionWordPattern = regexp.MustCompile(`(?i)^\s*(what|which|who|whom|whose|when|where|why|how|is|are|was|were|do|does|did|can|could|should|would)\b`)
	trailingMarkPattern = regexp.MustCompile(`\?\s*$`)
	numberedPattern     = regexp.MustCompile(`(?i)^\s*(q\.?\s*\d+|question\s+\d+)\b`)
)

// DefaultContextKeywords are the words whose presence suggests a quiz
// surface rather than arbitrary text.
var DefaultContextKeywords = []string{
	"quiz", "trivia", "answer", "correct", "points", "score", "round",
	"choose", "select",
}

// TextPatternStrategy scores extracted text against question-shaped
// regular expressions and structural cues. It needs the extractor and
// produces nothing without one.
type TextPatternStrategy struct {
	contextKeywords []string
}

// NewTextPatternStrategy creates the text scorer. Passing no keywords
// uses the default context list.
func NewTextPatternStrategy(contextKeywords []string) *TextPatternStrategy {
	if len(contextKeywords) == 0 {
		contextKeywords = DefaultContextKeywords
	}
	return &TextPatternStrategy{contextKeywords: contextKeywords}
}

func (s *TextPatternStrategy) Name() string { return "text_patterns" }

// Detect extracts text and scores it. The detection is returned
// whatever the score; the engine's threshold decides whether it wins.
func (s *TextPatternStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	if ctx.OCR == nil {
		return nil, nil
	}
	components, err := ctx.OCR.ExtractQuestionComponents(ctx.Frame)
	if err != nil || components.QuestionText == "" {
		return nil, nil
	}

	score := s.ScoreText(components.QuestionText, len(components.Options))
	return &Detection{
		QuestionText: components.QuestionText,
		Options:      components.Options,
		Confidence:   score,
	}, nil
}

// ScoreText computes the pattern score for a candidate question text.
// Pattern families contribute 0.25 each up to 0.5; two or more options
// add 0.3; plausible length adds 0.2; context keywords add 0.25. The
// result is clamped to [0, 1].
func (s *TextPatternStrategy) ScoreText(text string, optionCount int) float64 {
	score := 0.0

	patternScore := 0.0
	for _, pattern := range []*regexp.Regexp{questionWordPattern, trailingMarkPattern, numberedPattern} {
		if pattern.MatchString(text) {
			patternScore += 0.25
		}
	}
	if patternScore > 0.5 {
		patternScore = 0.5
	}
	score += patternScore

	if optionCount >= 2 {
		score += 0.3
	}
	if len(text) > 10 && len(text) < 500 {
		score += 0.2
	}

	lower := strings.ToLower(text)
	for _, keyword := range s.contextKeywords {
		if strings.Contains(lower, keyword) {
			score += 0.25
			break
		}
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
