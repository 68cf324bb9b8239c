package detect

import (
	"quizsense/internal/vision"
)

// UIStructureStrategy infers a question screen from layout alone: a
// band of text rows above a stack of button-shaped regions. It only
// pays for text extraction once the structure looks convincing.
type UIStructureStrategy struct {
	edgeThreshold uint8
	// extraction threshold: structure scores above this are worth an
	// extraction pass
	extractAbove float64
}

// NewUIStructureStrategy creates the layout scorer.
func NewUIStructureStrategy() *UIStructureStrategy {
	return &UIStructureStrategy{
		edgeThreshold: 40,
		extractAbove:  0.7,
	}
}

func (s *UIStructureStrategy) Name() string { return "ui_analysis" }

// Detect scores the frame's layout. Two or more button-like boxes add
// 0.4, a text row adds 0.3, four or more buttons add another 0.3.
func (s *UIStructureStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	boxes := vision.EdgeBoxes(ctx.Frame, s.edgeThreshold)
	if len(boxes) == 0 {
		return nil, nil
	}

	frameWidth := ctx.Frame.Bounds().Dx()
	buttons, textRows := 0, 0
	for _, box := range boxes {
		if box.ButtonLike(frameWidth) {
			buttons++
		} else if box.TextRowLike(frameWidth) {
			textRows++
		}
	}

	score := 0.0
	if buttons >= 2 {
		score += 0.4
	}
	if textRows >= 1 {
		score += 0.3
	}
	if buttons >= 4 {
		score += 0.3
	}
	if score == 0 {
		return nil, nil
	}
	if score > 1 {
		score = 1
	}

	det := &Detection{Confidence: score}
	if score > s.extractAbove && ctx.OCR != nil {
		if components, err := ctx.OCR.ExtractQuestionComponents(ctx.Frame); err == nil {
			det.QuestionText = components.QuestionText
			det.Options = components.Options
		}
	}
	return det, nil
}
