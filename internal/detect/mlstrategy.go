package detect

import (
	"time"

	"quizsense/internal/ml"
)

// MLStrategy is the last and most expensive rung: it asks the
// classifier ensemble and feeds uncertain verdicts back into the
// active learner.
type MLStrategy struct {
	ensemble *ml.Ensemble
	learner  *ml.Learner
}

// NewMLStrategy creates the classifier rung. The learner may be nil
// when active learning is disabled.
func NewMLStrategy(ensemble *ml.Ensemble, learner *ml.Learner) *MLStrategy {
	return &MLStrategy{ensemble: ensemble, learner: learner}
}

func (s *MLStrategy) Name() string { return "ml_classification" }

// Detect classifies the extracted text plus frame pixels. The
// ensemble score becomes the detection confidence. The verdict itself
// labels the training sample the learner considers; the labels are
// self-supervised.
func (s *MLStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	if ctx.OCR == nil {
		return nil, nil
	}
	components, err := ctx.OCR.ExtractQuestionComponents(ctx.Frame)
	if err != nil || components.QuestionText == "" {
		return nil, nil
	}

	optionTexts := make([]string, len(components.Options))
	for i, opt := range components.Options {
		optionTexts[i] = opt.Text
	}

	features := ml.ExtractFeatures(components.QuestionText, optionTexts, ctx.Region)
	pred := s.ensemble.Predict(features, ctx.Frame)

	if s.learner != nil {
		s.learner.Observe(pred, ml.TrainingSample{
			Features:  features,
			ImageVec:  ml.PooledPixels(ctx.Frame),
			Label:     pred.IsQuestion,
			Text:      components.QuestionText,
			CreatedAt: time.Now(),
		})
	}

	if !pred.IsQuestion {
		return nil, nil
	}
	return &Detection{
		QuestionText: components.QuestionText,
		Options:      components.Options,
		Confidence:   pred.Score,
	}, nil
}
