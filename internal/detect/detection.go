// Package detect implements the multi-strategy question detection
// pipeline: an ordered ladder of strategies runs over each frame until
// one produces a confident detection, with results memoized by frame
// hash.
package detect

import (
	"image"
	"time"
)

// Option is one selectable answer extracted from a frame.
type Option struct {
	Text string
	Box  image.Rectangle
}

// Components is the text extractor's view of a frame.
type Components struct {
	QuestionText string
	Options      []Option
}

// OCR extracts question components from a frame. Extraction failure
// means "no readable text", never a pipeline error.
type OCR interface {
	ExtractQuestionComponents(frame *image.RGBA) (Components, error)
}

// Detection is one recognized question. Values are never mutated after
// creation; cached and historical copies stay consistent.
type Detection struct {
	QuestionText string
	Options      []Option
	Confidence   float64
	Region       *image.Rectangle
	Timestamp    time.Time
	Method       string
	FrameHash    string
}

// sizeBytes estimates the cache footprint of a detection.
func (d *Detection) sizeBytes() int64 {
	size := int64(len(d.QuestionText)) + 128
	for _, opt := range d.Options {
		size += int64(len(opt.Text)) + 32
	}
	return size
}

// FrameContext is what a strategy sees for one frame.
type FrameContext struct {
	Frame  *image.RGBA
	Hash   string
	Region *image.Rectangle
	OCR    OCR
}

// Strategy is one rung of the detection ladder. Returning (nil, nil)
// means "nothing found here"; errors are contained by the engine and
// the ladder falls through.
type Strategy interface {
	Name() string
	Detect(ctx *FrameContext) (*Detection, error)
}
