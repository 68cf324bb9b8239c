package detect

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"quizsense/internal/vision"
)

// Template is a reference image of a known question UI element.
type Template struct {
	Name  string
	Image *image.RGBA
}

// TemplateStrategy matches known question UI templates against the
// frame. It is the cheapest rung of the ladder and runs first.
type TemplateStrategy struct {
	templates []Template
	config    *vision.MatchConfig
	mu        sync.RWMutex
}

// NewTemplateStrategy creates a template matcher with default matching
// settings.
func NewTemplateStrategy(templates ...Template) *TemplateStrategy {
	return &TemplateStrategy{
		templates: templates,
		config:    vision.DefaultMatchConfig(),
	}
}

func (s *TemplateStrategy) Name() string { return "template" }

// AddTemplate registers another reference image at runtime.
func (s *TemplateStrategy) AddTemplate(t Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, t)
}

// LoadTemplates reads every png/jpeg in dir as a named template. The
// template name is the file name without extension.
func LoadTemplates(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates directory: %w", err)
	}

	var templates []Template
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open template %s: %w", path, err)
		}
		decoded, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode template %s: %w", path, err)
		}

		bounds := decoded.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), decoded, bounds.Min, draw.Src)

		templates = append(templates, Template{
			Name:  strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Image: rgba,
		})
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

// Detect reports a detection when any template matches. The match
// confidence carries over; question text comes from the extractor when
// one is available.
func (s *TemplateStrategy) Detect(ctx *FrameContext) (*Detection, error) {
	s.mu.RLock()
	templates := s.templates
	s.mu.RUnlock()

	for _, template := range templates {
		result := vision.FindTemplate(ctx.Frame, template.Image, s.config)
		if !result.Found {
			continue
		}

		det := &Detection{Confidence: result.Confidence}
		if ctx.OCR != nil {
			if components, err := ctx.OCR.ExtractQuestionComponents(ctx.Frame); err == nil {
				det.QuestionText = components.QuestionText
				det.Options = components.Options
			}
		}
		return det, nil
	}

	return nil, nil
}
