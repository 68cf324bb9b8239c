package capture

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
)

// FileGrabber replays image files from a directory as capture frames,
// in lexical order and wrapping around. It stands in for a platform
// screen grabber in headless runs and replay sessions.
type FileGrabber struct {
	paths []string
	next  int
	mu    sync.Mutex
}

// NewFileGrabber scans dir for png/jpeg frames.
func NewFileGrabber(dir string) (*FileGrabber, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)

	return &FileGrabber{paths: paths}, nil
}

// Grab decodes the next frame, cropped to region when one is given.
func (g *FileGrabber) Grab(region *image.Rectangle) (*image.RGBA, error) {
	g.mu.Lock()
	path := g.paths[g.next]
	g.next = (g.next + 1) % len(g.paths)
	g.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}

	bounds := decoded.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decoded, bounds.Min, draw.Src)

	if region != nil {
		rect := region.Intersect(rgba.Bounds())
		if rect.Empty() {
			return nil, fmt.Errorf("region %v outside frame %v", *region, rgba.Bounds())
		}
		cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(cropped, cropped.Bounds(), rgba, rect.Min, draw.Src)
		return cropped, nil
	}

	return rgba, nil
}

// FrameCount returns how many frames the grabber cycles through.
func (g *FileGrabber) FrameCount() int {
	return len(g.paths)
}
