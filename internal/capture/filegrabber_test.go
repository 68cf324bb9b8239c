package capture

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestFileGrabberCyclesFrames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{255, 0, 0, 255})
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{0, 0, 255, 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	g, err := NewFileGrabber(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, g.FrameCount())

	first, err := g.Grab(nil)
	require.NoError(t, err)
	second, err := g.Grab(nil)
	require.NoError(t, err)
	third, err := g.Grab(nil)
	require.NoError(t, err)

	assert.Equal(t, uint8(255), first.RGBAAt(0, 0).R, "a.png comes first lexically")
	assert.Equal(t, uint8(255), second.RGBAAt(0, 0).B)
	assert.Equal(t, first.RGBAAt(0, 0), third.RGBAAt(0, 0), "wraps back to the first frame")
}

func TestFileGrabberCropsRegion(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame.png"), color.RGBA{10, 20, 30, 255})

	g, err := NewFileGrabber(dir)
	require.NoError(t, err)

	region := image.Rect(10, 10, 30, 25)
	frame, err := g.Grab(&region)
	require.NoError(t, err)
	assert.Equal(t, 20, frame.Bounds().Dx())
	assert.Equal(t, 15, frame.Bounds().Dy())

	outside := image.Rect(100, 100, 120, 120)
	_, err = g.Grab(&outside)
	assert.Error(t, err)
}

func TestFileGrabberEmptyDirectory(t *testing.T) {
	_, err := NewFileGrabber(t.TempDir())
	assert.Error(t, err)
}
