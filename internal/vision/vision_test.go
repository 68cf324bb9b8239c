package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
	red   = color.RGBA{200, 30, 30, 255}
)

func TestFindTemplateExactMatch(t *testing.T) {
	haystack := solid(64, 64, white)
	fillRect(haystack, image.Rect(20, 24, 30, 34), red)

	needle := solid(10, 10, red)

	result := FindTemplate(haystack, needle, &MatchConfig{Method: MatchSSD, Threshold: 0.95})
	require.True(t, result.Found)
	assert.Equal(t, image.Point{X: 20, Y: 24}, result.Location)
	assert.Greater(t, result.Confidence, 0.99)
}

func TestFindTemplateNoMatchBelowThreshold(t *testing.T) {
	haystack := solid(32, 32, white)
	needle := solid(8, 8, black)

	result := FindTemplate(haystack, needle, &MatchConfig{Method: MatchSAD, Threshold: 0.9})
	assert.False(t, result.Found)
}

func TestFindTemplateTooLarge(t *testing.T) {
	haystack := solid(8, 8, white)
	needle := solid(16, 16, white)

	result := FindTemplate(haystack, needle, nil)
	assert.False(t, result.Found)
}

func TestFindTemplateSearchRegion(t *testing.T) {
	haystack := solid(64, 64, white)
	fillRect(haystack, image.Rect(4, 4, 12, 12), red)
	needle := solid(8, 8, red)

	region := image.Rect(32, 32, 64, 64)
	result := FindTemplate(haystack, needle, &MatchConfig{
		Method:       MatchSSD,
		Threshold:    0.95,
		SearchRegion: &region,
	})
	assert.False(t, result.Found, "match lies outside the search region")
}

func TestPerceptualHashStableAndSensitive(t *testing.T) {
	a := solid(64, 64, white)
	fillRect(a, image.Rect(0, 0, 32, 64), black)

	b := solid(64, 64, white)
	fillRect(b, image.Rect(0, 0, 32, 64), black)

	assert.Equal(t, PerceptualHash(a), PerceptualHash(b))

	inverted := solid(64, 64, black)
	fillRect(inverted, image.Rect(0, 0, 32, 64), white)
	assert.NotEqual(t, PerceptualHash(a), PerceptualHash(inverted))
}

func TestPerceptualHashIgnoresMinorNoise(t *testing.T) {
	a := solid(64, 64, white)
	fillRect(a, image.Rect(0, 0, 64, 32), black)

	b := solid(64, 64, white)
	fillRect(b, image.Rect(0, 0, 64, 32), black)
	// A single flipped pixel must not flip any 8x8 cell average.
	b.SetRGBA(1, 1, color.RGBA{10, 10, 10, 255})

	assert.Equal(t, PerceptualHash(a), PerceptualHash(b))
}

func TestPixelDiffCount(t *testing.T) {
	a := solid(16, 16, white)
	b := solid(16, 16, white)
	assert.Equal(t, 0, PixelDiffCount(a, b, 30))

	fillRect(b, image.Rect(0, 0, 4, 4), black)
	assert.Equal(t, 16, PixelDiffCount(a, b, 30))

	// Sub-threshold drift is not a change.
	c := solid(16, 16, color.RGBA{240, 240, 240, 255})
	assert.Equal(t, 0, PixelDiffCount(a, c, 30))

	// Dimension mismatch counts as fully changed.
	d := solid(8, 8, white)
	assert.Equal(t, 16*16, PixelDiffCount(a, d, 30))
}

func TestDownscale(t *testing.T) {
	img := solid(100, 80, red)
	out := Downscale(img, 0.5)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 40, out.Bounds().Dy())
	assert.Equal(t, red, out.RGBAAt(10, 10))

	same := Downscale(img, 1.0)
	assert.Same(t, img, same)
}

func TestToGrayscale(t *testing.T) {
	img := solid(4, 4, red)
	gray := ToGrayscale(img)
	px := gray.RGBAAt(2, 2)
	assert.Equal(t, px.R, px.G)
	assert.Equal(t, px.G, px.B)
}

func TestCrop(t *testing.T) {
	img := solid(32, 32, white)
	fillRect(img, image.Rect(8, 8, 16, 16), red)

	cropped := Crop(img, image.Rect(8, 8, 16, 16))
	assert.Equal(t, 8, cropped.Bounds().Dx())
	assert.Equal(t, red, cropped.RGBAAt(0, 0))
}

func TestReencodeLossyPreservesDimensions(t *testing.T) {
	img := solid(40, 30, red)
	out, err := ReencodeLossy(img, 70)
	require.NoError(t, err)
	assert.Equal(t, 40, out.Bounds().Dx())
	assert.Equal(t, 30, out.Bounds().Dy())
}

func TestEdgeBoxesFindsButtonShapes(t *testing.T) {
	img := solid(640, 480, white)
	// Three option-button shaped regions stacked vertically.
	fillRect(img, image.Rect(100, 100, 260, 148), black)
	fillRect(img, image.Rect(100, 200, 260, 248), black)
	fillRect(img, image.Rect(100, 300, 260, 348), black)

	boxes := EdgeBoxes(img, 40)
	require.NotEmpty(t, boxes)

	buttons := 0
	for _, box := range boxes {
		if box.ButtonLike(640) {
			buttons++
		}
	}
	assert.GreaterOrEqual(t, buttons, 2)
}

func TestEdgeBoxesEmptyOnFlatImage(t *testing.T) {
	img := solid(128, 128, white)
	assert.Empty(t, EdgeBoxes(img, 40))
}
