package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// ToGrayscale converts an RGBA image to grayscale, keeping the RGBA
// layout so downstream stages see a uniform pixel format.
func ToGrayscale(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	gray := image.NewRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := (y-bounds.Min.Y)*img.Stride + (x-bounds.Min.X)*4
			r := img.Pix[idx]
			g := img.Pix[idx+1]
			b := img.Pix[idx+2]

			// Luminance formula
			v := uint8((int(r)*299 + int(g)*587 + int(b)*114) / 1000)

			gray.Pix[idx] = v
			gray.Pix[idx+1] = v
			gray.Pix[idx+2] = v
			gray.Pix[idx+3] = 255
		}
	}

	return gray
}

// Downscale resizes an image by factor (0 < factor <= 1) using box
// averaging. A factor of 1 or above returns the input unchanged.
func Downscale(img *image.RGBA, factor float64) *image.RGBA {
	if factor >= 1.0 || factor <= 0 {
		return img
	}

	bounds := img.Bounds()
	newW := int(float64(bounds.Dx()) * factor)
	newH := int(float64(bounds.Dy()) * factor)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	return Resize(img, newW, newH)
}

// Resize scales an image to exact dimensions using box averaging.
func Resize(img *image.RGBA, newW, newH int) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, newW, newH))

	for oy := 0; oy < newH; oy++ {
		y0 := oy * h / newH
		y1 := (oy + 1) * h / newH
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for ox := 0; ox < newW; ox++ {
			x0 := ox * w / newW
			x1 := (ox + 1) * w / newW
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var r, g, b uint64
			count := uint64(0)
			for sy := y0; sy < y1 && sy < h; sy++ {
				for sx := x0; sx < x1 && sx < w; sx++ {
					idx := sy*img.Stride + sx*4
					r += uint64(img.Pix[idx])
					g += uint64(img.Pix[idx+1])
					b += uint64(img.Pix[idx+2])
					count++
				}
			}
			if count == 0 {
				count = 1
			}

			idx := oy*out.Stride + ox*4
			out.Pix[idx] = uint8(r / count)
			out.Pix[idx+1] = uint8(g / count)
			out.Pix[idx+2] = uint8(b / count)
			out.Pix[idx+3] = 255
		}
	}

	return out
}

// Crop extracts a rectangular region into a fresh image anchored at
// the origin.
func Crop(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			out.SetRGBA(x-rect.Min.X, y-rect.Min.Y, img.RGBAAt(x, y))
		}
	}

	return out
}

// ReencodeLossy round-trips the image through JPEG at the given
// quality, shedding detail the same way a capture pipeline would when
// trading fidelity for memory.
func ReencodeLossy(img *image.RGBA, quality int) (*image.RGBA, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}

	if rgba, ok := decoded.(*image.RGBA); ok {
		return rgba, nil
	}
	bounds := decoded.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, decoded.At(x, y))
		}
	}
	return rgba, nil
}

// PixelDiffCount counts pixels whose per-channel delta against the
// previous frame exceeds perPixelThreshold on any channel. Images of
// different dimensions count as fully changed.
func PixelDiffCount(a, b *image.RGBA, perPixelThreshold uint8) int {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return ab.Dx() * ab.Dy()
	}

	changed := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			aIdx := y*a.Stride + x*4
			bIdx := y*b.Stride + x*4
			if absInt(int(a.Pix[aIdx])-int(b.Pix[bIdx])) > int(perPixelThreshold) ||
				absInt(int(a.Pix[aIdx+1])-int(b.Pix[bIdx+1])) > int(perPixelThreshold) ||
				absInt(int(a.Pix[aIdx+2])-int(b.Pix[bIdx+2])) > int(perPixelThreshold) {
				changed++
			}
		}
	}
	return changed
}
