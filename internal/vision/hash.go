package vision

import (
	"fmt"
	"image"
)

// PerceptualHash computes an 8x8 average-threshold hash: the image is
// shrunk to 8x8, converted to luminance, and each cell contributes one
// bit depending on whether it is above the mean. The result is a 16
// character hex string. Visually identical frames hash equal even when
// their bytes differ.
func PerceptualHash(img *image.RGBA) string {
	small := Resize(img, 8, 8)

	var lum [64]int
	sum := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			idx := y*small.Stride + x*4
			v := (int(small.Pix[idx])*299 + int(small.Pix[idx+1])*587 + int(small.Pix[idx+2])*114) / 1000
			lum[y*8+x] = v
			sum += v
		}
	}
	avg := sum / 64

	var bits uint64
	for i, v := range lum {
		if v > avg {
			bits |= 1 << uint(63-i)
		}
	}

	return fmt.Sprintf("%016x", bits)
}
