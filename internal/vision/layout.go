package vision

import (
	"image"
	"math"
	"sort"
)

// EdgeBox is a rectangular region with coherent edge content, a coarse
// stand-in for a UI element.
type EdgeBox struct {
	Rect image.Rectangle
}

// AspectRatio returns width over height.
func (b EdgeBox) AspectRatio() float64 {
	h := b.Rect.Dy()
	if h == 0 {
		return 0
	}
	return float64(b.Rect.Dx()) / float64(h)
}

// ButtonLike reports whether the box has the shape of a clickable
// option button: modest height, wide aspect.
func (b EdgeBox) ButtonLike(frameWidth int) bool {
	w, h := b.Rect.Dx(), b.Rect.Dy()
	if w <= 50 || float64(w) >= float64(frameWidth)*0.4 {
		return false
	}
	if h <= 20 || h >= 100 {
		return false
	}
	ar := b.AspectRatio()
	return ar > 1.5 && ar < 6
}

// TextRowLike reports whether the box spans enough of the frame to be
// a row of text.
func (b EdgeBox) TextRowLike(frameWidth int) bool {
	w, h := b.Rect.Dx(), b.Rect.Dy()
	return float64(w) > float64(frameWidth)*0.3 && h > 30 && h < 200
}

const edgeCell = 16 // analysis grid cell size in pixels

// EdgeBoxes finds rectangular regions of strong edges. The image is
// divided into a coarse grid; cells whose Sobel magnitude density
// exceeds threshold are flood-merged into bounding boxes.
func EdgeBoxes(img *image.RGBA, threshold uint8) []EdgeBox {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return nil
	}

	cols := (w + edgeCell - 1) / edgeCell
	rows := (h + edgeCell - 1) / edgeCell
	hot := make([]bool, cols*rows)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := gradientX(img, x, y)
			gy := gradientY(img, x, y)
			magnitude := math.Sqrt(float64(gx*gx + gy*gy))
			if magnitude > float64(threshold)*4 {
				hot[(y/edgeCell)*cols+x/edgeCell] = true
			}
		}
	}

	visited := make([]bool, cols*rows)
	var boxes []EdgeBox

	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			idx := cy*cols + cx
			if !hot[idx] || visited[idx] {
				continue
			}

			// Flood fill over the hot cell grid.
			minX, minY, maxX, maxY := cx, cy, cx, cy
			stack := []int{idx}
			visited[idx] = true
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				ccy, ccx := cur/cols, cur%cols

				if ccx < minX {
					minX = ccx
				}
				if ccx > maxX {
					maxX = ccx
				}
				if ccy < minY {
					minY = ccy
				}
				if ccy > maxY {
					maxY = ccy
				}

				for _, d := range [][2]int{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
					ny, nx := ccy+d[0], ccx+d[1]
					if ny < 0 || ny >= rows || nx < 0 || nx >= cols {
						continue
					}
					nIdx := ny*cols + nx
					if hot[nIdx] && !visited[nIdx] {
						visited[nIdx] = true
						stack = append(stack, nIdx)
					}
				}
			}

			rect := image.Rect(minX*edgeCell, minY*edgeCell,
				(maxX+1)*edgeCell, (maxY+1)*edgeCell).Intersect(bounds)
			boxes = append(boxes, EdgeBox{Rect: rect})
		}
	}

	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].Rect.Min.Y < boxes[j].Rect.Min.Y
	})
	return boxes
}

func gradientX(img *image.RGBA, x, y int) int {
	return intensity(img, x+1, y-1) + 2*intensity(img, x+1, y) + intensity(img, x+1, y+1) -
		intensity(img, x-1, y-1) - 2*intensity(img, x-1, y) - intensity(img, x-1, y+1)
}

func gradientY(img *image.RGBA, x, y int) int {
	return intensity(img, x-1, y+1) + 2*intensity(img, x, y+1) + intensity(img, x+1, y+1) -
		intensity(img, x-1, y-1) - 2*intensity(img, x, y-1) - intensity(img, x+1, y-1)
}

func intensity(img *image.RGBA, x, y int) int {
	idx := y*img.Stride + x*4
	return int(img.Pix[idx])
}
