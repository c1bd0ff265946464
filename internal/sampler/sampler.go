// Package sampler reduces a screen region of a captured frame to one color.
//
// Sampling runs on a reduced grid whose width is the subsample width and whose
// height keeps the frame aspect ratio, so per-tick cost does not depend on the
// native display resolution.
package sampler

import (
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/rgb"
)

// Subsample width bounds.
const (
	MinSubsampleWidth     = 5
	MaxSubsampleWidth     = 100
	DefaultSubsampleWidth = 48
)

// ClampSubsampleWidth limits w to [MinSubsampleWidth, MaxSubsampleWidth].
func ClampSubsampleWidth(w int) int {
	if w < MinSubsampleWidth {
		return MinSubsampleWidth
	}
	if w > MaxSubsampleWidth {
		return MaxSubsampleWidth
	}
	return w
}

// GridSize returns the sampling grid for a frame of the given size.
func GridSize(width, height, subsampleWidth int) (cols, rows int) {
	cols = ClampSubsampleWidth(subsampleWidth)
	if width > 0 && cols > width {
		cols = width
	}
	if width <= 0 || height <= 0 {
		return cols, 1
	}
	rows = int(math.Round(float64(cols) * float64(height) / float64(width)))
	if rows < 1 {
		rows = 1
	}
	if rows > height {
		rows = height
	}
	return cols, rows
}

// Resolution is one subsample grid size.
type Resolution struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Candidates lists grid sizes for every valid subsample width of a display.
func Candidates(width, height int) []Resolution {
	out := make([]Resolution, 0, MaxSubsampleWidth-MinSubsampleWidth+1)
	for w := MinSubsampleWidth; w <= MaxSubsampleWidth; w++ {
		cols, rows := GridSize(width, height, w)
		if len(out) > 0 && out[len(out)-1].X == cols {
			continue
		}
		out = append(out, Resolution{X: cols, Y: rows})
	}
	return out
}

// Sample returns the mean color of the region of frame bounded by the normalized
// corners min and max. Degenerate regions sample a single pixel.
func Sample(frame *capture.Frame, min, max entertainment.Point, subsampleWidth int) colorful.Color {
	if frame == nil || frame.Image == nil || frame.Image.Rect.Empty() {
		return rgb.Black
	}
	img := frame.Image
	w, h := img.Rect.Dx(), img.Rect.Dy()
	region := entertainment.UVRect{Min: min, Max: max}.Normalized()

	// Pixel bounds of the region, half-open, always at least one pixel.
	px0, px1 := span(region.Min.X, region.Max.X, w)
	py0, py1 := span(region.Min.Y, region.Max.Y, h)

	cols, rows := GridSize(w, h, subsampleWidth)

	// Grid cells overlapping the region.
	cx0, cx1 := span(region.Min.X, region.Max.X, cols)
	cy0, cy1 := span(region.Min.Y, region.Max.Y, rows)

	var sumR, sumG, sumB, n uint64
	for cy := cy0; cy < cy1; cy++ {
		y := cellCenter(cy, rows, h, py0, py1)
		for cx := cx0; cx < cx1; cx++ {
			x := cellCenter(cx, cols, w, px0, px1)
			r, g, b := at(img, x, y)
			sumR += uint64(r)
			sumG += uint64(g)
			sumB += uint64(b)
			n++
		}
	}

	return colorful.Color{
		R: float64(sumR) / float64(n) / 255,
		G: float64(sumG) / float64(n) / 255,
		B: float64(sumB) / float64(n) / 255,
	}
}

// span converts a normalized interval to a half-open index range of size n,
// containing at least one index.
func span(lo, hi float64, n int) (int, int) {
	a := int(math.Floor(lo * float64(n)))
	b := int(math.Ceil(hi * float64(n)))
	if a >= n {
		a = n - 1
	}
	if a < 0 {
		a = 0
	}
	if b > n {
		b = n
	}
	if b <= a {
		b = a + 1
	}
	return a, b
}

// cellCenter maps grid cell c (of cells) to the pixel at its center along an
// axis of size pixels, kept inside the region's pixel range [lo, hi).
func cellCenter(c, cells, pixels, lo, hi int) int {
	p := int((float64(c) + 0.5) * float64(pixels) / float64(cells))
	if p < lo {
		p = lo
	}
	if p >= hi {
		p = hi - 1
	}
	return p
}

func at(img *image.RGBA, x, y int) (r, g, b uint8) {
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}
