package sampler

import (
	"image"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/rgb"
)

func solidFrame(w, h int, r, g, b uint8) *capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
	}
	return &capture.Frame{Image: img, Timestamp: time.Now()}
}

// splitFrame is red on the left half and blue on the right half.
func splitFrame(w, h int) *capture.Frame {
	f := solidFrame(w, h, 0, 0, 255)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			i := f.Image.PixOffset(x, y)
			f.Image.Pix[i], f.Image.Pix[i+1], f.Image.Pix[i+2] = 255, 0, 0
		}
	}
	return f
}

func pt(x, y float64) entertainment.Point { return entertainment.Point{X: x, Y: y} }

func TestSample_UniformExactAtAnyWidth(t *testing.T) {
	frame := solidFrame(1920, 1080, 12, 200, 77)
	want := rgb.From8(12, 200, 77)

	for w := 0; w <= 120; w++ {
		for _, region := range [][2]entertainment.Point{
			{pt(0, 0), pt(1, 1)},
			{pt(0.1, 0.2), pt(0.35, 0.9)},
			{pt(0.99, 0.99), pt(1, 1)},
		} {
			if got := Sample(frame, region[0], region[1], w); got != want {
				t.Fatalf("Sample(width=%d, %v) = %v, want %v", w, region, got, want)
			}
		}
	}
}

func TestSample_DegenerateRegion(t *testing.T) {
	frame := splitFrame(100, 50)

	tests := []struct {
		name     string
		min, max entertainment.Point
		want     colorful.Color
	}{
		{"point_left", pt(0.2, 0.5), pt(0.2, 0.5), rgb.From8(255, 0, 0)},
		{"point_right", pt(0.8, 0.5), pt(0.8, 0.5), rgb.From8(0, 0, 255)},
		{"zero_width", pt(0.1, 0), pt(0.1, 1), rgb.From8(255, 0, 0)},
		{"zero_height", pt(0.6, 0.3), pt(0.9, 0.3), rgb.From8(0, 0, 255)},
		{"bottom_right_corner", pt(1, 1), pt(1, 1), rgb.From8(0, 0, 255)},
		{"inverted_is_normalized", pt(0.4, 1), pt(0, 0), rgb.From8(255, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sample(frame, tt.min, tt.max, 20); got != tt.want {
				t.Errorf("Sample() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSample_RegionStaysInside(t *testing.T) {
	frame := splitFrame(100, 50)
	red := rgb.From8(255, 0, 0)

	for w := MinSubsampleWidth; w <= MaxSubsampleWidth; w++ {
		if got := Sample(frame, pt(0, 0), pt(0.5, 1), w); got != red {
			t.Fatalf("left half at width %d = %v, want red", w, got)
		}
	}
}

func TestSample_MeanOfMixedRegion(t *testing.T) {
	frame := splitFrame(100, 50)
	got := Sample(frame, pt(0, 0), pt(1, 1), 10)
	want := colorful.Color{R: 0.5, G: 0, B: 0.5}
	if got != want {
		t.Errorf("Sample(full) = %v, want %v", got, want)
	}
}

func TestSample_NilFrame(t *testing.T) {
	if got := Sample(nil, pt(0, 0), pt(1, 1), 10); got != rgb.Black {
		t.Errorf("Sample(nil) = %v, want black", got)
	}
}

func TestClampSubsampleWidth(t *testing.T) {
	tests := []struct{ in, want int }{
		{-3, MinSubsampleWidth},
		{0, MinSubsampleWidth},
		{5, 5},
		{64, 64},
		{100, 100},
		{1000, MaxSubsampleWidth},
	}
	for _, tt := range tests {
		if got := ClampSubsampleWidth(tt.in); got != tt.want {
			t.Errorf("ClampSubsampleWidth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGridSize(t *testing.T) {
	tests := []struct {
		w, h, sub  int
		cols, rows int
	}{
		{1920, 1080, 16, 16, 9},
		{1920, 1080, 1, 5, 3},
		{3840, 1080, 64, 64, 18},
		{3, 2, 50, 3, 2},
		{1000, 1, 100, 100, 1},
	}
	for _, tt := range tests {
		cols, rows := GridSize(tt.w, tt.h, tt.sub)
		if cols != tt.cols || rows != tt.rows {
			t.Errorf("GridSize(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.sub, cols, rows, tt.cols, tt.rows)
		}
	}
}

func TestCandidates(t *testing.T) {
	c := Candidates(1920, 1080)
	if len(c) != MaxSubsampleWidth-MinSubsampleWidth+1 {
		t.Fatalf("len(Candidates) = %d", len(c))
	}
	if c[0] != (Resolution{X: 5, Y: 3}) {
		t.Errorf("first candidate = %+v", c[0])
	}
	if last := c[len(c)-1]; last != (Resolution{X: 100, Y: 56}) {
		t.Errorf("last candidate = %+v", last)
	}

	// Tiny displays collapse duplicate widths.
	if small := Candidates(8, 8); len(small) != 4 {
		t.Errorf("Candidates(8, 8) = %+v, want widths 5..8", small)
	}
}
