package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// PatternMode selects what the synthetic source draws.
type PatternMode string

const (
	PatternSolid    PatternMode = "solid"    // whole frame in one color
	PatternGradient PatternMode = "gradient" // hue sweep left to right
	PatternCycle    PatternMode = "cycle"    // solid color rotating through hues over time
)

// PatternOptions configures the synthetic source.
type PatternOptions struct {
	Mode   PatternMode
	Color  string        // hex color for PatternSolid
	Width  int           // default 640
	Height int           // default 360
	Period time.Duration // full hue rotation for PatternCycle, default 10s
}

// Pattern is a synthetic frame source for headless setups and demos.
type Pattern struct {
	opts           PatternOptions
	solid          colorful.Color
	maxRefreshRate int
	started        time.Time
	now            func() time.Time
}

// NewPattern validates opts and creates a synthetic source.
func NewPattern(opts PatternOptions, maxRefreshRate int) (*Pattern, error) {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 360
	}
	if opts.Period <= 0 {
		opts.Period = 10 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = PatternSolid
	}

	p := &Pattern{
		opts:           opts,
		maxRefreshRate: maxRefreshRate,
		now:            time.Now,
	}

	switch opts.Mode {
	case PatternSolid:
		hex := opts.Color
		if hex == "" {
			hex = "#ffffff"
		}
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern color %q: %w", opts.Color, err)
		}
		p.solid = c
	case PatternGradient, PatternCycle:
	default:
		return nil, fmt.Errorf("unknown pattern mode %q", opts.Mode)
	}

	p.started = p.now()
	return p, nil
}

// Capture renders the pattern for the current instant.
func (p *Pattern) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	img := image.NewRGBA(image.Rect(0, 0, p.opts.Width, p.opts.Height))

	switch p.opts.Mode {
	case PatternSolid:
		fill(img, p.solid)
	case PatternCycle:
		phase := float64(now.Sub(p.started)%p.opts.Period) / float64(p.opts.Period)
		fill(img, colorful.Hsv(phase*360, 1, 1))
	case PatternGradient:
		for x := 0; x < p.opts.Width; x++ {
			c := colorful.Hsv(float64(x)/float64(p.opts.Width)*360, 1, 1)
			r, g, b := c.RGB255()
			for y := 0; y < p.opts.Height; y++ {
				i := img.PixOffset(x, y)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
			}
		}
	}

	return &Frame{Image: img, Timestamp: now}, nil
}

// Info reports the synthetic display geometry.
func (p *Pattern) Info() DisplayInfo {
	return DisplayInfo{
		Width:          p.opts.Width,
		Height:         p.opts.Height,
		MaxRefreshRate: p.maxRefreshRate,
	}
}

// Close is a no-op.
func (p *Pattern) Close() error {
	return nil
}

func fill(img *image.RGBA, c colorful.Color) {
	r, g, b := c.RGB255()
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
	}
}
