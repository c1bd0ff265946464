// Package capture provides display frame sources for the streaming loop.
//
// A Source returns the most recent full-resolution frame on demand. When the
// backend cannot deliver a frame (display reconfigured, backend busy) it fails
// with ErrCaptureUnavailable instead of blocking; the streaming loop treats
// that as a skipped tick.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrCaptureUnavailable is returned when no frame can be produced right now.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// DefaultMaxRefreshRate is used when a backend cannot report the display refresh rate.
const DefaultMaxRefreshRate = 60

// Frame is one captured display image. The pixel buffer is contiguous,
// row-major RGBA.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Rect.Dy()
}

// DisplayInfo describes the captured display.
type DisplayInfo struct {
	Width          int `json:"x"`
	Height         int `json:"y"`
	MaxRefreshRate int `json:"maxRefreshRate"`
}

// Source captures display frames.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
	Info() DisplayInfo
	Close() error
}

// Backend selects a Source implementation.
type Backend string

const (
	BackendScreen  Backend = "screen"
	BackendPattern Backend = "pattern"
)

// Options configures Open.
type Options struct {
	Backend        Backend
	Display        int // screen backend: display index
	MaxRefreshRate int // reported refresh rate ceiling (0 = DefaultMaxRefreshRate)
	Pattern        PatternOptions
}

// Open creates the Source selected by opts.Backend.
func Open(opts Options) (Source, error) {
	if opts.MaxRefreshRate <= 0 {
		opts.MaxRefreshRate = DefaultMaxRefreshRate
	}

	switch opts.Backend {
	case BackendScreen, "":
		return NewScreen(opts.Display, opts.MaxRefreshRate)
	case BackendPattern:
		return NewPattern(opts.Pattern, opts.MaxRefreshRate)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", opts.Backend)
	}
}
