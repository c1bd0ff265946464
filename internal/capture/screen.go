package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog/log"
)

// Screen captures a physical display.
type Screen struct {
	display        int
	maxRefreshRate int

	mu     sync.Mutex
	bounds image.Rectangle
}

// NewScreen opens the display with the given index.
func NewScreen(display, maxRefreshRate int) (*Screen, error) {
	n := screenshot.NumActiveDisplays()
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d not found (%d active)", display, n)
	}

	bounds := screenshot.GetDisplayBounds(display)
	log.Info().
		Int("display", display).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("Screen capture ready")

	return &Screen{
		display:        display,
		maxRefreshRate: maxRefreshRate,
		bounds:         bounds,
	}, nil
}

// Capture grabs the current display contents.
func (s *Screen) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Displays can be unplugged or rearranged between ticks.
	if s.display >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("%w: display %d is gone", ErrCaptureUnavailable, s.display)
	}
	bounds := screenshot.GetDisplayBounds(s.display)
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: display %d has no area", ErrCaptureUnavailable, s.display)
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	s.mu.Lock()
	if bounds != s.bounds {
		log.Info().
			Int("width", bounds.Dx()).
			Int("height", bounds.Dy()).
			Msg("Display resolution changed")
		s.bounds = bounds
	}
	s.mu.Unlock()

	return &Frame{Image: img, Timestamp: time.Now()}, nil
}

// Info reports the last known display geometry.
func (s *Screen) Info() DisplayInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DisplayInfo{
		Width:          s.bounds.Dx(),
		Height:         s.bounds.Dy(),
		MaxRefreshRate: s.maxRefreshRate,
	}
}

// Close is a no-op; screenshot holds no long-lived resources.
func (s *Screen) Close() error {
	return nil
}
