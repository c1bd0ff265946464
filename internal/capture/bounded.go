package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// backgroundLimit bounds a capture that no caller is waiting for anymore.
const backgroundLimit = 5 * time.Second

type captureResult struct {
	frame *Frame
	err   error
}

// Bounded puts a soft deadline on a Source. At most one capture runs at a
// time; a capture that outlives the deadline is not awaited, and its result is
// handed to the next caller instead of starting a second capture.
type Bounded struct {
	src Source

	mu      sync.Mutex
	pending chan captureResult
}

// NewBounded wraps src.
func NewBounded(src Source) *Bounded {
	return &Bounded{src: src}
}

// Source returns the wrapped source.
func (b *Bounded) Source() Source {
	return b.src
}

// CaptureWithin returns a frame or fails with ErrCaptureUnavailable when the
// backend does not answer within timeout. The backend capture is detached
// from ctx, so cancelling one caller never leaves a cancelled result behind
// for the next.
func (b *Bounded) CaptureWithin(ctx context.Context, timeout time.Duration) (*Frame, error) {
	b.mu.Lock()
	if b.pending == nil {
		ch := make(chan captureResult, 1)
		b.pending = ch
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundLimit)
		go func() {
			defer cancel()
			frame, err := b.src.Capture(cctx)
			if err != nil && cctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
			}
			ch <- captureResult{frame: frame, err: err}
		}()
	}
	ch := b.pending
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		b.mu.Lock()
		b.pending = nil
		b.mu.Unlock()
		return r.frame, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: capture exceeded %v", ErrCaptureUnavailable, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
