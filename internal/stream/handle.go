package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/platform"
)

// Handle bundles the display, the negotiated extensions and the Channel.
// Producer and Consumer constructors take it explicitly.
type Handle struct {
	Display    *platform.Display
	Extensions platform.Extensions
	Channel    *Channel

	releaseOnce sync.Once
	released    atomic.Bool
	releaseErr  error
}

// Open creates a Channel on display and applies attrs. If the attributes are
// rejected the Channel is destroyed before returning.
func Open(display *platform.Display, ext platform.Extensions, mode Mode, attrs Attributes) (*Handle, error) {
	for _, c := range []platform.Capability{platform.CapCreateStream, platform.CapStreamAttrib} {
		if !ext.Has(c) {
			return nil, fmt.Errorf("%w: capability %s not resolved", ErrChannelCreation, c)
		}
	}
	ch, err := Create(display, mode)
	if err != nil {
		return nil, err
	}
	if err := ch.SetAttributes(attrs); err != nil {
		if derr := ch.Destroy(); derr != nil {
			logs.Warnf("stream.Open destroy after rejected attributes failed channel=%d err=%v", ch.ID(), derr)
		}
		return nil, err
	}
	return &Handle{Display: display, Extensions: ext, Channel: ch}, nil
}

// QueryState queries the Channel; a nil or released handle reports BAD_STREAM.
func (h *Handle) QueryState() (State, error) {
	if h == nil || h.Channel == nil {
		return StateBadStream, ErrBadStream
	}
	return h.Channel.QueryState()
}

// Release destroys the Channel. Only the first call reaches the Channel;
// later calls return the first result.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.releaseOnce.Do(func() {
		h.released.Store(true)
		if h.Channel == nil {
			return
		}
		h.releaseErr = h.Channel.Destroy()
	})
	return h.releaseErr
}

// Released reports whether Release has run.
func (h *Handle) Released() bool {
	if h == nil {
		return true
	}
	return h.released.Load()
}
