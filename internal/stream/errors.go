package stream

import (
	"errors"
	"fmt"
)

var (
	ErrChannelCreation   = errors.New("stream: channel creation failed")
	ErrAttributeRejected = errors.New("stream: attribute rejected")
	ErrConsumerConnect   = errors.New("stream: consumer connect failed")
	ErrProducerConnect   = errors.New("stream: producer connect failed")
	ErrNotConnected      = errors.New("stream: endpoint not connected")
	ErrAcquireTimeout    = errors.New("stream: acquire timed out")
	ErrChannelClosed     = errors.New("stream: channel disconnected")
	ErrFrameNotHeld      = errors.New("stream: frame not held by caller")
	ErrBadState          = errors.New("stream: bad state")
	ErrBadStream         = errors.New("stream: bad stream")
)

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrBadState, from, to)
}
