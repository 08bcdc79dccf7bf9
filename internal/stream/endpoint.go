package stream

import (
	"context"
	"fmt"
	"time"

	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/observability"
	"github.com/danmuck/framestream/internal/pixel"
)

// ConsumerEndpoint is the reader half of the handshake.
type ConsumerEndpoint struct {
	ch *Channel

	// guarded by ch.mu
	detached bool
}

// ProducerEndpoint is the writer half of the handshake.
type ProducerEndpoint struct {
	ch     *Channel
	format pixel.Format

	// guarded by ch.mu
	detached bool
}

// ConnectConsumer attaches the single reader. The Channel moves CREATED -> CONNECTING.
func (c *Channel) ConnectConsumer() (*ConsumerEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return nil, fmt.Errorf("%w: %w", ErrConsumerConnect, ErrBadStream)
	case !c.attrsSet:
		return nil, fmt.Errorf("%w: attributes not set", ErrConsumerConnect)
	case c.consumer != nil:
		return nil, fmt.Errorf("%w: consumer already attached", ErrConsumerConnect)
	case c.state != StateCreated:
		return nil, fmt.Errorf("%w: %w", ErrConsumerConnect, transitionError(c.state, StateConnecting))
	}
	ep := &ConsumerEndpoint{ch: c}
	c.consumer = ep
	c.setStateLocked(StateConnecting)
	logs.Infof("stream.Channel.ConnectConsumer channel=%d state=%s", c.id, c.state)
	return ep, nil
}

// ConnectProducer attaches the writer. A consumer must already be attached,
// so frames never enter an unattended mailbox. The Channel moves
// CONNECTING -> EMPTY.
func (c *Channel) ConnectProducer(format pixel.Format) (*ProducerEndpoint, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProducerConnect, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return nil, fmt.Errorf("%w: %w", ErrProducerConnect, ErrBadStream)
	case !c.attrsSet:
		return nil, fmt.Errorf("%w: attributes not set", ErrProducerConnect)
	case c.producer != nil:
		return nil, fmt.Errorf("%w: producer already attached", ErrProducerConnect)
	case c.consumer == nil:
		return nil, fmt.Errorf("%w: no consumer attached, consumer must connect first", ErrProducerConnect)
	case c.state != StateConnecting:
		return nil, fmt.Errorf("%w: %w", ErrProducerConnect, transitionError(c.state, StateEmpty))
	}
	ep := &ProducerEndpoint{ch: c, format: format}
	c.producer = ep
	c.format = format
	c.setStateLocked(StateEmpty)
	logs.Infof("stream.Channel.ConnectProducer channel=%d format=%s state=%s", c.id, format, c.state)
	return ep, nil
}

func (p *ProducerEndpoint) Format() pixel.Format {
	return p.format
}

func (p *ProducerEndpoint) checkLocked() error {
	c := p.ch
	switch {
	case c.destroyed:
		return ErrBadStream
	case p.detached:
		return ErrNotConnected
	case c.state == StateDisconnected:
		return ErrChannelClosed
	}
	return nil
}

// Dequeue hands a free buffer to the producer. At most one buffer may be
// producer-pending at a time.
func (p *ProducerEndpoint) Dequeue() (*Frame, error) {
	c := p.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return nil, err
	}
	if c.pending != nil {
		return nil, fmt.Errorf("%w: frame %d already pending", ErrBadState, c.pending.id)
	}
	f, err := c.allocLocked()
	if err != nil {
		return nil, err
	}
	f.owner = OwnerProducer
	c.pending = f
	return f, nil
}

// Cancel returns a pending buffer without presenting it.
func (p *ProducerEndpoint) Cancel(f *Frame) error {
	c := p.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrBadStream
	}
	if !c.owns(f) || c.pending != f || f.owner != OwnerProducer {
		return fmt.Errorf("%w: frame not pending on producer", ErrFrameNotHeld)
	}
	c.pending = nil
	c.recycleLocked(f)
	return nil
}

// Present makes the pending buffer visible to the consumer. An unconsumed
// queued frame is overwritten and recycled.
func (p *ProducerEndpoint) Present(f *Frame) error {
	c := p.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if !c.owns(f) {
		return fmt.Errorf("%w: foreign frame", ErrBadStream)
	}
	if c.pending != f || f.owner != OwnerProducer {
		return fmt.Errorf("%w: frame %d owner=%s", ErrFrameNotHeld, f.id, f.owner)
	}
	if old := c.mailbox; old != nil {
		c.recycleLocked(old)
		c.stats.Dropped++
		observability.RecordFrame(observability.FrameDropped)
		logs.Debugf("stream.ProducerEndpoint.Present channel=%d dropped_seq=%d", c.id, old.seq)
	}
	c.presentSeq++
	f.seq = c.presentSeq
	f.presentedAt = time.Now()
	f.owner = OwnerChannel
	c.pending = nil
	c.mailbox = f
	c.stats.Presented++
	observability.RecordFrame(observability.FramePresented)
	c.setStateLocked(StateNewFrameAvailable)
	return nil
}

// Disconnect signals end of production. The Channel moves to DISCONNECTED
// and any pending or queued buffer is reclaimed.
func (p *ProducerEndpoint) Disconnect() error {
	c := p.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return ErrBadStream
	case p.detached:
		return ErrNotConnected
	case c.state == StateDisconnected:
		return transitionError(c.state, StateDisconnected)
	}
	if c.pending != nil {
		c.recycleLocked(c.pending)
		c.pending = nil
		c.stats.Reclaimed++
		observability.RecordFrame(observability.FrameReclaimed)
	}
	if c.mailbox != nil {
		c.recycleLocked(c.mailbox)
		c.mailbox = nil
		c.stats.Reclaimed++
		observability.RecordFrame(observability.FrameReclaimed)
	}
	p.detached = true
	c.producer = nil
	c.setStateLocked(StateDisconnected)
	logs.Infof("stream.ProducerEndpoint.Disconnect channel=%d presented=%d", c.id, c.stats.Presented)
	return nil
}

// Acquire waits up to timeout for a new frame. ErrAcquireTimeout leaves the
// Channel state unchanged; ErrChannelClosed is terminal.
func (e *ConsumerEndpoint) Acquire(ctx context.Context, timeout time.Duration) (*Frame, error) {
	c := e.ch
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	c.mu.Lock()
	for {
		switch {
		case c.destroyed:
			c.mu.Unlock()
			return nil, ErrBadStream
		case e.detached:
			c.mu.Unlock()
			return nil, ErrNotConnected
		case c.state == StateDisconnected:
			c.mu.Unlock()
			return nil, ErrChannelClosed
		case c.held != nil:
			id := c.held.id
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: frame %d still held, release it first", ErrBadState, id)
		case c.mailbox != nil:
			f := c.mailbox
			c.mailbox = nil
			c.held = f
			f.owner = OwnerConsumer
			c.stats.Acquired++
			observability.RecordFrame(observability.FrameAcquired)
			c.setStateLocked(StateOldFrameAvailable)
			c.mu.Unlock()
			return f, nil
		}

		wait := c.changed
		c.mu.Unlock()
		if expired == nil {
			return nil, e.timedOut()
		}
		select {
		case <-wait:
		case <-expired:
			return nil, e.timedOut()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
}

func (e *ConsumerEndpoint) timedOut() error {
	c := e.ch
	c.mu.Lock()
	c.stats.Timeouts++
	c.mu.Unlock()
	observability.RecordAcquireTimeout()
	return ErrAcquireTimeout
}

// Release returns a held frame to the Channel pool. Each acquired frame may be released once.
func (e *ConsumerEndpoint) Release(f *Frame) error {
	c := e.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrBadStream
	}
	if !c.owns(f) {
		return fmt.Errorf("%w: foreign frame", ErrBadStream)
	}
	if c.held != f || f.owner != OwnerConsumer {
		return fmt.Errorf("%w: frame %d owner=%s", ErrFrameNotHeld, f.id, f.owner)
	}
	c.held = nil
	c.recycleLocked(f)
	c.stats.Released++
	observability.RecordFrame(observability.FrameReleased)
	return nil
}

// Disconnect detaches the consumer. Calling it on a DISCONNECTED Channel is an error.
func (e *ConsumerEndpoint) Disconnect() error {
	c := e.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.destroyed:
		return ErrBadStream
	case e.detached:
		return ErrNotConnected
	case c.state == StateDisconnected:
		return transitionError(c.state, StateDisconnected)
	}
	c.reclaimLocked()
	e.detached = true
	c.consumer = nil
	c.setStateLocked(StateDisconnected)
	logs.Infof("stream.ConsumerEndpoint.Disconnect channel=%d acquired=%d released=%d", c.id, c.stats.Acquired, c.stats.Released)
	return nil
}
