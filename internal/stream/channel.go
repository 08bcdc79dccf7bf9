package stream

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/observability"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/platform"
)

// Mode is the transport discipline of a Channel.
type Mode string

const (
	// ModeMailbox holds at most one pending frame; a present overwrites an
	// unconsumed frame instead of queueing behind it.
	ModeMailbox Mode = "mailbox"
	// ModeFIFO queues frames. Recognised for config parsing, rejected by Create.
	ModeFIFO Mode = "fifo"
)

// MaxAttributeBound is the largest latency budget or acquire timeout accepted.
const MaxAttributeBound = 10 * time.Second

// poolLimit is one buffer per owner: producer-pending, channel-queued, consumer-held.
const poolLimit = 3

var channelSeq atomic.Uint64

// Attributes bound consumer-side timing on the Channel.
type Attributes struct {
	LatencyBudget  time.Duration
	AcquireTimeout time.Duration
}

// Stats is a snapshot of Channel frame accounting.
type Stats struct {
	Presented uint64
	Acquired  uint64
	Released  uint64
	Dropped   uint64
	Reclaimed uint64
	Timeouts  uint64
	Buffers   int
}

// Channel is the shared frame transport between one producer and one consumer.
type Channel struct {
	id      uint64
	display *platform.Display
	mode    Mode

	mu        sync.Mutex
	changed   chan struct{}
	state     State
	destroyed bool
	attrs     Attributes
	attrsSet  bool
	format    pixel.Format

	consumer *ConsumerEndpoint
	producer *ProducerEndpoint

	buffers []*Frame
	free    []*Frame
	pending *Frame
	mailbox *Frame
	held    *Frame

	presentSeq uint64
	stats      Stats
}

// Create allocates a Channel on display in the CREATED state.
func Create(display *platform.Display, mode Mode) (*Channel, error) {
	if !display.Valid() {
		return nil, fmt.Errorf("%w: display %q is not initialized", ErrChannelCreation, display.Name())
	}
	switch Mode(strings.TrimSpace(string(mode))) {
	case ModeMailbox:
	default:
		return nil, fmt.Errorf("%w: unsupported mode %q", ErrChannelCreation, mode)
	}
	c := &Channel{
		id:      channelSeq.Add(1),
		display: display,
		mode:    ModeMailbox,
		changed: make(chan struct{}),
		state:   StateCreated,
	}
	observability.SetChannelState(c.state.String())
	logs.Infof("stream.Create channel=%d display=%q mode=%s", c.id, display.Name(), c.mode)
	return c, nil
}

func (c *Channel) ID() uint64 {
	return c.id
}

func (c *Channel) Mode() Mode {
	return c.mode
}

func (c *Channel) Display() *platform.Display {
	return c.display
}

// SetAttributes configures the latency budget and acquire timeout. It must
// succeed before the first connect.
func (c *Channel) SetAttributes(attrs Attributes) error {
	if err := checkBound("latency budget", attrs.LatencyBudget); err != nil {
		return err
	}
	if err := checkBound("acquire timeout", attrs.AcquireTimeout); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fmt.Errorf("%w: %w", ErrAttributeRejected, ErrBadStream)
	}
	if c.state != StateCreated {
		return fmt.Errorf("%w: %w: attributes are fixed once a role connects (state=%s)", ErrAttributeRejected, ErrBadState, c.state)
	}
	c.attrs = attrs
	c.attrsSet = true
	logs.Infof(
		"stream.Channel.SetAttributes channel=%d latency_us=%d acquire_timeout_us=%d",
		c.id,
		attrs.LatencyBudget.Microseconds(),
		attrs.AcquireTimeout.Microseconds(),
	)
	return nil
}

func checkBound(name string, d time.Duration) error {
	if d < 0 || d > MaxAttributeBound {
		return fmt.Errorf("%w: %s %s outside [0, %s]", ErrAttributeRejected, name, d, MaxAttributeBound)
	}
	return nil
}

// Attributes returns the configured bounds.
func (c *Channel) Attributes() Attributes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs
}

// Format returns the frame format fixed by the producer connect.
func (c *Channel) Format() pixel.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// QueryState reports the current state without blocking.
func (c *Channel) QueryState() (State, error) {
	if c == nil {
		return StateBadStream, ErrBadStream
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return StateBadStream, ErrBadStream
	}
	return c.state, nil
}

// Stats returns a snapshot of frame accounting.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Buffers = len(c.buffers)
	return s
}

// Destroy releases the transport, every role binding and the frame pool.
// A second call returns ErrBadStream.
func (c *Channel) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrBadStream
	}
	final := c.state
	c.reclaimLocked()
	if c.consumer != nil {
		c.consumer.detached = true
		c.consumer = nil
	}
	if c.producer != nil {
		c.producer.detached = true
		c.producer = nil
	}
	for _, f := range c.buffers {
		f.owner = OwnerFree
		f.planes = nil
	}
	c.buffers = nil
	c.free = nil
	c.destroyed = true
	c.notifyLocked()
	observability.SetChannelState(StateBadStream.String())
	logs.Infof("stream.Channel.Destroy channel=%d final_state=%s presented=%d acquired=%d released=%d dropped=%d",
		c.id, final, c.stats.Presented, c.stats.Acquired, c.stats.Released, c.stats.Dropped)
	return nil
}

func (c *Channel) setStateLocked(next State) {
	if c.state == next {
		return
	}
	logs.Debugf("stream.Channel.state channel=%d %s -> %s", c.id, c.state, next)
	c.state = next
	observability.SetChannelState(next.String())
	c.notifyLocked()
}

// notifyLocked wakes every waiter by closing the current change channel.
func (c *Channel) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// reclaimLocked returns pending, queued and held buffers to the free pool.
func (c *Channel) reclaimLocked() {
	for _, f := range []*Frame{c.pending, c.mailbox, c.held} {
		if f == nil {
			continue
		}
		c.recycleLocked(f)
		c.stats.Reclaimed++
		observability.RecordFrame(observability.FrameReclaimed)
	}
	c.pending, c.mailbox, c.held = nil, nil, nil
}

func (c *Channel) recycleLocked(f *Frame) {
	f.owner = OwnerFree
	c.free = append(c.free, f)
}

func (c *Channel) allocLocked() (*Frame, error) {
	if n := len(c.free); n > 0 {
		f := c.free[n-1]
		c.free = c.free[:n-1]
		return f, nil
	}
	if len(c.buffers) >= poolLimit {
		return nil, fmt.Errorf("%w: frame pool exhausted (%d buffers)", ErrBadState, len(c.buffers))
	}
	f := &Frame{
		ch:     c,
		id:     uint64(len(c.buffers) + 1),
		format: c.format,
		planes: c.format.Allocate(),
	}
	c.buffers = append(c.buffers, f)
	return f, nil
}

func (c *Channel) owns(f *Frame) bool {
	return f != nil && f.ch == c
}
