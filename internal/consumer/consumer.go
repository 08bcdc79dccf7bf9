// Package consumer implements the reader role: a compute execution context
// that acquires Channel frames, reads their planes in place and writes the
// packed result to a sink.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/framestream/internal/device"
	"github.com/danmuck/framestream/internal/fixture"
	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/observability"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/stream"
)

var (
	ErrProcessFailed = errors.New("consumer: process failed")
	ErrClosed        = errors.New("consumer: closed")
)

// Config describes the frames this consumer expects.
type Config struct {
	Name   string
	Format pixel.Format
}

// Consumer owns one compute context and at most one Channel binding.
type Consumer struct {
	handle *stream.Handle
	cfg    Config
	engine *device.Context

	endpoint  *stream.ConsumerEndpoint
	closed    bool
	pulled    int
	overruns  int
	connected bool
}

// New creates the compute context for handle.
func New(handle *stream.Handle, cfg Config) (*Consumer, error) {
	if handle == nil || handle.Channel == nil {
		return nil, fmt.Errorf("%w: nil handle", stream.ErrConsumerConnect)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "consumer"
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	engine, err := device.NewContext(cfg.Name+".compute", device.EngineCompute)
	if err != nil {
		return nil, err
	}
	return &Consumer{handle: handle, cfg: cfg, engine: engine}, nil
}

// Connect attaches the consumer; the Channel moves CREATED -> CONNECTING.
func (c *Consumer) Connect() error {
	if c.closed {
		return ErrClosed
	}
	if c.endpoint != nil {
		return fmt.Errorf("%w: consumer already attached", stream.ErrConsumerConnect)
	}
	ep, err := c.handle.Channel.ConnectConsumer()
	if err != nil {
		return err
	}
	c.endpoint = ep
	c.connected = true
	return nil
}

// PullFrame acquires the next frame, waiting up to the Channel acquire timeout.
func (c *Consumer) PullFrame(ctx context.Context) (*stream.Frame, error) {
	if !c.connected {
		return nil, stream.ErrNotConnected
	}
	f, err := c.endpoint.Acquire(ctx, c.handle.Channel.Attributes().AcquireTimeout)
	if err != nil {
		return nil, err
	}
	if got := f.Format(); got != c.cfg.Format {
		if rerr := c.endpoint.Release(f); rerr != nil {
			logs.Warnf("consumer.Consumer.PullFrame release after format mismatch failed err=%v", rerr)
		}
		return nil, fmt.Errorf("%w: frame format %s, consumer expects %s", stream.ErrBadStream, got, c.cfg.Format)
	}
	c.pulled++
	return f, nil
}

// Process packs the frame on the compute engine and writes it to sink. The
// frame is released back to the Channel on every path.
func (c *Consumer) Process(ctx context.Context, f *stream.Frame, sink fixture.Sink) (err error) {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrProcessFailed)
	}
	if c.endpoint == nil {
		return stream.ErrNotConnected
	}
	defer func() {
		if rerr := c.endpoint.Release(f); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	start := time.Now()
	var packed []byte
	fence := c.engine.Submit(func() error {
		var perr error
		packed, perr = pixel.Pack(f.Format(), f.Planes())
		return perr
	})
	if werr := fence.Wait(ctx); werr != nil {
		// Release must not race the engine reading the planes.
		<-fence.Done()
		return fmt.Errorf("%w: %w", ErrProcessFailed, werr)
	}
	elapsed := time.Since(start)

	budget := c.handle.Channel.Attributes().LatencyBudget
	over := budget > 0 && elapsed > budget
	observability.ObserveProcess(elapsed, over)
	if over {
		c.overruns++
		logs.Warnf("consumer.Consumer.Process latency budget exceeded seq=%d elapsed_us=%d budget_us=%d", f.Seq(), elapsed.Microseconds(), budget.Microseconds())
	}

	if werr := sink.Write(f.Seq(), f.Format(), packed); werr != nil {
		return fmt.Errorf("%w: %w", ErrProcessFailed, werr)
	}
	logs.Infof("consumer.Consumer.Process name=%s sink=%s seq=%d bytes=%d", c.cfg.Name, sink.Name(), f.Seq(), len(packed))
	return nil
}

func (c *Consumer) Pulled() int {
	return c.pulled
}

// Overruns counts frames whose processing exceeded the latency budget.
func (c *Consumer) Overruns() int {
	return c.overruns
}

func (c *Consumer) Connected() bool {
	return c.connected
}

// Disconnect detaches the consumer. On a DISCONNECTED Channel it returns an
// error wrapping stream.ErrBadState; callers check the state first.
func (c *Consumer) Disconnect() error {
	if c.closed {
		return ErrClosed
	}
	if !c.connected {
		return stream.ErrNotConnected
	}
	if err := c.endpoint.Disconnect(); err != nil {
		return err
	}
	c.connected = false
	logs.Infof("consumer.Consumer.Disconnect name=%s pulled=%d", c.cfg.Name, c.pulled)
	return nil
}

// Close releases the compute context. Closing twice is a no-op.
func (c *Consumer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	return c.engine.Close()
}
