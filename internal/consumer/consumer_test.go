package consumer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/framestream/internal/fixture"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/platform"
	"github.com/danmuck/framestream/internal/stream"
	"github.com/danmuck/framestream/internal/testutil/testlog"
)

var format = pixel.Format{Width: 16, Height: 8, Layout: pixel.LayoutInterleaved}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }

func (failingSink) Write(uint64, pixel.Format, []byte) error {
	return errors.New("disk full")
}

func setup(t *testing.T, timeout time.Duration) (*stream.Handle, *Consumer, *stream.ProducerEndpoint) {
	t.Helper()
	env := platform.DefaultEnvironment()
	ext, err := env.Negotiate(platform.RequiredCapabilities())
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	d, err := env.OpenDisplay("")
	if err != nil {
		t.Fatalf("open display: %v", err)
	}
	h, err := stream.Open(d, ext, stream.ModeMailbox, stream.Attributes{LatencyBudget: time.Second, AcquireTimeout: timeout})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })

	c, err := New(h, Config{Name: "c", Format: format})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p, err := h.Channel.ConnectProducer(format)
	if err != nil {
		t.Fatalf("connect producer: %v", err)
	}
	return h, c, p
}

func present(t *testing.T, p *stream.ProducerEndpoint, packed []byte) {
	t.Helper()
	f, err := p.Dequeue()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := pixel.Unpack(format, packed, f.Planes()); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if err := p.Present(f); err != nil {
		t.Fatalf("present: %v", err)
	}
}

func TestPullProcessWritesSink(t *testing.T) {
	testlog.Start(t)
	h, c, p := setup(t, time.Second)
	want := pixel.Generate(format, pixel.PatternGradient, 2)
	present(t, p, want)

	f, err := c.PullFrame(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	sink := fixture.NewMemorySink("out", fixture.SinkRaw)
	if err := c.Process(context.Background(), f, sink); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), want) {
		t.Fatalf("sink content differs from presented frame")
	}
	if f.Owner() != stream.OwnerFree {
		t.Fatalf("frame not released: %s", f.Owner())
	}
	if st := h.Channel.Stats(); st.Acquired != 1 || st.Released != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestProcessReleasesOnSinkFailure(t *testing.T) {
	testlog.Start(t)
	h, c, p := setup(t, time.Second)
	present(t, p, pixel.Generate(format, pixel.PatternNoise, 1))

	f, err := c.PullFrame(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if err := c.Process(context.Background(), f, failingSink{}); !errors.Is(err, ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", err)
	}
	if st := h.Channel.Stats(); st.Released != 1 {
		t.Fatalf("frame not released after failure: %+v", st)
	}

	// The frame is back in the pool; the next cycle proceeds.
	present(t, p, pixel.Generate(format, pixel.PatternNoise, 2))
	if _, err := c.PullFrame(context.Background()); err != nil {
		t.Fatalf("pull after failed process: %v", err)
	}
}

func TestPullFrameTimeoutRecoverable(t *testing.T) {
	testlog.Start(t)
	_, c, p := setup(t, 2*time.Millisecond)
	if _, err := c.PullFrame(context.Background()); !errors.Is(err, stream.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	present(t, p, pixel.Generate(format, pixel.PatternBars, 1))
	if _, err := c.PullFrame(context.Background()); err != nil {
		t.Fatalf("pull after timeout: %v", err)
	}
}

func TestDisconnectRules(t *testing.T) {
	testlog.Start(t)
	h, c, p := setup(t, time.Second)
	if err := p.Disconnect(); err != nil {
		t.Fatalf("producer disconnect: %v", err)
	}
	if _, err := c.PullFrame(context.Background()); !errors.Is(err, stream.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if s, _ := h.QueryState(); s != stream.StateDisconnected {
		t.Fatalf("unexpected state: %s", s)
	}
	if err := c.Disconnect(); !errors.Is(err, stream.ErrBadState) {
		t.Fatalf("expected ErrBadState on disconnected channel, got %v", err)
	}
	if err := c.Connect(); !errors.Is(err, stream.ErrConsumerConnect) {
		t.Fatalf("expected ErrConsumerConnect on reconnect, got %v", err)
	}
}

func TestDisconnectBeforeProducerFinishes(t *testing.T) {
	testlog.Start(t)
	h, c, p := setup(t, time.Second)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("consumer disconnect: %v", err)
	}
	if s, _ := h.QueryState(); s != stream.StateDisconnected {
		t.Fatalf("unexpected state: %s", s)
	}
	if _, err := p.Dequeue(); !errors.Is(err, stream.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed for producer, got %v", err)
	}
	if _, err := c.PullFrame(context.Background()); !errors.Is(err, stream.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}
