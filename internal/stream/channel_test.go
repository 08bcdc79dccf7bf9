package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/platform"
	"github.com/danmuck/framestream/internal/testutil/testlog"
)

var testFormat = pixel.Format{Width: 16, Height: 8, Layout: pixel.LayoutPitchLinear}

func openDisplay(t *testing.T) *platform.Display {
	t.Helper()
	d, err := platform.DefaultEnvironment().OpenDisplay(platform.DefaultDisplay)
	if err != nil {
		t.Fatalf("open display: %v", err)
	}
	return d
}

func newChannel(t *testing.T, timeout time.Duration) *Channel {
	t.Helper()
	ch, err := Create(openDisplay(t), ModeMailbox)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ch.SetAttributes(Attributes{LatencyBudget: 16 * time.Millisecond, AcquireTimeout: timeout}); err != nil {
		t.Fatalf("set attributes: %v", err)
	}
	return ch
}

func connectBoth(t *testing.T, ch *Channel) (*ConsumerEndpoint, *ProducerEndpoint) {
	t.Helper()
	cons, err := ch.ConnectConsumer()
	if err != nil {
		t.Fatalf("connect consumer: %v", err)
	}
	prod, err := ch.ConnectProducer(testFormat)
	if err != nil {
		t.Fatalf("connect producer: %v", err)
	}
	return cons, prod
}

func push(t *testing.T, p *ProducerEndpoint, marker byte) *Frame {
	t.Helper()
	f, err := p.Dequeue()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	f.Planes()[0][0] = marker
	if err := p.Present(f); err != nil {
		t.Fatalf("present: %v", err)
	}
	return f
}

func mustState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	got, err := ch.QueryState()
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected state: got %s want %s", got, want)
	}
}

func TestStateNamesAreTotal(t *testing.T) {
	testlog.Start(t)
	seen := make(map[string]State)
	for _, s := range AllStates() {
		name := s.String()
		if strings.HasPrefix(name, "INVALID") {
			t.Fatalf("state %d has no name", int(s))
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("duplicate name %q for %d and %d", name, int(prev), int(s))
		}
		seen[name] = s
	}
	if State(99).String() != "INVALID(99)" {
		t.Fatalf("unexpected fallback name: %s", State(99))
	}
	if !StateBadState.IsError() || StateEmpty.IsError() {
		t.Fatalf("unexpected IsError classification")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 16*time.Millisecond)
	mustState(t, ch, StateCreated)

	cons, err := ch.ConnectConsumer()
	if err != nil {
		t.Fatalf("connect consumer: %v", err)
	}
	mustState(t, ch, StateConnecting)

	prod, err := ch.ConnectProducer(testFormat)
	if err != nil {
		t.Fatalf("connect producer: %v", err)
	}
	mustState(t, ch, StateEmpty)

	push(t, prod, 1)
	mustState(t, ch, StateNewFrameAvailable)

	f, err := cons.Acquire(context.Background(), ch.Attributes().AcquireTimeout)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mustState(t, ch, StateOldFrameAvailable)
	if f.Owner() != OwnerConsumer {
		t.Fatalf("unexpected owner: %s", f.Owner())
	}
	if err := cons.Release(f); err != nil {
		t.Fatalf("release: %v", err)
	}

	push(t, prod, 2)
	mustState(t, ch, StateNewFrameAvailable)

	if err := prod.Disconnect(); err != nil {
		t.Fatalf("producer disconnect: %v", err)
	}
	mustState(t, ch, StateDisconnected)

	if err := cons.Disconnect(); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for consumer disconnect on disconnected channel, got %v", err)
	}
	if err := prod.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on second producer disconnect, got %v", err)
	}

	if err := ch.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := ch.Destroy(); !errors.Is(err, ErrBadStream) {
		t.Fatalf("expected ErrBadStream on second destroy, got %v", err)
	}
	if s, err := ch.QueryState(); !errors.Is(err, ErrBadStream) || s != StateBadStream {
		t.Fatalf("expected BAD_STREAM after destroy, got %s %v", s, err)
	}
}

func TestProducerMustConnectAfterConsumer(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 16*time.Millisecond)

	if _, err := ch.ConnectProducer(testFormat); !errors.Is(err, ErrProducerConnect) {
		t.Fatalf("expected ErrProducerConnect before consumer, got %v", err)
	}
	mustState(t, ch, StateCreated)

	cons, prod := connectBoth(t, ch)
	if _, err := ch.ConnectConsumer(); !errors.Is(err, ErrConsumerConnect) {
		t.Fatalf("expected ErrConsumerConnect for second consumer, got %v", err)
	}
	if _, err := ch.ConnectProducer(testFormat); !errors.Is(err, ErrProducerConnect) {
		t.Fatalf("expected ErrProducerConnect for second producer, got %v", err)
	}

	// Nothing was presented by the rejected producer, so the consumer sees no frame.
	if _, err := cons.Acquire(context.Background(), 0); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected empty mailbox, got %v", err)
	}
	first := push(t, prod, 0xA1)
	f, err := cons.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if f != first || f.Seq() != 1 {
		t.Fatalf("expected first presented frame, got id=%d seq=%d", f.ID(), f.Seq())
	}
}

func TestConnectRequiresAttributes(t *testing.T) {
	testlog.Start(t)
	ch, err := Create(openDisplay(t), ModeMailbox)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ch.ConnectConsumer(); !errors.Is(err, ErrConsumerConnect) {
		t.Fatalf("expected ErrConsumerConnect without attributes, got %v", err)
	}
}

func TestMailboxOverwriteDeliversLatest(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 16*time.Millisecond)
	cons, prod := connectBoth(t, ch)

	push(t, prod, 0x01)
	push(t, prod, 0x02)

	f, err := cons.Acquire(context.Background(), ch.Attributes().AcquireTimeout)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if f.Seq() != 2 || f.Planes()[0][0] != 0x02 {
		t.Fatalf("expected most recent frame, got seq=%d marker=%#x", f.Seq(), f.Planes()[0][0])
	}
	if err := cons.Release(f); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := cons.Acquire(context.Background(), 0); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("overwritten frame must not be delivered later, got %v", err)
	}

	stats := ch.Stats()
	if stats.Presented != 2 || stats.Dropped != 1 || stats.Acquired != 1 || stats.Released != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Buffers > poolLimit {
		t.Fatalf("pool grew beyond limit: %d", stats.Buffers)
	}
}

func TestReleaseExactlyOnce(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 16*time.Millisecond)
	cons, prod := connectBoth(t, ch)
	push(t, prod, 1)

	f, err := cons.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := cons.Acquire(context.Background(), 0); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState while a frame is held, got %v", err)
	}
	if err := cons.Release(f); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := cons.Release(f); !errors.Is(err, ErrFrameNotHeld) {
		t.Fatalf("expected ErrFrameNotHeld on double release, got %v", err)
	}
	if f.Owner() != OwnerFree {
		t.Fatalf("released frame owner: %s", f.Owner())
	}

	other := newChannel(t, time.Millisecond)
	oc, _ := connectBoth(t, other)
	if err := oc.Release(f); !errors.Is(err, ErrBadStream) {
		t.Fatalf("expected ErrBadStream for foreign frame, got %v", err)
	}
}

func TestAcquireTimeoutIsRecoverable(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, 5*time.Millisecond)
	cons, prod := connectBoth(t, ch)

	if _, err := cons.Acquire(context.Background(), ch.Attributes().AcquireTimeout); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	mustState(t, ch, StateEmpty)

	go func() {
		time.Sleep(5 * time.Millisecond)
		f, err := prod.Dequeue()
		if err != nil {
			return
		}
		_ = prod.Present(f)
	}()
	f, err := cons.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire after timeout: %v", err)
	}
	if f.Seq() != 1 {
		t.Fatalf("unexpected seq: %d", f.Seq())
	}
	if ch.Stats().Timeouts != 1 {
		t.Fatalf("unexpected timeout count: %d", ch.Stats().Timeouts)
	}
}

func TestAcquireWakesOnProducerDisconnect(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, time.Second)
	cons, prod := connectBoth(t, ch)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = prod.Disconnect()
	}()
	start := time.Now()
	if _, err := cons.Acquire(context.Background(), time.Second); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("acquire did not wake on disconnect")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, time.Second)
	cons, _ := connectBoth(t, ch)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := cons.Acquire(ctx, time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestSetAttributesBounds(t *testing.T) {
	testlog.Start(t)
	ch, err := Create(openDisplay(t), ModeMailbox)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bad := []Attributes{
		{LatencyBudget: -1, AcquireTimeout: time.Millisecond},
		{LatencyBudget: time.Millisecond, AcquireTimeout: MaxAttributeBound + 1},
	}
	for _, a := range bad {
		if err := ch.SetAttributes(a); !errors.Is(err, ErrAttributeRejected) {
			t.Fatalf("expected ErrAttributeRejected for %+v, got %v", a, err)
		}
	}
	if err := ch.SetAttributes(Attributes{LatencyBudget: 16 * time.Millisecond, AcquireTimeout: 16 * time.Millisecond}); err != nil {
		t.Fatalf("set attributes: %v", err)
	}
	if _, err := ch.ConnectConsumer(); err != nil {
		t.Fatalf("connect consumer: %v", err)
	}
	err = ch.SetAttributes(Attributes{LatencyBudget: time.Millisecond, AcquireTimeout: time.Millisecond})
	if !errors.Is(err, ErrAttributeRejected) || !errors.Is(err, ErrBadState) {
		t.Fatalf("expected rejected bad-state attributes after connect, got %v", err)
	}
}

func TestCreateFailures(t *testing.T) {
	testlog.Start(t)
	if _, err := Create(nil, ModeMailbox); !errors.Is(err, ErrChannelCreation) {
		t.Fatalf("expected ErrChannelCreation for nil display, got %v", err)
	}
	d := openDisplay(t)
	if _, err := Create(d, ModeFIFO); !errors.Is(err, ErrChannelCreation) {
		t.Fatalf("expected ErrChannelCreation for fifo, got %v", err)
	}
	d.Terminate()
	if _, err := Create(d, ModeMailbox); !errors.Is(err, ErrChannelCreation) {
		t.Fatalf("expected ErrChannelCreation for terminated display, got %v", err)
	}
}

func TestDestroyReclaimsAndDetaches(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, time.Millisecond)
	cons, prod := connectBoth(t, ch)
	push(t, prod, 1)
	f, err := cons.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := ch.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if f.Owner() != OwnerFree {
		t.Fatalf("held frame not reclaimed: %s", f.Owner())
	}
	if _, err := prod.Dequeue(); !errors.Is(err, ErrBadStream) {
		t.Fatalf("expected ErrBadStream after destroy, got %v", err)
	}
	if err := cons.Release(f); !errors.Is(err, ErrBadStream) {
		t.Fatalf("expected ErrBadStream release after destroy, got %v", err)
	}
}

func TestProducerPendingDiscipline(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t, time.Millisecond)
	_, prod := connectBoth(t, ch)

	f, err := prod.Dequeue()
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if _, err := prod.Dequeue(); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for second pending frame, got %v", err)
	}
	if err := prod.Cancel(f); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := prod.Present(f); !errors.Is(err, ErrFrameNotHeld) {
		t.Fatalf("expected ErrFrameNotHeld presenting a cancelled frame, got %v", err)
	}
}

func TestOpenHandle(t *testing.T) {
	testlog.Start(t)
	env := platform.DefaultEnvironment()
	ext, err := env.Negotiate(platform.RequiredCapabilities())
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	attrs := Attributes{LatencyBudget: 16 * time.Millisecond, AcquireTimeout: 16 * time.Millisecond}

	h, err := Open(openDisplay(t), ext, ModeMailbox, attrs)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustState(t, h.Channel, StateCreated)
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second release must not reach the channel: %v", err)
	}
	if !h.Released() {
		t.Fatalf("expected released handle")
	}
	if s, err := h.QueryState(); !errors.Is(err, ErrBadStream) || s != StateBadStream {
		t.Fatalf("expected BAD_STREAM after release, got %s %v", s, err)
	}

	if _, err := Open(openDisplay(t), ext, ModeMailbox, Attributes{AcquireTimeout: -1}); !errors.Is(err, ErrAttributeRejected) {
		t.Fatalf("expected ErrAttributeRejected, got %v", err)
	}
	if _, err := Open(openDisplay(t), platform.Extensions{}, ModeMailbox, attrs); !errors.Is(err, ErrChannelCreation) {
		t.Fatalf("expected ErrChannelCreation without capabilities, got %v", err)
	}

	var nilHandle *Handle
	if s, err := nilHandle.QueryState(); !errors.Is(err, ErrBadStream) || s != StateBadStream {
		t.Fatalf("expected BAD_STREAM for nil handle, got %s %v", s, err)
	}
}
