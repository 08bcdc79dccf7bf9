package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/framestream/internal/testutil/testlog"
)

func TestContextRunsInSubmissionOrder(t *testing.T) {
	testlog.Start(t)
	c, err := NewContext("render.test", EngineRender)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	defer c.Close()

	var order []int
	var fences []*Fence
	for i := 1; i <= 5; i++ {
		i := i
		fences = append(fences, c.Submit(func() error {
			order = append(order, i)
			return nil
		}))
	}
	last := fences[len(fences)-1]
	if err := last.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	for _, f := range fences {
		select {
		case <-f.Done():
		default:
			t.Fatalf("fence %d not signalled after later fence", f.Seq())
		}
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("unexpected execution order: %v", order)
		}
	}
	if last.Seq() != 5 {
		t.Fatalf("unexpected fence seq: %d", last.Seq())
	}
}

func TestContextPropagatesWorkErrorAndPanic(t *testing.T) {
	testlog.Start(t)
	c, err := NewContext("compute.test", EngineCompute)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	defer c.Close()

	boom := errors.New("boom")
	if err := c.Run(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected work error, got %v", err)
	}
	if err := c.Run(context.Background(), func() error { panic("fault") }); !errors.Is(err, ErrWorkPanicked) {
		t.Fatalf("expected ErrWorkPanicked, got %v", err)
	}
	if err := c.Run(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("engine must survive a panicking job: %v", err)
	}
}

func TestContextClose(t *testing.T) {
	testlog.Start(t)
	c, err := NewContext("render.close", EngineRender)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	ran := make(chan struct{})
	f := c.Submit(func() error {
		time.Sleep(5 * time.Millisecond)
		close(ran)
		return nil
	})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Fatalf("close must drain queued work")
	}
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("queued work failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := c.Run(context.Background(), func() error { return nil }); !errors.Is(err, ErrContextClosed) {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
}

func TestFenceWaitHonoursContext(t *testing.T) {
	testlog.Start(t)
	c, err := NewContext("render.slow", EngineRender)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	defer c.Close()

	release := make(chan struct{})
	f := c.Submit(func() error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
}

func TestNewContextRejectsUnknownEngine(t *testing.T) {
	testlog.Start(t)
	if _, err := NewContext("x", EngineKind("video")); !errors.Is(err, ErrInvalidEngine) {
		t.Fatalf("expected ErrInvalidEngine, got %v", err)
	}
}
