// Package device models execution contexts. Each Context owns one engine
// that runs submitted work in submission order off the calling goroutine and
// signals a Fence when the work completes.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/observability"
)

var (
	ErrContextClosed = errors.New("device: context closed")
	ErrInvalidEngine = errors.New("device: invalid engine kind")
	ErrWorkPanicked  = errors.New("device: submitted work panicked")
)

// EngineKind names the hardware engine a context runs on.
type EngineKind string

const (
	EngineRender  EngineKind = "render"
	EngineCompute EngineKind = "compute"
)

// Fence signals completion of one submission.
type Fence struct {
	seq  uint64
	done chan struct{}
	err  error
}

// Seq is the submission sequence on the owning engine, starting at 1.
func (f *Fence) Seq() uint64 {
	return f.seq
}

// Done is closed once the work has completed.
func (f *Fence) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the work completes or ctx ends, and returns the work's error.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	fence *Fence
	work  func() error
}

// Context is one execution context bound to an engine.
type Context struct {
	name string
	kind EngineKind

	mu     sync.Mutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
	seq    atomic.Uint64
}

// NewContext creates a context and starts its engine.
func NewContext(name string, kind EngineKind) (*Context, error) {
	switch kind {
	case EngineRender, EngineCompute:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEngine, kind)
	}
	c := &Context{
		name:  name,
		kind:  kind,
		queue: make(chan job, 8),
	}
	c.wg.Add(1)
	go c.run()
	logs.Debugf("device.NewContext name=%q engine=%s", name, kind)
	return c, nil
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Kind() EngineKind {
	return c.kind
}

// Submit enqueues work and returns its fence. Submitting to a closed context
// returns an already signalled fence carrying ErrContextClosed.
func (c *Context) Submit(work func() error) *Fence {
	f := &Fence{done: make(chan struct{})}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		f.err = ErrContextClosed
		close(f.done)
		return f
	}
	f.seq = c.seq.Add(1)
	c.queue <- job{fence: f, work: work}
	return f
}

// Run submits work and waits for its fence.
func (c *Context) Run(ctx context.Context, work func() error) error {
	return c.Submit(work).Wait(ctx)
}

// Close drains queued work and stops the engine. Closing twice is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
	logs.Debugf("device.Context.Close name=%q engine=%s submitted=%d", c.name, c.kind, c.seq.Load())
	return nil
}

func (c *Context) run() {
	defer c.wg.Done()
	for j := range c.queue {
		j.fence.err = execute(j.work)
		observability.RecordSubmission(string(c.kind), j.fence.err == nil)
		if j.fence.err != nil {
			logs.Debugf("device.Context.run name=%q seq=%d err=%v", c.name, j.fence.seq, j.fence.err)
		}
		close(j.fence.done)
	}
}

func execute(work func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
	}()
	return work()
}
