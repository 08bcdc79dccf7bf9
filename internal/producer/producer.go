// Package producer implements the writer role: a render execution context
// bound to a stream surface that uploads host frames into Channel buffers
// and presents them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/framestream/internal/device"
	"github.com/danmuck/framestream/internal/fixture"
	logs "github.com/danmuck/framestream/internal/logging"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/platform"
	"github.com/danmuck/framestream/internal/stream"
)

var (
	ErrSurfaceBind         = errors.New("producer: surface bind failed")
	ErrNoSurface           = errors.New("producer: surface not bound")
	ErrAlreadyDisconnected = errors.New("producer: already disconnected")
	ErrPushFailed          = errors.New("producer: push failed")
	ErrClosed              = errors.New("producer: closed")
)

// Config describes the frames this producer writes.
type Config struct {
	Name   string
	Format pixel.Format
}

// Surface is the output surface bound to the Channel.
type Surface struct {
	Config platform.RenderConfig
	Width  int
	Height int
}

type phase int

const (
	phaseCreated phase = iota
	phaseConnected
	phaseDisconnected
	phaseClosed
)

// Producer owns one render context and at most one Channel binding.
type Producer struct {
	handle *stream.Handle
	cfg    Config
	engine *device.Context

	phase    phase
	surface  *Surface
	endpoint *stream.ProducerEndpoint
	pushed   int
}

// New creates the render context for handle and binds the output surface.
func New(handle *stream.Handle, cfg Config) (*Producer, error) {
	if handle == nil || handle.Channel == nil {
		return nil, fmt.Errorf("%w: nil handle", ErrSurfaceBind)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "producer"
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSurfaceBind, err)
	}
	if !handle.Extensions.Has(platform.CapCreateProducerSurface) {
		return nil, fmt.Errorf("%w: capability %s not resolved", ErrSurfaceBind, platform.CapCreateProducerSurface)
	}
	engine, err := device.NewContext(cfg.Name+".render", device.EngineRender)
	if err != nil {
		return nil, err
	}
	p := &Producer{handle: handle, cfg: cfg, engine: engine}
	if err := p.BindSurface(cfg.Format.Width, cfg.Format.Height); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return p, nil
}

// BindSurface selects a stream-capable, alpha-carrying ES2 render config on
// the display and records the surface extents.
func (p *Producer) BindSurface(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: extent %dx%d", ErrSurfaceBind, width, height)
	}
	cfg, err := p.handle.Display.ChooseStreamConfig(platform.RenderAPIGLES2, 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSurfaceBind, err)
	}
	p.surface = &Surface{Config: cfg, Width: width, Height: height}
	logs.Infof("producer.Producer.BindSurface name=%s config=%d extent=%dx%d", p.cfg.Name, cfg.ID, width, height)
	return nil
}

func (p *Producer) Surface() *Surface {
	return p.surface
}

func (p *Producer) Pushed() int {
	return p.pushed
}

// Connect attaches the producer to the Channel. The consumer must already be attached.
func (p *Producer) Connect() error {
	switch {
	case p.phase == phaseClosed:
		return ErrClosed
	case p.surface == nil:
		return ErrNoSurface
	case p.phase != phaseCreated:
		return fmt.Errorf("%w: producer already attached", stream.ErrProducerConnect)
	}
	if p.surface.Width != p.cfg.Format.Width || p.surface.Height != p.cfg.Format.Height {
		return fmt.Errorf("%w: surface %dx%d does not match format %s", stream.ErrProducerConnect, p.surface.Width, p.surface.Height, p.cfg.Format)
	}
	ep, err := p.handle.Channel.ConnectProducer(p.cfg.Format)
	if err != nil {
		return err
	}
	p.endpoint = ep
	p.phase = phaseConnected
	return nil
}

// PushFrame loads one frame from source, uploads it into a Channel buffer on
// the render engine, waits for the upload fence and presents the buffer.
func (p *Producer) PushFrame(ctx context.Context, source fixture.Source) error {
	if p.phase != phaseConnected {
		return stream.ErrNotConnected
	}
	packed, err := source.Load(p.cfg.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPushFailed, err)
	}

	frame, err := p.endpoint.Dequeue()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	upload := func() error {
		return pixel.Unpack(p.cfg.Format, packed, frame.Planes())
	}
	fence := p.engine.Submit(upload)
	if err := fence.Wait(ctx); err != nil {
		// The buffer goes back to the pool only once the engine is done with it.
		<-fence.Done()
		if cerr := p.endpoint.Cancel(frame); cerr != nil {
			logs.Warnf("producer.Producer.PushFrame cancel failed frame=%d err=%v", frame.ID(), cerr)
		}
		return fmt.Errorf("%w: upload %s: %w", ErrPushFailed, source.Name(), err)
	}
	if err := p.endpoint.Present(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	p.pushed++
	logs.Infof("producer.Producer.PushFrame name=%s source=%s frame=%d seq=%d", p.cfg.Name, source.Name(), frame.ID(), frame.Seq())
	return nil
}

// Disconnect signals end of production. A second call returns
// ErrAlreadyDisconnected without touching the Channel.
func (p *Producer) Disconnect() error {
	switch p.phase {
	case phaseDisconnected:
		return ErrAlreadyDisconnected
	case phaseClosed:
		return ErrClosed
	case phaseCreated:
		return stream.ErrNotConnected
	}
	p.phase = phaseDisconnected
	if err := p.endpoint.Disconnect(); err != nil {
		return err
	}
	logs.Infof("producer.Producer.Disconnect name=%s pushed=%d", p.cfg.Name, p.pushed)
	return nil
}

// Connected reports whether the producer still holds its Channel binding.
func (p *Producer) Connected() bool {
	return p.phase == phaseConnected
}

// Close releases the render context and the surface. Closing twice is a no-op.
func (p *Producer) Close() error {
	if p.phase == phaseClosed {
		return nil
	}
	p.phase = phaseClosed
	p.surface = nil
	p.endpoint = nil
	return p.engine.Close()
}
