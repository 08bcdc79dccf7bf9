package interop

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/framestream/internal/fixture"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/platform"
	"github.com/danmuck/framestream/internal/stream"
)

// FrameCount is the number of push/pull cycles in one exchange.
const FrameCount = 2

const (
	DefaultWidth  = 720
	DefaultHeight = 480
)

var (
	ErrInvalidConfig      = errors.New("interop: invalid service config")
	ErrFrameCountMismatch = errors.New("interop: frame count mismatch")
)

// ServiceConfig configures one exchange between a producer and a consumer.
type ServiceConfig struct {
	RunID          string
	Environment    platform.Environment
	Display        string
	Mode           stream.Mode
	Format         pixel.Format
	LatencyBudget  time.Duration
	AcquireTimeout time.Duration
	AcquireRetries int
	Inputs         []fixture.Source
	Outputs        []fixture.Sink
	StatusAddr     string
	CORSOrigins    []string
}

// Interop service defaults matching the reference exchange.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:    platform.DefaultEnvironment(),
		Display:        platform.DefaultDisplay,
		Mode:           stream.ModeMailbox,
		Format:         pixel.Format{Width: DefaultWidth, Height: DefaultHeight, Layout: pixel.LayoutPitchLinear},
		LatencyBudget:  16000 * time.Microsecond,
		AcquireTimeout: 16000 * time.Microsecond,
		AcquireRetries: 2,
		Inputs: []fixture.Source{
			fixture.FileSource{Path: "cuda_f_1.yuv"},
			fixture.FileSource{Path: "cuda_f_2.yuv"},
		},
		Outputs: []fixture.Sink{
			fixture.FileSink{Path: "cuda_out_1.yuv", Format: fixture.SinkRaw},
			fixture.FileSink{Path: "cuda_out_2.yuv", Format: fixture.SinkRaw},
		},
	}
}

// Validate checks the static shape of the config. Platform and Channel
// failures are reported by Run instead.
func (c ServiceConfig) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.AcquireRetries < 0 {
		return fmt.Errorf("%w: acquire retries %d", ErrInvalidConfig, c.AcquireRetries)
	}
	if len(c.Inputs) != FrameCount || len(c.Outputs) != FrameCount {
		return fmt.Errorf("%w: need %d inputs and %d outputs, got %d and %d", ErrInvalidConfig, FrameCount, FrameCount, len(c.Inputs), len(c.Outputs))
	}
	for i := 0; i < FrameCount; i++ {
		if c.Inputs[i] == nil || c.Outputs[i] == nil {
			return fmt.Errorf("%w: fixture %d is nil", ErrInvalidConfig, i+1)
		}
	}
	return nil
}
