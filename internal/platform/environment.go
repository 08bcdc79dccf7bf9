// Package platform owns the display environment.
//
// Ownership boundary:
// - display open/initialize/terminate
//
// - render configuration selection for stream surfaces
//
// - capability negotiation at startup
//
// The display must outlive every Channel created on it.
package platform

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const DefaultDisplay = "default"

var (
	ErrNoDisplay         = errors.New("platform: no display")
	ErrDisplayClosed     = errors.New("platform: display terminated")
	ErrNoRenderConfig    = errors.New("platform: no compatible render configuration")
	ErrDisplayInitialize = errors.New("platform: display initialize failed")
)

// RenderAPI names a client API a render configuration can drive.
type RenderAPI string

const (
	RenderAPIGLES2 RenderAPI = "gles2"
	RenderAPIGL    RenderAPI = "gl"
)

// RenderConfig is one framebuffer configuration exported by a display.
type RenderConfig struct {
	ID            int
	StreamSurface bool
	Renderable    []RenderAPI
	AlphaSize     int
}

func (c RenderConfig) renders(api RenderAPI) bool {
	for _, a := range c.Renderable {
		if a == api {
			return true
		}
	}
	return false
}

// DisplayEntry describes a display the environment can open.
type DisplayEntry struct {
	Name           string
	Configs        []RenderConfig
	FailInitialize bool
}

// Environment is the platform as seen by one run: the displays it can open and
// the extension functions its driver exports.
type Environment struct {
	Displays     []DisplayEntry
	Capabilities []Capability
}

// DefaultEnvironment exposes one stream-capable display and every known capability.
func DefaultEnvironment() Environment {
	return Environment{
		Displays: []DisplayEntry{{
			Name: DefaultDisplay,
			Configs: []RenderConfig{
				{ID: 1, StreamSurface: false, Renderable: []RenderAPI{RenderAPIGL}, AlphaSize: 8},
				{ID: 2, StreamSurface: true, Renderable: []RenderAPI{RenderAPIGLES2, RenderAPIGL}, AlphaSize: 8},
			},
		}},
		Capabilities: AllCapabilities(),
	}
}

// Display is an opened, initialized display handle.
type Display struct {
	mu          sync.RWMutex
	name        string
	configs     []RenderConfig
	initialized bool
	closed      bool
}

// OpenDisplay looks up and initializes a display by name. Empty name selects DefaultDisplay.
func (e Environment) OpenDisplay(name string) (*Display, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDisplay
	}
	for _, entry := range e.Displays {
		if entry.Name != name {
			continue
		}
		if entry.FailInitialize {
			return nil, fmt.Errorf("%w: %s", ErrDisplayInitialize, name)
		}
		configs := make([]RenderConfig, len(entry.Configs))
		copy(configs, entry.Configs)
		return &Display{name: name, configs: configs, initialized: true}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDisplay, name)
}

func (d *Display) Name() string {
	if d == nil {
		return ""
	}
	return d.name
}

// Valid reports whether the display is initialized and not terminated.
func (d *Display) Valid() bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized && !d.closed
}

// ChooseStreamConfig returns the first config that can back a stream producer surface.
func (d *Display) ChooseStreamConfig(api RenderAPI, minAlpha int) (RenderConfig, error) {
	if !d.Valid() {
		return RenderConfig{}, ErrDisplayClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, cfg := range d.configs {
		if cfg.StreamSurface && cfg.renders(api) && cfg.AlphaSize >= minAlpha {
			return cfg, nil
		}
	}
	return RenderConfig{}, fmt.Errorf("%w: display=%s api=%s alpha>=%d", ErrNoRenderConfig, d.name, api, minAlpha)
}

// Terminate releases the display. Terminating twice is a no-op.
func (d *Display) Terminate() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}
