package platform

import (
	"errors"
	"fmt"
	"sort"
)

// ErrExtensionResolution aggregates every required capability the driver does not export.
var ErrExtensionResolution = errors.New("platform: extension resolution failed")

// Capability is one driver extension entry point.
type Capability string

const (
	CapCreateStream            Capability = "eglCreateStreamKHR"
	CapDestroyStream           Capability = "eglDestroyStreamKHR"
	CapQueryStream             Capability = "eglQueryStreamKHR"
	CapStreamAttrib            Capability = "eglStreamAttribKHR"
	CapCreateProducerSurface   Capability = "eglCreateStreamProducerSurfaceKHR"
	CapStreamConsumerGLTexture Capability = "eglStreamConsumerGLTextureExternalKHR"
	CapStreamConsumerAcquire   Capability = "eglStreamConsumerAcquireKHR"
	CapStreamConsumerRelease   Capability = "eglStreamConsumerReleaseKHR"
)

// AllCapabilities lists every capability a healthy driver exports.
func AllCapabilities() []Capability {
	return []Capability{
		CapCreateStream,
		CapDestroyStream,
		CapQueryStream,
		CapStreamAttrib,
		CapCreateProducerSurface,
		CapStreamConsumerGLTexture,
		CapStreamConsumerAcquire,
		CapStreamConsumerRelease,
	}
}

// RequiredCapabilities is the set the stream exchange cannot run without.
func RequiredCapabilities() []Capability {
	return []Capability{
		CapCreateStream,
		CapDestroyStream,
		CapQueryStream,
		CapStreamAttrib,
		CapCreateProducerSurface,
	}
}

// Extensions is the resolved capability set produced by Negotiate.
type Extensions struct {
	resolved map[Capability]struct{}
}

// Has reports whether c was resolved.
func (x Extensions) Has(c Capability) bool {
	_, ok := x.resolved[c]
	return ok
}

// List returns resolved capabilities in sorted order.
func (x Extensions) List() []Capability {
	out := make([]Capability, 0, len(x.resolved))
	for c := range x.resolved {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Negotiate resolves required against the environment. Every missing entry
// point is reported in one error wrapping ErrExtensionResolution.
func (e Environment) Negotiate(required []Capability) (Extensions, error) {
	exported := make(map[Capability]struct{}, len(e.Capabilities))
	for _, c := range e.Capabilities {
		exported[c] = struct{}{}
	}

	resolved := make(map[Capability]struct{}, len(required))
	var missing []error
	for _, c := range required {
		if _, ok := exported[c]; !ok {
			missing = append(missing, fmt.Errorf("couldn't get address of %s()", c))
			continue
		}
		resolved[c] = struct{}{}
	}
	if len(missing) > 0 {
		return Extensions{}, fmt.Errorf("%w: %w", ErrExtensionResolution, errors.Join(missing...))
	}
	return Extensions{resolved: resolved}, nil
}
