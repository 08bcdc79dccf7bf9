// Package fixture reads input frames and writes output frames on the host.
//
// Two on-disk forms are understood: raw (tightly packed planes, nothing
// else) and framed (a 32-byte container header followed by the raw bytes).
package fixture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/framestream/internal/pixel"
)

var (
	ErrFixtureLoad  = errors.New("fixture: load failed")
	ErrFixtureWrite = errors.New("fixture: write failed")
	ErrFormatDiffer = errors.New("fixture: framed header does not match frame format")
)

// Source yields one tightly packed frame for a format.
type Source interface {
	Name() string
	Load(f pixel.Format) ([]byte, error)
}

// FileSource loads a raw or framed fixture file.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return s.Path
}

func (s FileSource) Load(f pixel.Format) ([]byte, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrFixtureLoad)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFixtureLoad, err)
	}
	packed, err := decodeFixture(data, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFixtureLoad, path, err)
	}
	return packed, nil
}

// MemorySource serves a frame held in memory.
type MemorySource struct {
	Label string
	Data  []byte
}

func (s MemorySource) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

func (s MemorySource) Load(f pixel.Format) ([]byte, error) {
	packed, err := decodeFixture(s.Data, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFixtureLoad, s.Name(), err)
	}
	out := make([]byte, len(packed))
	copy(out, packed)
	return out, nil
}

// PatternSource generates a deterministic synthetic frame.
type PatternSource struct {
	Pattern pixel.Pattern
	Seed    uint32
}

func (s PatternSource) Name() string {
	return fmt.Sprintf("pattern:%s/%d", s.Pattern, s.Seed)
}

func (s PatternSource) Load(f pixel.Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFixtureLoad, err)
	}
	return pixel.Generate(f, s.Pattern, s.Seed), nil
}

func decodeFixture(data []byte, f pixel.Format) ([]byte, error) {
	if isFramed(data) {
		c, err := ReadContainer(bytes.NewReader(data), DefaultLimits())
		if err != nil {
			return nil, err
		}
		got, err := c.Header.Format()
		if err != nil {
			return nil, err
		}
		if got != f {
			return nil, fmt.Errorf("%w: header=%s frame=%s", ErrFormatDiffer, got, f)
		}
		data = c.Payload
	}
	if len(data) != f.PackedSize() {
		return nil, fmt.Errorf("%w: got %d bytes want %d for %s", pixel.ErrSizeMismatch, len(data), f.PackedSize(), f)
	}
	return data, nil
}

func isFramed(data []byte) bool {
	return len(data) >= int(FixedHeaderLen) && binary.BigEndian.Uint32(data[0:4]) == ContainerMagic
}
