package fixture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/framestream/internal/pixel"
)

// SinkFormat selects the on-disk form of written frames.
type SinkFormat string

const (
	SinkRaw    SinkFormat = "raw"
	SinkFramed SinkFormat = "framed"
)

func ParseSinkFormat(raw string) (SinkFormat, error) {
	switch SinkFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SinkRaw:
		return SinkRaw, nil
	case SinkFramed:
		return SinkFramed, nil
	default:
		return "", fmt.Errorf("%w: unknown sink format %q", ErrFixtureWrite, raw)
	}
}

// Sink receives one tightly packed frame.
type Sink interface {
	Name() string
	Write(seq uint64, f pixel.Format, packed []byte) error
}

func encode(form SinkFormat, seq uint64, f pixel.Format, packed []byte) ([]byte, error) {
	if len(packed) != f.PackedSize() {
		return nil, fmt.Errorf("%w: got %d bytes want %d for %s", pixel.ErrSizeMismatch, len(packed), f.PackedSize(), f)
	}
	switch form {
	case "", SinkRaw:
		return packed, nil
	case SinkFramed:
		c, err := NewContainer(seq, f, packed)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.Grow(int(FixedHeaderLen) + len(packed))
		if err := WriteContainer(&buf, c, DefaultLimits()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown sink format %q", form)
	}
}

// FileSink writes each frame to Path, replacing previous content.
type FileSink struct {
	Path   string
	Format SinkFormat
}

func (s FileSink) Name() string {
	return s.Path
}

func (s FileSink) Write(seq uint64, f pixel.Format, packed []byte) error {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrFixtureWrite)
	}
	data, err := encode(s.Format, seq, f, packed)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFixtureWrite, path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrFixtureWrite, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrFixtureWrite, err)
	}
	return nil
}

// MemorySink keeps the last written frame. Safe for concurrent use.
type MemorySink struct {
	Label  string
	Format SinkFormat

	mu     sync.Mutex
	data   []byte
	writes int
}

func NewMemorySink(label string, form SinkFormat) *MemorySink {
	return &MemorySink{Label: label, Format: form}
}

func (s *MemorySink) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

func (s *MemorySink) Write(seq uint64, f pixel.Format, packed []byte) error {
	data, err := encode(s.Format, seq, f, packed)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFixtureWrite, s.Name(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0], data...)
	s.writes++
	return nil
}

// Bytes returns a copy of the last written frame.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
