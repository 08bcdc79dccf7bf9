package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/framestream/internal/fixture"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/pelletier/go-toml/v2"
)

// FixtureManifest describes a set of synthetic raw-frame fixtures.
type FixtureManifest struct {
	Width    int            `toml:"width"`
	Height   int            `toml:"height"`
	Layout   string         `toml:"layout"`
	Format   string         `toml:"format"`
	OutDir   string         `toml:"out_dir"`
	Fixtures []FixtureEntry `toml:"fixtures"`
}

type FixtureEntry struct {
	Path    string `toml:"path"`
	Pattern string `toml:"pattern"`
	Seed    uint32 `toml:"seed"`
}

func LoadFixtureManifest(path string) (FixtureManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FixtureManifest{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	m, err := decodeFixtureManifest(data)
	if err != nil {
		return FixtureManifest{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return m, nil
}

// DefaultFixtureManifest returns the manifest for the two reference fixtures.
func DefaultFixtureManifest() (FixtureManifest, error) {
	return decodeFixtureManifest([]byte(fixturesTemplate))
}

func decodeFixtureManifest(data []byte) (FixtureManifest, error) {
	var m FixtureManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return FixtureManifest{}, err
	}
	if m.Width == 0 {
		m.Width = 720
	}
	if m.Height == 0 {
		m.Height = 480
	}
	if strings.TrimSpace(m.Layout) == "" {
		m.Layout = string(pixel.LayoutPitchLinear)
	}
	if strings.TrimSpace(m.OutDir) == "" {
		m.OutDir = "."
	}
	if err := ValidateFixtureManifest(m); err != nil {
		return FixtureManifest{}, err
	}
	return m, nil
}

// PixelFormat returns the frame format shared by every fixture in m.
func (m FixtureManifest) PixelFormat() (pixel.Format, error) {
	layout, err := pixel.ParseLayout(m.Layout)
	if err != nil {
		return pixel.Format{}, err
	}
	f := pixel.Format{Width: m.Width, Height: m.Height, Layout: layout}
	return f, f.Validate()
}

func ValidateFixtureManifest(m FixtureManifest) error {
	if _, err := m.PixelFormat(); err != nil {
		return fmt.Errorf("fixture manifest format invalid: %w", err)
	}
	if _, err := fixture.ParseSinkFormat(m.Format); err != nil {
		return fmt.Errorf("fixture manifest format invalid: %w", err)
	}
	if len(m.Fixtures) == 0 {
		return fmt.Errorf("fixture manifest has no fixtures")
	}
	seen := make(map[string]struct{}, len(m.Fixtures))
	for i, entry := range m.Fixtures {
		if err := ValidateFixtureEntry(entry); err != nil {
			return fmt.Errorf("fixtures[%d] invalid: %w", i, err)
		}
		path := strings.TrimSpace(entry.Path)
		if _, dup := seen[path]; dup {
			return fmt.Errorf("fixtures[%d] invalid: duplicate path %q", i, path)
		}
		seen[path] = struct{}{}
	}
	return nil
}

func ValidateFixtureEntry(entry FixtureEntry) error {
	if strings.TrimSpace(entry.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := pixel.ParsePattern(entry.Pattern); err != nil {
		return err
	}
	return nil
}
