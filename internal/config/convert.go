package config

import (
	"path/filepath"
	"strings"

	"github.com/danmuck/framestream/internal/fixture"
	"github.com/danmuck/framestream/internal/pixel"
)

// FixtureJob pairs a generated source with the file it is written to.
type FixtureJob struct {
	Source fixture.PatternSource
	Sink   fixture.FileSink
}

// FixtureJobs expands a validated manifest. Relative paths resolve against OutDir.
func FixtureJobs(m FixtureManifest) []FixtureJob {
	form, _ := fixture.ParseSinkFormat(m.Format)
	jobs := make([]FixtureJob, 0, len(m.Fixtures))
	for _, entry := range m.Fixtures {
		pattern, _ := pixel.ParsePattern(entry.Pattern)
		path := strings.TrimSpace(entry.Path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.OutDir, path)
		}
		jobs = append(jobs, FixtureJob{
			Source: fixture.PatternSource{Pattern: pattern, Seed: entry.Seed},
			Sink:   fixture.FileSink{Path: path, Format: form},
		})
	}
	return jobs
}
