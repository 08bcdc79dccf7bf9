package main

import (
	"fmt"

	"github.com/danmuck/framestream/internal/config"
	logs "github.com/danmuck/framestream/internal/logging"
)

// loadManifest reads path, or the built-in manifest when path is empty.
func loadManifest(path string) (config.FixtureManifest, error) {
	if path == "" {
		return config.DefaultFixtureManifest()
	}
	return config.LoadFixtureManifest(path)
}

func generate(m config.FixtureManifest) ([]string, error) {
	f, err := m.PixelFormat()
	if err != nil {
		return nil, err
	}
	jobs := config.FixtureJobs(m)
	written := make([]string, 0, len(jobs))
	for i, job := range jobs {
		packed, err := job.Source.Load(f)
		if err != nil {
			return written, fmt.Errorf("fixture %d: %w", i+1, err)
		}
		if err := job.Sink.Write(uint64(i+1), f, packed); err != nil {
			return written, fmt.Errorf("fixture %d: %w", i+1, err)
		}
		logs.Debugf("fixturegen.generate path=%s source=%s bytes=%d", job.Sink.Path, job.Source.Name(), len(packed))
		written = append(written, job.Sink.Path)
	}
	return written, nil
}
