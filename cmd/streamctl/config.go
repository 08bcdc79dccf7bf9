package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/framestream/internal/fixture"
	"github.com/danmuck/framestream/internal/interop"
	"github.com/danmuck/framestream/internal/pixel"
	"github.com/danmuck/framestream/internal/stream"
)

type fileConfig struct {
	RunID            string   `toml:"run_id"`
	Display          string   `toml:"display"`
	Mode             string   `toml:"mode"`
	Width            int      `toml:"width"`
	Height           int      `toml:"height"`
	Layout           string   `toml:"layout"`
	Inputs           []string `toml:"inputs"`
	Outputs          []string `toml:"outputs"`
	SinkFormat       string   `toml:"sink_format"`
	LatencyUS        int64    `toml:"latency_us"`
	AcquireTimeoutUS int64    `toml:"acquire_timeout_us"`
	AcquireTimeout   string   `toml:"acquire_timeout"`
	AcquireRetries   int      `toml:"acquire_retries"`
	StatusAddr       string   `toml:"status_addr"`
	CORSOrigins      []string `toml:"cors_origins"`
	LegacyExitZero   bool     `toml:"legacy_exit_zero"`
}

// runConfig is the service config plus process-level policy.
type runConfig struct {
	Service        interop.ServiceConfig
	LegacyExitZero bool
}

func defaultRunConfig() runConfig {
	return runConfig{Service: interop.DefaultServiceConfig()}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load streamctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load streamctl config: unknown key %q", undecoded[0].String())
	}
	svc := &cfg.Service

	if meta.IsDefined("run_id") {
		svc.RunID = strings.TrimSpace(raw.RunID)
	}

	if meta.IsDefined("display") {
		svc.Display = strings.TrimSpace(raw.Display)
	}

	if meta.IsDefined("mode") {
		svc.Mode = stream.Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	}

	if meta.IsDefined("width") {
		svc.Format.Width = raw.Width
	}

	if meta.IsDefined("height") {
		svc.Format.Height = raw.Height
	}

	if meta.IsDefined("layout") {
		layout, err := pixel.ParseLayout(raw.Layout)
		if err != nil {
			return runConfig{}, fmt.Errorf("parse layout: %w", err)
		}
		svc.Format.Layout = layout
	}

	sinkFormat := fixture.SinkRaw
	if meta.IsDefined("sink_format") {
		sinkFormat, err = fixture.ParseSinkFormat(raw.SinkFormat)
		if err != nil {
			return runConfig{}, fmt.Errorf("parse sink_format: %w", err)
		}
	}

	if meta.IsDefined("inputs") {
		inputs := normalizePaths(raw.Inputs)
		svc.Inputs = make([]fixture.Source, 0, len(inputs))
		for _, p := range inputs {
			svc.Inputs = append(svc.Inputs, fixture.FileSource{Path: p})
		}
	}

	outputs := sinkPaths(svc.Outputs)
	if meta.IsDefined("outputs") {
		outputs = normalizePaths(raw.Outputs)
	}
	svc.Outputs = make([]fixture.Sink, 0, len(outputs))
	for _, p := range outputs {
		svc.Outputs = append(svc.Outputs, fixture.FileSink{Path: p, Format: sinkFormat})
	}

	if meta.IsDefined("latency_us") {
		svc.LatencyBudget = time.Duration(raw.LatencyUS) * time.Microsecond
	}

	if meta.IsDefined("acquire_timeout_us") {
		svc.AcquireTimeout = time.Duration(raw.AcquireTimeoutUS) * time.Microsecond
	}

	if meta.IsDefined("acquire_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.AcquireTimeout))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse acquire_timeout: %w", err)
		}
		svc.AcquireTimeout = d
	}

	if meta.IsDefined("acquire_retries") {
		svc.AcquireRetries = raw.AcquireRetries
	}

	if meta.IsDefined("status_addr") {
		svc.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}

	if meta.IsDefined("cors_origins") {
		svc.CORSOrigins = normalizePaths(raw.CORSOrigins)
	}

	if meta.IsDefined("legacy_exit_zero") {
		cfg.LegacyExitZero = raw.LegacyExitZero
	}

	if err := svc.Validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func sinkPaths(sinks []fixture.Sink) []string {
	out := make([]string, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.Name())
	}
	return out
}

func normalizePaths(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
