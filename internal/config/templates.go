package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fixtures":
		return fixturesTemplate, nil
	case "run":
		return runTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const fixturesTemplate = `width = 720
height = 480
layout = "pitch_linear"
format = "raw"
out_dir = "."

[[fixtures]]
path = "cuda_f_1.yuv"
pattern = "gradient"
seed = 1

[[fixtures]]
path = "cuda_f_2.yuv"
pattern = "bars"
seed = 2
`

const runTemplate = `display = "default"
mode = "mailbox"
width = 720
height = 480
layout = "pitch_linear"
inputs = ["cuda_f_1.yuv", "cuda_f_2.yuv"]
outputs = ["cuda_out_1.yuv", "cuda_out_2.yuv"]
sink_format = "raw"
latency_us = 16000
acquire_timeout_us = 16000
acquire_retries = 2
status_addr = ""
cors_origins = ["http://localhost:3000"]
legacy_exit_zero = false
`
