package logging

import (
	"github.com/rs/zerolog/log"
)

// Printf-style helpers over the global zerolog logger. Call sites format
// messages as "pkg.Type.method key=value ...".

func Debugf(format string, args ...any) {
	log.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	log.Error().Msgf(format, args...)
}

// Logf writes at no level; tests use it for step narration.
func Logf(format string, args ...any) {
	log.Log().Msgf(format, args...)
}
