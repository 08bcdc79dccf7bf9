package pixel

import (
	"fmt"
	"strings"
)

// Pattern selects the synthetic content written by Generate.
type Pattern string

const (
	PatternGradient Pattern = "gradient"
	PatternBars     Pattern = "bars"
	PatternNoise    Pattern = "noise"
)

// Generate returns a tightly packed synthetic frame. Output is deterministic for a given seed.
func Generate(f Format, pattern Pattern, seed uint32) []byte {
	out := make([]byte, 0, f.PackedSize())
	state := seed | 1
	for plane, p := range f.Planes() {
		for y := 0; y < p.Rows; y++ {
			for x := 0; x < p.RowBytes; x++ {
				var v byte
				switch pattern {
				case PatternBars:
					v = byte((x*8/max(p.RowBytes, 1))*32 + plane*16 + int(seed))
				case PatternNoise:
					state ^= state << 13
					state ^= state >> 17
					state ^= state << 5
					v = byte(state)
				default:
					v = byte(x + y + plane*64 + int(seed))
				}
				out = append(out, v)
			}
		}
	}
	return out
}

// ParsePattern accepts a pattern name; empty selects PatternGradient.
func ParsePattern(raw string) (Pattern, error) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PatternGradient, nil
	case PatternGradient, PatternBars, PatternNoise:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown pattern %q", ErrInvalidFormat, raw)
	}
}
