// Package pixel describes frame geometry: layouts, plane extents, row pitch,
// and the conversions between tightly packed host data and pitched planes.
package pixel

import (
	"errors"
	"fmt"
	"strings"
)

// Layout selects how pixels are arranged in frame memory.
type Layout string

const (
	// LayoutInterleaved is a single ARGB plane, four bytes per pixel.
	LayoutInterleaved Layout = "interleaved"
	// LayoutPitchLinear is planar YUV 4:2:0 with each row padded to PitchAlign.
	LayoutPitchLinear Layout = "pitch_linear"
)

// PitchAlign is the row alignment applied to every plane in device memory.
const PitchAlign = 64

var (
	ErrInvalidFormat = errors.New("pixel: invalid format")
	ErrSizeMismatch  = errors.New("pixel: data size mismatch")
)

// ParseLayout accepts the config spellings of a layout.
func ParseLayout(raw string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pitch_linear", "pitchlinear", "pitch-linear", "yuv420", "planar":
		return LayoutPitchLinear, nil
	case "interleaved", "argb":
		return LayoutInterleaved, nil
	default:
		return "", fmt.Errorf("%w: unknown layout %q", ErrInvalidFormat, raw)
	}
}

// Format is the frame shape shared by producer, channel and consumer.
type Format struct {
	Width  int
	Height int
	Layout Layout
}

// Plane is the geometry of one plane in device memory.
type Plane struct {
	RowBytes int
	Rows     int
	Pitch    int
}

// Size returns the pitched byte size of the plane.
func (p Plane) Size() int {
	return p.Pitch * p.Rows
}

// Packed returns the tightly packed byte size of the plane.
func (p Plane) Packed() int {
	return p.RowBytes * p.Rows
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d/%s", f.Width, f.Height, f.Layout)
}

// Validate rejects non-positive extents, odd planar extents and unknown layouts.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: extent %dx%d", ErrInvalidFormat, f.Width, f.Height)
	}
	switch f.Layout {
	case LayoutInterleaved:
		return nil
	case LayoutPitchLinear:
		if f.Width%2 != 0 || f.Height%2 != 0 {
			return fmt.Errorf("%w: yuv420 requires even extent, got %dx%d", ErrInvalidFormat, f.Width, f.Height)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown layout %q", ErrInvalidFormat, f.Layout)
	}
}

// Planes returns the plane geometry for the format. The format must be valid.
func (f Format) Planes() []Plane {
	switch f.Layout {
	case LayoutInterleaved:
		rowBytes := f.Width * 4
		return []Plane{{RowBytes: rowBytes, Rows: f.Height, Pitch: alignPitch(rowBytes)}}
	case LayoutPitchLinear:
		cw, ch := f.Width/2, f.Height/2
		return []Plane{
			{RowBytes: f.Width, Rows: f.Height, Pitch: alignPitch(f.Width)},
			{RowBytes: cw, Rows: ch, Pitch: alignPitch(cw)},
			{RowBytes: cw, Rows: ch, Pitch: alignPitch(cw)},
		}
	default:
		return nil
	}
}

// PackedSize is the byte length of a tightly packed frame, i.e. a fixture file.
func (f Format) PackedSize() int {
	total := 0
	for _, p := range f.Planes() {
		total += p.Packed()
	}
	return total
}

// Allocate returns zeroed pitched planes for the format.
func (f Format) Allocate() [][]byte {
	planes := f.Planes()
	out := make([][]byte, len(planes))
	for i, p := range planes {
		out[i] = make([]byte, p.Size())
	}
	return out
}

func alignPitch(rowBytes int) int {
	return (rowBytes + PitchAlign - 1) / PitchAlign * PitchAlign
}
