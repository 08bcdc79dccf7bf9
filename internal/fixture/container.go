package fixture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/framestream/internal/pixel"
)

const (
	ContainerMagic   uint32 = 0xF5A3E001
	ContainerVersion uint16 = 1
	FixedHeaderLen   uint16 = 32
)

const (
	layoutCodeInterleaved uint16 = 1
	layoutCodePitchLinear uint16 = 2
)

var (
	ErrShortHeader       = errors.New("fixture: short container header")
	ErrBadMagic          = errors.New("fixture: container magic mismatch")
	ErrUnsupportedVer    = errors.New("fixture: unsupported container version")
	ErrHeaderLenTooSmall = errors.New("fixture: header_len smaller than fixed header")
	ErrPayloadTooLarge   = errors.New("fixture: payload too large")
	ErrExtentTooLarge    = errors.New("fixture: extent does not fit container header")
)

// Header is the fixed container header written in front of every framed payload.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Seq        uint64
	Width      uint16
	Height     uint16
	Layout     uint16
	Flags      uint16
	PayloadLen uint64
}

// Format decodes the frame shape carried by the header.
func (h Header) Format() (pixel.Format, error) {
	var layout pixel.Layout
	switch h.Layout {
	case layoutCodeInterleaved:
		layout = pixel.LayoutInterleaved
	case layoutCodePitchLinear:
		layout = pixel.LayoutPitchLinear
	default:
		return pixel.Format{}, fmt.Errorf("%w: layout code %d", pixel.ErrInvalidFormat, h.Layout)
	}
	f := pixel.Format{Width: int(h.Width), Height: int(h.Height), Layout: layout}
	return f, f.Validate()
}

// Container is one framed payload: packed planes plus their shape.
type Container struct {
	Header  Header
	Payload []byte
}

// Limits constrains container decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024 * 1024}
}

// NewContainer builds a container for packed data in format f.
func NewContainer(seq uint64, f pixel.Format, packed []byte) (Container, error) {
	if err := f.Validate(); err != nil {
		return Container{}, err
	}
	if f.Width > math.MaxUint16 || f.Height > math.MaxUint16 {
		return Container{}, fmt.Errorf("%w: %s", ErrExtentTooLarge, f)
	}
	if len(packed) != f.PackedSize() {
		return Container{}, fmt.Errorf("%w: got %d bytes want %d for %s", pixel.ErrSizeMismatch, len(packed), f.PackedSize(), f)
	}
	code := layoutCodeInterleaved
	if f.Layout == pixel.LayoutPitchLinear {
		code = layoutCodePitchLinear
	}
	return Container{
		Header: Header{
			Magic:   ContainerMagic,
			Version: ContainerVersion,
			Seq:     seq,
			Width:   uint16(f.Width),
			Height:  uint16(f.Height),
			Layout:  code,
		},
		Payload: packed,
	}, nil
}

func ReadContainer(r io.Reader, limits Limits) (Container, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Container{}, ErrShortHeader
		}
		return Container{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Container{}, err
	}
	if h.Magic != ContainerMagic {
		return Container{}, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	if h.Version != ContainerVersion {
		return Container{}, fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Container{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Container{}, ErrPayloadTooLarge
	}

	// Reserved header bytes beyond the fixed part are skipped.
	if extra := int64(h.HeaderLen - FixedHeaderLen); extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Container{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Container{}, err
		}
	}
	return Container{Header: h, Payload: payload}, nil
}

func WriteContainer(w io.Writer, c Container, limits Limits) error {
	payloadLen := uint64(len(c.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := c.Header
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(c.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Seq)
	binary.BigEndian.PutUint16(buf[16:18], h.Width)
	binary.BigEndian.PutUint16(buf[18:20], h.Height)
	binary.BigEndian.PutUint16(buf[20:22], h.Layout)
	binary.BigEndian.PutUint16(buf[22:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("fixture: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Seq:        binary.BigEndian.Uint64(b[8:16]),
		Width:      binary.BigEndian.Uint16(b[16:18]),
		Height:     binary.BigEndian.Uint16(b[18:20]),
		Layout:     binary.BigEndian.Uint16(b[20:22]),
		Flags:      binary.BigEndian.Uint16(b[22:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
