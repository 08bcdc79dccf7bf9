package pixel

import "fmt"

// Unpack copies tightly packed host data into pitched planes.
func Unpack(f Format, packed []byte, dst [][]byte) error {
	planes := f.Planes()
	if len(packed) != f.PackedSize() {
		return fmt.Errorf("%w: have %d bytes, want %d for %s", ErrSizeMismatch, len(packed), f.PackedSize(), f)
	}
	if err := checkPlanes(planes, dst); err != nil {
		return err
	}
	off := 0
	for i, p := range planes {
		for row := 0; row < p.Rows; row++ {
			copy(dst[i][row*p.Pitch:row*p.Pitch+p.RowBytes], packed[off:off+p.RowBytes])
			off += p.RowBytes
		}
	}
	return nil
}

// Pack copies pitched planes into a new tightly packed buffer, dropping row padding.
func Pack(f Format, src [][]byte) ([]byte, error) {
	planes := f.Planes()
	if err := checkPlanes(planes, src); err != nil {
		return nil, err
	}
	out := make([]byte, 0, f.PackedSize())
	for i, p := range planes {
		for row := 0; row < p.Rows; row++ {
			out = append(out, src[i][row*p.Pitch:row*p.Pitch+p.RowBytes]...)
		}
	}
	return out, nil
}

func checkPlanes(planes []Plane, bufs [][]byte) error {
	if len(bufs) != len(planes) {
		return fmt.Errorf("%w: have %d planes, want %d", ErrSizeMismatch, len(bufs), len(planes))
	}
	for i, p := range planes {
		if len(bufs[i]) < p.Size() {
			return fmt.Errorf("%w: plane %d has %d bytes, want %d", ErrSizeMismatch, i, len(bufs[i]), p.Size())
		}
	}
	return nil
}
