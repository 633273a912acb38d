// Package codec implements the packed, big-endian, fixed-width encoding
// used for every structure exchanged with the peg contract. There is no
// padding and no length prefix: widths are implied by the structure.
package codec

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// Encoder appends packed fields to an internal buffer. The first error
// encountered is sticky and returned by Bytes.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder creates an encoder with room for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// PutUint appends the low width bytes of v, failing when v does not fit.
func (e *Encoder) PutUint(v uint64, width int) *Encoder {
	if e.err != nil {
		return e
	}
	if width < 8 && v>>(8*uint(width)) != 0 {
		e.err = fmt.Errorf("%w value %d exceeds %d bytes", rollerrors.ErrCValueOutOfRange, v, width)
		return e
	}
	var tmp [8]byte
	common.PutUintN(tmp[:width], v, width)
	e.buf = append(e.buf, tmp[:width]...)
	return e
}

func (e *Encoder) PutUint8(v uint8) *Encoder   { return e.PutUint(uint64(v), 1) }
func (e *Encoder) PutUint16(v uint16) *Encoder { return e.PutUint(uint64(v), 2) }
func (e *Encoder) PutUint24(v uint32) *Encoder { return e.PutUint(uint64(v), 3) }
func (e *Encoder) PutUint32(v uint32) *Encoder { return e.PutUint(uint64(v), 4) }
func (e *Encoder) PutUint40(v uint64) *Encoder { return e.PutUint(v, 5) }
func (e *Encoder) PutUint56(v uint64) *Encoder { return e.PutUint(v, 7) }

func (e *Encoder) PutAddress(a common.Address) *Encoder {
	return e.PutBytes(a[:])
}

func (e *Encoder) PutHash(h common.Hash) *Encoder {
	return e.PutBytes(h[:])
}

func (e *Encoder) PutBytes(b []byte) *Encoder {
	if e.err == nil {
		e.buf = append(e.buf, b...)
	}
	return e
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Bytes returns the encoded bytes or the first error.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}
