package codec

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// Decoder reads packed fields from a byte slice. Reads past the end set a
// sticky ErrCShortInput and return zero values.
type Decoder struct {
	data []byte
	off  int
	err  error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = fmt.Errorf("%w need %d bytes at offset %d, have %d", rollerrors.ErrCShortInput, n, d.off, len(d.data)-d.off)
		return nil
	}
	out := d.data[d.off : d.off+n]
	d.off += n
	return out
}

// Uint reads a big-endian unsigned integer of width bytes.
func (d *Decoder) Uint(width int) uint64 {
	b := d.take(width)
	if b == nil {
		return 0
	}
	return common.UintN(b)
}

func (d *Decoder) Uint8() uint8   { return uint8(d.Uint(1)) }
func (d *Decoder) Uint16() uint16 { return uint16(d.Uint(2)) }
func (d *Decoder) Uint24() uint32 { return uint32(d.Uint(3)) }
func (d *Decoder) Uint32() uint32 { return uint32(d.Uint(4)) }
func (d *Decoder) Uint40() uint64 { return d.Uint(5) }
func (d *Decoder) Uint56() uint64 { return d.Uint(7) }

func (d *Decoder) Address() common.Address {
	return common.BytesToAddress(d.Bytes(common.AddressLength))
}

func (d *Decoder) Hash() common.Hash {
	return common.BytesToHash(d.Bytes(common.HashLength))
}

func (d *Decoder) Signature() common.Signature {
	var sig common.Signature
	copy(sig[:], d.Bytes(common.SignatureLength))
	return sig
}

// Bytes returns a copy of the next n bytes.
func (d *Decoder) Bytes(n int) []byte {
	b := d.take(n)
	if b == nil {
		if n < 0 {
			return nil
		}
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Offset returns the number of bytes consumed.
func (d *Decoder) Offset() int {
	return d.off
}

func (d *Decoder) Err() error {
	return d.err
}

// Finish returns the first read error, or ErrCTrailingBytes if input is
// left over.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.data) {
		return fmt.Errorf("%w %d unread", rollerrors.ErrCTrailingBytes, len(d.data)-d.off)
	}
	return nil
}
