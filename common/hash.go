package common

import (
	"golang.org/x/crypto/sha3"
)

const (
	MaxUint24 = 1<<24 - 1
	MaxUint40 = 1<<40 - 1
	MaxUint56 = 1<<56 - 1
)

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	return BytesToHash(hash.Sum(nil))
}

// The peg's wire format is big-endian with odd integer widths (u24, u40,
// u56), which encoding/binary does not cover.

// PutUintN writes the low `width` bytes of val into b, big-endian.
func PutUintN(b []byte, val uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(val)
		val >>= 8
	}
}

// UintN reads a big-endian unsigned integer of len(b) bytes.
func UintN(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func Uint16ToBytes(v uint16) []byte {
	b := make([]byte, 2)
	PutUintN(b, uint64(v), 2)
	return b
}

func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	PutUintN(b, uint64(v), 4)
	return b
}

func Uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	PutUintN(b, v, 8)
	return b
}

func IsNilHash(h Hash) bool {
	return h == Hash{}
}
