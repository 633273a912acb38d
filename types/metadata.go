package types

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// MetadataSize is the encoded width of TransactionMetadata.
const MetadataSize = 2 * NumKinds

// TransactionMetadata holds one uint16 count per kind in canonical order.
type TransactionMetadata struct {
	Counts [NumKinds]uint16 `json:"counts"`
}

func (m TransactionMetadata) Count(kind TxKind) uint16 {
	if !kind.Valid() {
		return 0
	}
	return m.Counts[kind]
}

// HardTransactionsCount sums the four hard counts.
func (m TransactionMetadata) HardTransactionsCount() uint64 {
	var n uint64
	for k := KindHardCreate; k <= KindHardAddSigner; k++ {
		n += uint64(m.Counts[k])
	}
	return n
}

// Creates is the number of accounts the block allocates.
func (m TransactionMetadata) Creates() uint32 {
	return uint32(m.Counts[KindHardCreate]) + uint32(m.Counts[KindSoftCreate])
}

// Total is the number of transactions in the block.
func (m TransactionMetadata) Total() int {
	n := 0
	for _, c := range m.Counts {
		n += int(c)
	}
	return n
}

// ExpectedDataLength is the transactionsData length this metadata implies.
func (m TransactionMetadata) ExpectedDataLength() int {
	n := MetadataSize
	for k, c := range m.Counts {
		n += int(c) * TxKind(k).Width()
	}
	return n
}

func (m TransactionMetadata) Encode() []byte {
	enc := codec.NewEncoder(MetadataSize)
	for _, c := range m.Counts {
		enc.PutUint16(c)
	}
	b, _ := enc.Bytes()
	return b
}

// DecodeMetadata reads the 16-byte header at the start of data.
func DecodeMetadata(data []byte) (TransactionMetadata, error) {
	var m TransactionMetadata
	if len(data) < MetadataSize {
		return m, fmt.Errorf("%w metadata is %d bytes", rollerrors.ErrCShortInput, len(data))
	}
	dec := codec.NewDecoder(data[:MetadataSize])
	for i := range m.Counts {
		m.Counts[i] = dec.Uint16()
	}
	return m, dec.Err()
}

func (m TransactionMetadata) String() string {
	parts := make([]string, 0, NumKinds)
	for k, c := range m.Counts {
		if c > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", TxKind(k), c))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
