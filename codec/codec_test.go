package codec

import (
	"testing"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderDecoder(t *testing.T) {
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	root := common.Keccak256([]byte("root"))

	enc := NewEncoder(64)
	enc.PutUint8(7).PutUint24(0xabcdef).PutUint40(1 << 39).PutUint56(common.MaxUint56).PutAddress(addr).PutHash(root)
	out, err := enc.Bytes()
	require.NoError(t, err)
	assert.Len(t, out, 1+3+5+7+20+32)
	assert.Equal(t, []byte{7, 0xab, 0xcd, 0xef}, out[:4])

	dec := NewDecoder(out)
	assert.Equal(t, uint8(7), dec.Uint8())
	assert.Equal(t, uint32(0xabcdef), dec.Uint24())
	assert.Equal(t, uint64(1<<39), dec.Uint40())
	assert.Equal(t, uint64(common.MaxUint56), dec.Uint56())
	assert.Equal(t, addr, dec.Address())
	assert.Equal(t, root, dec.Hash())
	assert.NoError(t, dec.Finish())
}

func TestEncoderRangeCheck(t *testing.T) {
	_, err := NewEncoder(3).PutUint24(1 << 24).Bytes()
	assert.ErrorIs(t, err, rollerrors.ErrCValueOutOfRange)
}

func TestDecoderShortAndTrailing(t *testing.T) {
	dec := NewDecoder([]byte{1, 2})
	dec.Uint24()
	assert.ErrorIs(t, dec.Finish(), rollerrors.ErrCShortInput)

	dec = NewDecoder([]byte{1, 2, 3})
	dec.Uint16()
	assert.Equal(t, 1, dec.Remaining())
	assert.ErrorIs(t, dec.Finish(), rollerrors.ErrCTrailingBytes)
}
