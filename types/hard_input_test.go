package types

import (
	"testing"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookup struct {
	index map[common.Address]uint32
	size  uint32
}

func (l lookup) AccountIndexOf(a common.Address) (uint32, bool) {
	i, ok := l.index[a]
	return i, ok
}

func (l lookup) Size() uint32 { return l.size }

func TestDecodeHardTransactions(t *testing.T) {
	a0, _ := common.GetEVMDevAccount(0)
	a1, _ := common.GetEVMDevAccount(1)
	a2, _ := common.GetEVMDevAccount(2)
	state := lookup{index: map[common.Address]uint32{a0: 0}, size: 1}

	raw := make([][]byte, 0, 5)
	for _, f := range []func() ([]byte, error){
		func() ([]byte, error) { return EncodeRawDeposit(a0, a0, 50) },  // existing account
		func() ([]byte, error) { return EncodeRawDeposit(a1, a2, 500) }, // new account
		func() ([]byte, error) { return EncodeRawDeposit(a1, a1, 5) },   // pending create in this batch
		func() ([]byte, error) { return EncodeRawWithdraw(1, a2, 30) },
		func() ([]byte, error) { return EncodeRawAddSigner(0, a0, a2) },
	} {
		b, err := f()
		require.NoError(t, err)
		raw = append(raw, b)
	}

	txs, err := DecodeHardTransactions(raw, 10, state)
	require.NoError(t, err)
	require.Len(t, txs, 5)

	assert.Equal(t, &HardDeposit{HardTransactionIndex: 10, AccountIndex: 0, Value: 50}, txs[0])
	assert.Equal(t, &HardCreate{HardTransactionIndex: 11, AccountIndex: 1, Value: 500, ContractAddress: a1, SignerAddress: a2}, txs[1])
	assert.Equal(t, &HardDeposit{HardTransactionIndex: 12, AccountIndex: 1, Value: 5}, txs[2])
	assert.Equal(t, &HardWithdraw{HardTransactionIndex: 13, AccountIndex: 1, CallerAddress: a2, Value: 30}, txs[3])
	assert.Equal(t, &HardAddSigner{HardTransactionIndex: 14, AccountIndex: 0, CallerAddress: a0, SigningAddress: a2}, txs[4])
}

func TestDecodeHardTransactionsCreateOrder(t *testing.T) {
	a1, _ := common.GetEVMDevAccount(1)
	a2, _ := common.GetEVMDevAccount(2)
	state := lookup{index: map[common.Address]uint32{}, size: 3}

	d1, _ := EncodeRawDeposit(a1, a1, 1)
	d2, _ := EncodeRawDeposit(a2, a2, 1)
	txs, err := DecodeHardTransactions([][]byte{d1, d2}, 0, state)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), txs[0].(*HardCreate).AccountIndex)
	assert.Equal(t, uint32(4), txs[1].(*HardCreate).AccountIndex)
}

func TestDecodeHardTransactionsErrors(t *testing.T) {
	state := lookup{size: 0}
	_, err := DecodeHardTransactions([][]byte{{7, 1, 2}}, 0, state)
	assert.ErrorIs(t, err, rollerrors.ErrCUnknownHardPrefix)

	_, err = DecodeHardTransactions([][]byte{{HardPrefixWithdraw, 1, 2}}, 0, state)
	assert.ErrorIs(t, err, rollerrors.ErrCShortInput)

	_, err = DecodeHardTransactions([][]byte{{}}, 0, state)
	assert.ErrorIs(t, err, rollerrors.ErrCShortInput)
}
