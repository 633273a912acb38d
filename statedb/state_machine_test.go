package statedb

import (
	"crypto/ecdsa"
	"testing"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devKey(t *testing.T, i int) (common.Address, *ecdsa.PrivateKey) {
	t.Helper()
	addr, priv := common.GetEVMDevAccount(i)
	key, err := crypto.HexToECDSA(priv)
	require.NoError(t, err)
	return addr, key
}

func signed(t *testing.T, tx types.Transaction, key *ecdsa.PrivateKey) types.Transaction {
	t.Helper()
	require.NoError(t, types.SignTransaction(tx, key))
	return tx
}

func TestHardCreateThenSoftWithdrawal(t *testing.T) {
	a0, k0 := devKey(t, 0)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)

	create := &types.HardCreate{HardTransactionIndex: 0, Value: 500, ContractAddress: a0, SignerAddress: a0}
	root, err := sm.Apply(create)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), state.Size())
	assert.Equal(t, root, create.IntermediateStateRoot)
	assert.Equal(t, state.Root(), root)
	assert.NotEqual(t, trie.EmptyRoot(), root)

	w := signed(t, &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}, k0)
	root, err = sm.Apply(w)
	require.NoError(t, err)
	assert.Equal(t, state.Root(), root)
	assert.Equal(t, root, types.IntermediateStateRoot(w))

	acc, err := state.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), acc.Balance)
	assert.Equal(t, uint32(1), acc.Nonce)
}

func TestHardWithdrawFailureKeepsState(t *testing.T) {
	a0, _ := devKey(t, 0)
	a1, _ := devKey(t, 1)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)
	_, err := sm.Apply(&types.HardCreate{Value: 50, ContractAddress: a0, SignerAddress: a0})
	require.NoError(t, err)
	before := state.Root()

	w := &types.HardWithdraw{HardTransactionIndex: 1, AccountIndex: 0, CallerAddress: a0, Value: 51}
	root, err := sm.Apply(w)
	assert.True(t, IsHardFailure(err))
	assert.ErrorIs(t, err, rollerrors.ErrHInsufficientFunds)
	assert.True(t, root.IsZero())
	assert.True(t, w.IntermediateStateRoot.IsZero())
	assert.Equal(t, before, state.Root())

	_, err = sm.Apply(&types.HardWithdraw{AccountIndex: 0, CallerAddress: a1, Value: 1})
	assert.ErrorIs(t, err, rollerrors.ErrHCallerNotSigner)

	_, err = sm.Apply(&types.HardDeposit{AccountIndex: 9, Value: 1})
	assert.ErrorIs(t, err, rollerrors.ErrHAccountNotFound)
	assert.Equal(t, before, state.Root())

	_, err = sm.Apply(&types.HardDeposit{AccountIndex: 0, Value: common.MaxUint56})
	assert.ErrorIs(t, err, rollerrors.ErrHBalanceOverflow)
}

func TestHardAddSigner(t *testing.T) {
	a0, _ := devKey(t, 0)
	a1, _ := devKey(t, 1)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)
	_, err := sm.Apply(&types.HardCreate{Value: 1, ContractAddress: a0, SignerAddress: a0})
	require.NoError(t, err)

	add := &types.HardAddSigner{AccountIndex: 0, CallerAddress: a0, SigningAddress: a1}
	_, err = sm.Apply(add)
	require.NoError(t, err)
	acc, err := state.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a0, a1}, acc.Signers)

	_, err = sm.Apply(&types.HardAddSigner{AccountIndex: 0, CallerAddress: a1, SigningAddress: a1})
	assert.ErrorIs(t, err, rollerrors.ErrHSignerExists)

	for i := 2; len(acc.Signers) < types.MaxSigners; i++ {
		_, err = sm.Apply(&types.HardAddSigner{AccountIndex: 0, CallerAddress: a0, SigningAddress: common.BytesToAddress([]byte{byte(i)})})
		require.NoError(t, err)
		acc, _ = state.GetAccount(0)
	}
	_, err = sm.Apply(&types.HardAddSigner{AccountIndex: 0, CallerAddress: a0, SigningAddress: common.BytesToAddress([]byte{0xff})})
	assert.ErrorIs(t, err, rollerrors.ErrHTooManySigners)
}

func TestCreateThenDepositOrdering(t *testing.T) {
	a0, _ := devKey(t, 0)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)

	d0, err := types.EncodeRawDeposit(a0, a0, 10)
	require.NoError(t, err)
	d1, err := types.EncodeRawDeposit(a0, a0, 5)
	require.NoError(t, err)
	txs, err := types.DecodeHardTransactions([][]byte{d0, d1}, 0, state)
	require.NoError(t, err)
	require.IsType(t, &types.HardCreate{}, txs[0])
	require.IsType(t, &types.HardDeposit{}, txs[1])

	accepted, rejected, err := sm.ProcessTransactions(types.NewTransactions(txs...))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, 2, accepted.Len())
	acc, err := state.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), acc.Balance)

	// a second create for the same address is a duplicate
	_, err = sm.Apply(&types.HardCreate{Value: 1, ContractAddress: a0, SignerAddress: a0})
	assert.ErrorIs(t, err, rollerrors.ErrHDuplicateCreate)
}

func TestSoftRejections(t *testing.T) {
	a0, k0 := devKey(t, 0)
	a1, k1 := devKey(t, 1)
	a2, _ := devKey(t, 2)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)
	for _, a := range []common.Address{a0, a1} {
		_, err := sm.Apply(&types.HardCreate{Value: 100, ContractAddress: a, SignerAddress: a})
		require.NoError(t, err)
	}
	before := state.Root()

	stale := signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 1, Nonce: 3, Value: 1}, k0)
	_, err := sm.Apply(stale)
	require.True(t, IsSoftRejection(err))
	assert.ErrorIs(t, err, rollerrors.ErrSInvalidNonce)
	assert.Contains(t, err.Error(), "Expected nonce 0, got 3.")
	assert.True(t, types.IntermediateStateRoot(stale).IsZero())

	cases := []struct {
		name string
		tx   types.Transaction
		want error
	}{
		{"wrong signer", signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 1, Value: 1}, k1), rollerrors.ErrSInvalidSignature},
		{"overdraw", signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 1, Value: 101}, k0), rollerrors.ErrSInsufficientBalance},
		{"self", signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 0, Value: 1}, k0), rollerrors.ErrSSelfTransfer},
		{"missing target", signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 5, Value: 1}, k0), rollerrors.ErrSAccountNotFound},
		{"missing sender", signed(t, &types.SoftWithdrawal{FromIndex: 7, Value: 1}, k0), rollerrors.ErrSAccountNotFound},
		{"create index", signed(t, &types.SoftCreate{FromIndex: 0, ToIndex: 3, Value: 1, ContractAddress: a2, SigningAddress: a2}, k0), rollerrors.ErrSInvalidCreateIndex},
		{"create exists", signed(t, &types.SoftCreate{FromIndex: 0, ToIndex: 2, Value: 1, ContractAddress: a1, SigningAddress: a1}, k0), rollerrors.ErrSAccountExists},
		{"signer exists", signed(t, &types.SoftChangeSigner{FromIndex: 0, SigningAddress: a0}, k0), rollerrors.ErrSSignerExists},
		{"last signer", signed(t, &types.SoftChangeSigner{FromIndex: 0, SigningAddress: a0, ModificationCategory: types.SignerRemove}, k0), rollerrors.ErrSSignerBounds},
		{"category", signed(t, &types.SoftChangeSigner{FromIndex: 0, SigningAddress: a2, ModificationCategory: 7}, k0), rollerrors.ErrSInvalidCategory},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := sm.Apply(c.tx)
			require.True(t, IsSoftRejection(err), "got %v", err)
			assert.ErrorIs(t, err, c.want)
		})
	}
	assert.Equal(t, before, state.Root())
}

func TestSoftSuccessPaths(t *testing.T) {
	a0, k0 := devKey(t, 0)
	a1, _ := devKey(t, 1)
	a2, k2 := devKey(t, 2)
	state := NewMemoryAccountState()
	sm := NewStateMachine(state)
	_, err := sm.Apply(&types.HardCreate{Value: 100, ContractAddress: a0, SignerAddress: a0})
	require.NoError(t, err)
	_, err = sm.Apply(&types.HardCreate{Value: 0, ContractAddress: a1, SignerAddress: a1})
	require.NoError(t, err)

	txs := types.NewTransactions(
		signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 1, Nonce: 0, Value: 30}, k0),
		signed(t, &types.SoftCreate{FromIndex: 0, ToIndex: 2, Nonce: 1, Value: 20, ContractAddress: a2, SigningAddress: a2}, k0),
		signed(t, &types.SoftChangeSigner{FromIndex: 0, Nonce: 2, SigningAddress: a2}, k0),
	)
	// execution order is canonical: soft create runs before the transfer,
	// so the nonces above do not line up for the transfer
	accepted, rejected, err := sm.ProcessTransactions(txs)
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Equal(t, 1, accepted.Len())
	assert.ErrorIs(t, rejected[0].Err, rollerrors.ErrSInvalidNonce)

	txs = types.NewTransactions(
		signed(t, &types.SoftCreate{FromIndex: 0, ToIndex: 2, Nonce: 0, Value: 20, ContractAddress: a2, SigningAddress: a2}, k0),
		signed(t, &types.SoftTransfer{FromIndex: 0, ToIndex: 1, Nonce: 1, Value: 30}, k0),
		signed(t, &types.SoftChangeSigner{FromIndex: 0, Nonce: 2, SigningAddress: a2}, k0),
	)
	state2 := NewMemoryAccountState()
	sm2 := NewStateMachine(state2)
	_, err = sm2.Apply(&types.HardCreate{Value: 100, ContractAddress: a0, SignerAddress: a0})
	require.NoError(t, err)
	_, err = sm2.Apply(&types.HardCreate{Value: 0, ContractAddress: a1, SignerAddress: a1})
	require.NoError(t, err)
	accepted, rejected, err = sm2.ProcessTransactions(txs)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, 3, accepted.Len())

	acc0, _ := state2.GetAccount(0)
	acc1, _ := state2.GetAccount(1)
	acc2, _ := state2.GetAccount(2)
	assert.Equal(t, uint64(50), acc0.Balance)
	assert.Equal(t, uint32(3), acc0.Nonce)
	assert.Equal(t, []common.Address{a0, a2}, acc0.Signers)
	assert.Equal(t, uint64(30), acc1.Balance)
	assert.Equal(t, uint64(20), acc2.Balance)

	// the new signer can now remove the original one
	rm := signed(t, &types.SoftChangeSigner{FromIndex: 0, Nonce: 3, SigningAddress: a0, ModificationCategory: types.SignerRemove}, k2)
	_, err = sm2.Apply(rm)
	require.NoError(t, err)
	acc0, _ = state2.GetAccount(0)
	assert.Equal(t, []common.Address{a2}, acc0.Signers)

	last := txs.All()[len(txs.All())-1]
	assert.False(t, types.IntermediateStateRoot(last).IsZero())
}
