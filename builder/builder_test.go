package builder

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/storage"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChain struct {
	peg     *peg.MemoryPeg
	state   *statedb.AccountState
	archive *storage.BlockArchive
	builder *Builder
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	store, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	c := &testChain{
		peg:     peg.NewMemoryPeg(types.GenesisBlock(trie.EmptyRoot()).Commitment, 0),
		state:   statedb.NewMemoryAccountState(),
		archive: storage.NewBlockArchive(store),
	}
	c.builder, err = NewBuilder(DefaultConfig(), c.state, c.archive, c.peg)
	require.NoError(t, err)
	return c
}

func (c *testChain) buildAndSubmit(t *testing.T) *types.Block {
	t.Helper()
	ctx := context.Background()
	blk, err := c.builder.BuildBlock(ctx)
	require.NoError(t, err)
	_, err = c.builder.SubmitLatest(ctx)
	require.NoError(t, err)
	return blk
}

func devKey(t *testing.T, i int) (common.Address, *ecdsa.PrivateKey) {
	t.Helper()
	addr, priv := common.GetEVMDevAccount(i)
	key, err := crypto.HexToECDSA(priv)
	require.NoError(t, err)
	return addr, key
}

func TestBuilderGenesis(t *testing.T) {
	c := newTestChain(t)
	g, err := c.builder.Genesis()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g.Header.BlockNumber)
	assert.Equal(t, trie.EmptyRoot(), g.Header.StateRoot)
	require.NotNil(t, g.Commitment)

	pegGenesis, err := c.peg.Commitment(0)
	require.NoError(t, err)
	assert.Equal(t, pegGenesis.Header, g.Header)
}

func TestBuilderHardCreateThenSoftWithdrawal(t *testing.T) {
	c := newTestChain(t)
	a0, k0 := devKey(t, 0)

	_, err := c.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	blk1 := c.buildAndSubmit(t)
	assert.Equal(t, uint32(1), blk1.Header.BlockNumber)
	assert.Equal(t, uint32(1), blk1.Header.StateSize)
	assert.Equal(t, uint64(1), blk1.Header.HardTransactionsCount)
	require.Len(t, blk1.Transactions.HardCreates, 1)
	assert.Equal(t, c.state.Root(), blk1.Header.StateRoot)

	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	require.NoError(t, types.SignTransaction(w, k0))
	res, err := c.builder.SubmitSoftTransaction(w)
	require.NoError(t, err)

	blk2 := c.buildAndSubmit(t)
	r := <-res
	require.NoError(t, r.Err)
	assert.Equal(t, uint32(2), r.BlockNumber)
	assert.Equal(t, blk2.Header.StateRoot, r.Root)
	assert.Equal(t, uint64(1), blk2.Header.HardTransactionsCount)

	acc, err := c.state.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), acc.Balance)
	assert.Equal(t, uint32(1), acc.Nonce)

	// the body round-trips and matches the committed hash
	txs, meta, err := types.DecodeTransactionsData(blk2.TransactionsData)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), meta.Count(types.KindSoftWithdrawal))
	assert.Equal(t, 1, txs.Len())
	assert.Equal(t, common.Keccak256(blk2.TransactionsData), blk2.Commitment.TransactionsHash)
}

func TestBuilderRejectsStaleNonce(t *testing.T) {
	c := newTestChain(t)
	a0, k0 := devKey(t, 0)
	_, err := c.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	c.buildAndSubmit(t)

	first := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 10}
	stale := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 20}
	require.NoError(t, types.SignTransaction(first, k0))
	require.NoError(t, types.SignTransaction(stale, k0))
	r1, err := c.builder.SubmitSoftTransaction(first)
	require.NoError(t, err)
	r2, err := c.builder.SubmitSoftTransaction(stale)
	require.NoError(t, err)

	blk := c.buildAndSubmit(t)
	assert.NoError(t, (<-r1).Err)
	res := <-r2
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, rollerrors.ErrSInvalidNonce)
	assert.Contains(t, res.Err.Error(), "Expected nonce 1, got 0.")
	assert.Equal(t, 1, blk.Transactions.Len())

	stats := c.builder.Queue().GetStats()
	assert.Equal(t, 2, stats.Received)
	assert.Equal(t, 1, stats.Included)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.Queued)
}

func TestBuilderParentPending(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()
	_, err := c.builder.BuildBlock(ctx)
	require.NoError(t, err)
	_, err = c.builder.BuildBlock(ctx)
	assert.ErrorIs(t, err, rollerrors.ErrBParentPending)

	_, err = c.builder.SubmitLatest(ctx)
	require.NoError(t, err)
	_, err = c.builder.SubmitLatest(ctx)
	assert.ErrorIs(t, err, rollerrors.ErrBAlreadySubmitted)
}

func TestBuilderAddOutputMismatch(t *testing.T) {
	c := newTestChain(t)
	blk, err := c.builder.BuildBlock(context.Background())
	require.NoError(t, err)

	forged := blk.NewCommitment(7)
	forged.StateSize++
	assert.ErrorIs(t, c.builder.AddOutput(forged), rollerrors.ErrBOutputMismatch)
	require.NoError(t, c.builder.AddOutput(blk.NewCommitment(7)))

	stored, err := c.archive.GetBlock(1)
	require.NoError(t, err)
	require.NotNil(t, stored.Commitment)
	assert.Equal(t, uint64(7), stored.Commitment.SubmittedAt)
}

func TestBuilderResume(t *testing.T) {
	c := newTestChain(t)
	a0, _ := devKey(t, 0)
	_, err := c.peg.Deposit(a0, a0, 42)
	require.NoError(t, err)
	blk := c.buildAndSubmit(t)

	again, err := NewBuilder(DefaultConfig(), c.state, c.archive, c.peg)
	require.NoError(t, err)
	assert.Equal(t, blk.Header, again.Latest().Header)
	assert.Equal(t, blk.Hash(), again.Latest().Hash())

	_, err = NewBuilder(DefaultConfig(), statedb.NewMemoryAccountState(), c.archive, c.peg)
	assert.ErrorIs(t, err, rollerrors.ErrBStateMismatch)
}

func TestBuilderBlockTransactionLimit(t *testing.T) {
	c := newTestChain(t)
	c.builder.config.MaxBlockTransactions = 2
	for i := 0; i < 3; i++ {
		a, _ := devKey(t, i)
		_, err := c.peg.Deposit(a, a, 1)
		require.NoError(t, err)
	}
	blk := c.buildAndSubmit(t)
	assert.Equal(t, uint64(2), blk.Header.HardTransactionsCount)
	blk = c.buildAndSubmit(t)
	assert.Equal(t, uint64(3), blk.Header.HardTransactionsCount)
	assert.Equal(t, uint32(3), blk.Header.StateSize)
}

func TestBuilderSameTransactionQueuedTwice(t *testing.T) {
	c := newTestChain(t)
	a0, k0 := devKey(t, 0)
	_, err := c.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	c.buildAndSubmit(t)

	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	require.NoError(t, types.SignTransaction(w, k0))
	r1, err := c.builder.SubmitSoftTransaction(w)
	require.NoError(t, err)
	r2, err := c.builder.SubmitSoftTransaction(w)
	require.NoError(t, err)
	// the queue holds its own copy
	w.Value = 999

	blk := c.buildAndSubmit(t)
	require.Len(t, blk.Transactions.SoftWithdrawals, 1)
	assert.Equal(t, uint64(100), blk.Transactions.SoftWithdrawals[0].Value)
	assert.True(t, w.IntermediateStateRoot.IsZero())

	first := <-r1
	require.NoError(t, first.Err)
	assert.Equal(t, blk.Header.StateRoot, first.Root)
	second := <-r2
	assert.ErrorIs(t, second.Err, rollerrors.ErrSInvalidNonce)
	_, open := <-r2
	assert.False(t, open)

	acc, err := c.state.GetAccount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), acc.Balance)
	assert.Equal(t, blk.Header, c.builder.Latest().Header)
}
