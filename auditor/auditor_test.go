package auditor

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/colorfulnotion/pegrollup/builder"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/storage"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	peg     *peg.MemoryPeg
	builder *builder.Builder
	auditor *Auditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	genesis := types.GenesisBlock(trie.EmptyRoot())
	h := &harness{peg: peg.NewMemoryPeg(genesis.Commitment, 10)}
	h.builder, err = builder.NewBuilder(builder.DefaultConfig(), statedb.NewMemoryAccountState(), storage.NewBlockArchive(store), h.peg)
	require.NoError(t, err)
	h.auditor, err = NewAuditor(h.peg, statedb.NewMemoryAccountState(), genesis.Commitment, 2)
	require.NoError(t, err)
	return h
}

func devKey(t *testing.T, i int) (common.Address, *ecdsa.PrivateKey) {
	t.Helper()
	addr, priv := common.GetEVMDevAccount(i)
	key, err := crypto.HexToECDSA(priv)
	require.NoError(t, err)
	return addr, key
}

// build produces the next block without submitting it.
func (h *harness) build(t *testing.T) *types.Block {
	t.Helper()
	blk, err := h.builder.BuildBlock(context.Background())
	require.NoError(t, err)
	return blk
}

// submitValid submits the builder's latest block and audits it.
func (h *harness) submitValid(t *testing.T) *types.Commitment {
	t.Helper()
	ctx := context.Background()
	c, err := h.builder.SubmitLatest(ctx)
	require.NoError(t, err)
	proof, err := h.auditor.AuditBlock(ctx, c, h.builder.Latest().TransactionsData)
	require.NoError(t, err)
	require.Nil(t, proof)
	return c
}

// submitForged re-encodes txs under header, fixing up the transactions
// root so the body stays self-consistent, and submits it to the peg.
func (h *harness) submitForged(t *testing.T, header types.Header, txs *types.Transactions) (*types.Commitment, []byte) {
	t.Helper()
	data, err := txs.Encode()
	require.NoError(t, err)
	leaves, err := txs.Leaves()
	require.NoError(t, err)
	header.TransactionsRoot = trie.TransactionsRoot(leaves)
	c, err := h.peg.SubmitBlock(context.Background(), header, data)
	require.NoError(t, err)
	return c, data
}

func TestAuditValidChain(t *testing.T) {
	h := newHarness(t)
	a0, k0 := devKey(t, 0)
	a1, _ := devKey(t, 1)

	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	h.build(t)
	c1 := h.submitValid(t)
	assert.Equal(t, c1, h.auditor.Latest())

	_, err = h.peg.Deposit(a0, a0, 5)
	require.NoError(t, err)
	_, err = h.peg.ForceWithdraw(0, a1, 1) // fails: a1 is not a signer
	require.NoError(t, err)
	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	require.NoError(t, types.SignTransaction(w, k0))
	sc := &types.SoftCreate{FromIndex: 0, ToIndex: 1, Nonce: 1, Value: 50, ContractAddress: a1, SigningAddress: a1}
	require.NoError(t, types.SignTransaction(sc, k0))
	_, err = h.builder.SubmitSoftTransaction(w)
	require.NoError(t, err)
	_, err = h.builder.SubmitSoftTransaction(sc)
	require.NoError(t, err)

	blk := h.build(t)
	require.Len(t, blk.Transactions.HardWithdrawals, 1)
	assert.True(t, blk.Transactions.HardWithdrawals[0].IntermediateStateRoot.IsZero())
	require.Len(t, blk.Transactions.SoftCreates, 1)
	c2 := h.submitValid(t)
	assert.Equal(t, c2, h.auditor.Latest())
	assert.Empty(t, h.peg.ErrorProofs())
}

func TestAuditStateSizeIsOnlyStructural(t *testing.T) {
	h := newHarness(t)
	a0, _ := devKey(t, 0)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	blk := h.build(t)

	header := blk.Header
	header.StateSize++
	c, data := h.submitForged(t, header, blk.Transactions)

	proof, err := CheckStructure(c.Header, data, h.auditor.Latest())
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofStateSize, proof.Kind)

	proof, err = h.auditor.AuditSubmission(context.Background(), &peg.BlockSubmission{Commitment: c, TransactionsData: data})
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofStateSize, proof.Kind)
	assert.True(t, proof.Kind.IsStructural())
	assert.NoError(t, VerifyErrorProofShape(proof))

	// the auditor did not advance, and the peg recorded the dispute
	assert.Equal(t, uint32(0), h.auditor.Latest().BlockNumber)
	assert.True(t, h.peg.Disputed(1))
	subs := h.peg.ErrorProofs()
	require.Len(t, subs, 1)
	assert.Equal(t, string(ProofStateSize), subs[0].Kind)
	hdr, err := c.Header.ABIEncode()
	require.NoError(t, err)
	assert.Equal(t, hdr, subs[0].Args[0])
}

func TestAuditMutatedHardValue(t *testing.T) {
	h := newHarness(t)
	a0, _ := devKey(t, 0)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	blk := h.build(t)

	txs := blk.Transactions.Copy()
	txs.HardCreates[0].Value = 600
	c, data := h.submitForged(t, blk.Header, txs)

	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofHardTransactionSource, proof.Kind)
	assert.True(t, proof.Kind.IsSource())
	assert.False(t, proof.Kind.IsExecution())
	require.NotNil(t, proof.Transaction)
	assert.Equal(t, 0, proof.Transaction.Index)
	assert.NoError(t, VerifyErrorProofShape(proof))

	tx, err := proof.Transaction.Transaction()
	require.NoError(t, err)
	assert.Equal(t, uint64(600), tx.(*types.HardCreate).Value)
}

func TestAuditCreateIndex(t *testing.T) {
	h := newHarness(t)
	a0, _ := devKey(t, 0)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	blk := h.build(t)

	txs := blk.Transactions.Copy()
	txs.HardCreates[0].AccountIndex = 5
	c, data := h.submitForged(t, blk.Header, txs)

	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofCreateIndex, proof.Kind)
	require.NotNil(t, proof.PreviousRoot)
	assert.Equal(t, uint32(0), proof.PreviousRoot.Commitment.BlockNumber)
	require.Len(t, proof.AccountProofs, 1)
	assert.Empty(t, proof.AccountProofs[0].Leaf)
	assert.NoError(t, VerifyErrorProofShape(proof))
}

func TestAuditForgedSoftRoot(t *testing.T) {
	h := newHarness(t)
	a0, k0 := devKey(t, 0)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	h.build(t)
	c1 := h.submitValid(t)

	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	require.NoError(t, types.SignTransaction(w, k0))
	_, err = h.builder.SubmitSoftTransaction(w)
	require.NoError(t, err)
	blk := h.build(t)

	forged := common.Keccak256([]byte("forged"))
	txs := blk.Transactions.Copy()
	txs.SoftWithdrawals[0].IntermediateStateRoot = forged
	header := blk.Header
	header.StateRoot = forged
	c, data := h.submitForged(t, header, txs)

	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofSoftWithdrawal, proof.Kind)
	require.NotNil(t, proof.PreviousRoot)
	assert.Equal(t, c1, proof.PreviousRoot.Commitment)
	require.Len(t, proof.AccountProofs, 1)
	assert.True(t, trie.VerifyAccountProof(c1.StateRoot, proof.AccountProofs[0]))
	assert.NoError(t, VerifyErrorProofShape(proof))

	args, err := proof.Args()
	require.NoError(t, err)
	// header, transaction, previous root, one account proof
	assert.Len(t, args, 4)
}

func TestAuditUnknownSigner(t *testing.T) {
	h := newHarness(t)
	a0, _ := devKey(t, 0)
	_, k1 := devKey(t, 1)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	blk1 := h.build(t)
	c1 := h.submitValid(t)

	// a withdrawal signed by a key that is not on account 0
	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	require.NoError(t, types.SignTransaction(w, k1))
	w.IntermediateStateRoot = common.Keccak256([]byte("whatever"))
	header := blk1.Header
	header.BlockNumber = 2
	header.StateRoot = w.IntermediateStateRoot
	c, data := h.submitForged(t, header, types.NewTransactions(w))
	require.Equal(t, c1.HardTransactionsCount, c.HardTransactionsCount)

	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofTransactionSignature, proof.Kind)
	require.Len(t, proof.AccountProofs, 1)
	assert.Equal(t, uint32(0), proof.AccountProofs[0].Index)
	assert.NoError(t, VerifyErrorProofShape(proof))
}

func TestAuditRejectsBodyMismatch(t *testing.T) {
	h := newHarness(t)
	blk := h.build(t)
	c, err := h.peg.SubmitBlock(context.Background(), blk.Header, blk.TransactionsData)
	require.NoError(t, err)

	_, err = h.auditor.AuditBlock(context.Background(), c, append(blk.TransactionsData, 0))
	assert.ErrorIs(t, err, ErrInternal)
}

// funded creates account 0 for dev account 0 with a balance of 500 in a
// valid, audited block 1.
func (h *harness) funded(t *testing.T) (common.Address, *types.Commitment) {
	t.Helper()
	a0, _ := devKey(t, 0)
	_, err := h.peg.Deposit(a0, a0, 500)
	require.NoError(t, err)
	h.build(t)
	return a0, h.submitValid(t)
}

// requireExecutionProof audits a forged block 2 and checks the proof is
// of kind and carries state evidence against parent.
func (h *harness) requireExecutionProof(t *testing.T, c *types.Commitment, data []byte, kind ProofKind, parent *types.Commitment) *ErrorProof {
	t.Helper()
	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, kind, proof.Kind)
	require.NotNil(t, proof.PreviousRoot)
	assert.Equal(t, parent, proof.PreviousRoot.Commitment)
	require.Len(t, proof.AccountProofs, 1)
	assert.Equal(t, uint32(0), proof.AccountProofs[0].Index)
	assert.True(t, trie.VerifyAccountProof(parent.StateRoot, proof.AccountProofs[0]))
	assert.NoError(t, VerifyErrorProofShape(proof))
	assert.Equal(t, parent, h.auditor.Latest())
	return proof
}

func TestAuditHardWithdrawalHiddenBehindZeroRoot(t *testing.T) {
	h := newHarness(t)
	a0, c1 := h.funded(t)
	_, err := h.peg.ForceWithdraw(0, a0, 100)
	require.NoError(t, err)
	blk := h.build(t)
	require.False(t, blk.Transactions.HardWithdrawals[0].IntermediateStateRoot.IsZero())

	txs := blk.Transactions.Copy()
	txs.HardWithdrawals[0].IntermediateStateRoot = common.Hash{}
	header := blk.Header
	header.StateRoot = c1.StateRoot
	c, data := h.submitForged(t, header, txs)

	proof := h.requireExecutionProof(t, c, data, ProofHardWithdrawal, c1)
	assert.Contains(t, proof.Reason, "block claims")
}

func TestAuditFailingHardWithdrawalClaimsRoot(t *testing.T) {
	h := newHarness(t)
	a0, c1 := h.funded(t)
	_, err := h.peg.ForceWithdraw(0, a0, 1000) // more than the balance
	require.NoError(t, err)
	blk := h.build(t)
	require.True(t, blk.Transactions.HardWithdrawals[0].IntermediateStateRoot.IsZero())

	forged := common.Keccak256([]byte("withdrawn"))
	txs := blk.Transactions.Copy()
	txs.HardWithdrawals[0].IntermediateStateRoot = forged
	header := blk.Header
	header.StateRoot = forged
	c, data := h.submitForged(t, header, txs)

	proof := h.requireExecutionProof(t, c, data, ProofHardWithdrawal, c1)
	assert.Contains(t, proof.Reason, "transaction fails")
}

func TestAuditHardAddSignerHiddenBehindZeroRoot(t *testing.T) {
	h := newHarness(t)
	a0, c1 := h.funded(t)
	a1, _ := devKey(t, 1)
	_, err := h.peg.ForceAddSigner(0, a0, a1)
	require.NoError(t, err)
	blk := h.build(t)
	require.False(t, blk.Transactions.HardAddSigners[0].IntermediateStateRoot.IsZero())

	txs := blk.Transactions.Copy()
	txs.HardAddSigners[0].IntermediateStateRoot = common.Hash{}
	header := blk.Header
	header.StateRoot = c1.StateRoot
	c, data := h.submitForged(t, header, txs)

	h.requireExecutionProof(t, c, data, ProofHardAddSigner, c1)
}

func TestAuditHardAddSignerCallerNotSigner(t *testing.T) {
	h := newHarness(t)
	_, c1 := h.funded(t)
	a1, _ := devKey(t, 1)
	a2, _ := devKey(t, 2)
	_, err := h.peg.ForceAddSigner(0, a1, a2)
	require.NoError(t, err)
	blk := h.build(t)
	require.True(t, blk.Transactions.HardAddSigners[0].IntermediateStateRoot.IsZero())

	forged := common.Keccak256([]byte("signer added"))
	txs := blk.Transactions.Copy()
	txs.HardAddSigners[0].IntermediateStateRoot = forged
	header := blk.Header
	header.StateRoot = forged
	c, data := h.submitForged(t, header, txs)

	proof := h.requireExecutionProof(t, c, data, ProofHardTransactionSource, c1)
	assert.True(t, proof.Kind.IsSource())
	assert.Contains(t, proof.Reason, a1.Hex())
}

func TestAuditDepositReportedAsCreate(t *testing.T) {
	h := newHarness(t)
	a0, c1 := h.funded(t)
	_, err := h.peg.Deposit(a0, a0, 5) // a0 has account 0, so this is a deposit
	require.NoError(t, err)

	forged := common.Keccak256([]byte("created"))
	create := &types.HardCreate{
		HardTransactionIndex:  1,
		AccountIndex:          1,
		Value:                 5,
		ContractAddress:       a0,
		SignerAddress:         a0,
		IntermediateStateRoot: forged,
	}
	header := c1.Header
	header.BlockNumber = 2
	header.StateSize = 2
	header.HardTransactionsCount = 2
	header.StateRoot = forged
	c, data := h.submitForged(t, header, types.NewTransactions(create))

	proof := h.requireExecutionProof(t, c, data, ProofHardTransactionSource, c1)
	assert.Contains(t, proof.Reason, "peg record is")
	require.NotNil(t, proof.AccountProofs[0].Leaf)
}

func TestAuditSignatureDoesNotRecover(t *testing.T) {
	h := newHarness(t)
	a0, c1 := h.funded(t)

	w := &types.SoftWithdrawal{FromIndex: 0, WithdrawalAddress: a0, Nonce: 0, Value: 100}
	w.Signature[64] = 5
	w.IntermediateStateRoot = common.Keccak256([]byte("unsigned"))
	header := c1.Header
	header.BlockNumber = 2
	header.StateRoot = w.IntermediateStateRoot
	c, data := h.submitForged(t, header, types.NewTransactions(w))

	proof, err := h.auditor.AuditBlock(context.Background(), c, data)
	require.NoError(t, err)
	require.NotNil(t, proof)
	assert.Equal(t, ProofTransactionSignature, proof.Kind)
	assert.Contains(t, proof.Reason, "does not recover")
	assert.Nil(t, proof.PreviousRoot)
	assert.Empty(t, proof.AccountProofs)
	assert.NoError(t, VerifyErrorProofShape(proof))
}
