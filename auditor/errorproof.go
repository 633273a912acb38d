// Package auditor independently checks blocks published to the peg and
// produces ErrorProofs for the ones that are wrong.
package auditor

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofKind names the fact an ErrorProof shows to be false.
type ProofKind string

// Structural proofs: the block contradicts itself or its parent.
const (
	ProofTransactionsLength    ProofKind = "transactions_length"
	ProofHardTransactionRange  ProofKind = "hard_transaction_range"
	ProofHardTransactionOrder  ProofKind = "hard_transaction_order"
	ProofTransactionsRoot      ProofKind = "transactions_root"
	ProofHardTransactionsCount ProofKind = "hard_transactions_count"
	ProofStateSize             ProofKind = "state_size"
	ProofStateRoot             ProofKind = "state_root"
)

// Source proofs: a transaction's inputs differ from the peg record or its
// signature.
const (
	ProofHardTransactionSource ProofKind = "hard_transaction_source"
	ProofTransactionSignature  ProofKind = "transaction_signature"
)

// Execution proofs: re-execution disagrees with the block.
const (
	ProofCreateIndex      ProofKind = "create_index_error"
	ProofHardCreate       ProofKind = "hard_create"
	ProofHardDeposit      ProofKind = "hard_deposit"
	ProofHardWithdrawal   ProofKind = "hard_withdrawal"
	ProofHardAddSigner    ProofKind = "hard_add_signer"
	ProofSoftWithdrawal   ProofKind = "soft_withdrawal"
	ProofSoftCreate       ProofKind = "soft_create"
	ProofSoftTransfer     ProofKind = "soft_transfer"
	ProofSoftChangeSigner ProofKind = "soft_change_signer"
)

var executionKinds = [types.NumKinds]ProofKind{
	types.KindHardCreate:       ProofHardCreate,
	types.KindHardDeposit:      ProofHardDeposit,
	types.KindHardWithdraw:     ProofHardWithdrawal,
	types.KindHardAddSigner:    ProofHardAddSigner,
	types.KindSoftWithdrawal:   ProofSoftWithdrawal,
	types.KindSoftCreate:       ProofSoftCreate,
	types.KindSoftTransfer:     ProofSoftTransfer,
	types.KindSoftChangeSigner: ProofSoftChangeSigner,
}

// ExecutionProofKind returns the execution proof kind of a transaction kind.
func ExecutionProofKind(kind types.TxKind) ProofKind {
	return executionKinds[kind]
}

// IsStructural reports whether k is raised by the structural checks.
func (k ProofKind) IsStructural() bool {
	switch k {
	case ProofTransactionsLength, ProofHardTransactionRange, ProofHardTransactionOrder,
		ProofTransactionsRoot, ProofHardTransactionsCount, ProofStateSize, ProofStateRoot:
		return true
	}
	return false
}

// IsSource reports whether k is a source mismatch.
func (k ProofKind) IsSource() bool {
	return k == ProofHardTransactionSource || k == ProofTransactionSignature
}

// IsExecution reports whether k is an execution divergence.
func (k ProofKind) IsExecution() bool {
	if k == ProofCreateIndex {
		return true
	}
	for _, e := range executionKinds {
		if k == e {
			return true
		}
	}
	return false
}

// ErrInternal marks auditor failures that are not fraud findings.
var ErrInternal = errors.New("auditor internal failure")

var (
	ErrProofShape        = errors.New("error proof: malformed evidence")
	ErrProofInclusion    = errors.New("error proof: transaction inclusion does not verify")
	ErrProofAccount      = errors.New("error proof: account proof does not verify")
	ErrProofPreviousRoot = errors.New("error proof: previous root does not verify")
)

func internalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInternal}, args...)...)
}

// TransactionEvidence places one prefixed transaction at Index in a block's
// transaction tree.
type TransactionEvidence struct {
	Index    int           `json:"index"`
	Leaf     hexutil.Bytes `json:"leaf"`
	Siblings []common.Hash `json:"siblings"`
}

// Verify checks the evidence against a transactions root.
func (e *TransactionEvidence) Verify(root common.Hash) bool {
	return e != nil && trie.VerifyTransactionProof(root, e.Leaf, e.Index, e.Siblings)
}

// Transaction decodes the leaf.
func (e *TransactionEvidence) Transaction() (types.Transaction, error) {
	return types.DecodePrefixedTransaction(e.Leaf)
}

// Encode packs index u32 | leaf length u16 | leaf | sibling count u8 | siblings.
func (e *TransactionEvidence) Encode() ([]byte, error) {
	enc := codec.NewEncoder(4 + 2 + len(e.Leaf) + 1 + len(e.Siblings)*common.HashLength)
	enc.PutUint32(uint32(e.Index)).PutUint16(uint16(len(e.Leaf))).PutBytes(e.Leaf).PutUint8(uint8(len(e.Siblings)))
	for _, s := range e.Siblings {
		enc.PutHash(s)
	}
	return enc.Bytes()
}

// DecodeTransactionEvidence is the inverse of Encode.
func DecodeTransactionEvidence(data []byte) (*TransactionEvidence, error) {
	dec := codec.NewDecoder(data)
	e := &TransactionEvidence{Index: int(dec.Uint32())}
	e.Leaf = dec.Bytes(int(dec.Uint16()))
	n := int(dec.Uint8())
	for i := 0; i < n && dec.Err() == nil; i++ {
		e.Siblings = append(e.Siblings, dec.Hash())
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return e, nil
}

// PreviousRootProof shows the state root in force before a transaction:
// either the parent block's commitment, or the earlier transaction of the
// same block that last changed the state.
type PreviousRootProof struct {
	Commitment  *types.Commitment    `json:"commitment,omitempty"`
	Transaction *TransactionEvidence `json:"transaction,omitempty"`
}

// Root returns the proven state root.
func (p *PreviousRootProof) Root() (common.Hash, error) {
	switch {
	case p.Commitment != nil:
		return p.Commitment.StateRoot, nil
	case p.Transaction != nil:
		tx, err := p.Transaction.Transaction()
		if err != nil {
			return common.Hash{}, err
		}
		return types.IntermediateStateRoot(tx), nil
	}
	return common.Hash{}, ErrProofShape
}

// Encode is 0 ‖ abi(commitment) or 1 ‖ transaction evidence.
func (p *PreviousRootProof) Encode() ([]byte, error) {
	switch {
	case p.Commitment != nil:
		enc, err := p.Commitment.ABIEncode()
		if err != nil {
			return nil, err
		}
		return append([]byte{0}, enc...), nil
	case p.Transaction != nil:
		enc, err := p.Transaction.Encode()
		if err != nil {
			return nil, err
		}
		return append([]byte{1}, enc...), nil
	}
	return nil, ErrProofShape
}

// ErrorProof is the evidence that one fact of a published block is false.
// Only the fields its Kind needs are set.
type ErrorProof struct {
	Kind   ProofKind    `json:"kind"`
	Header types.Header `json:"header"`
	Reason string       `json:"reason"`

	Parent           *types.Commitment    `json:"parent,omitempty"`
	TransactionsData hexutil.Bytes        `json:"transactionsData,omitempty"`
	Transaction      *TransactionEvidence `json:"transaction,omitempty"`
	Related          *TransactionEvidence `json:"related,omitempty"`
	PreviousRoot     *PreviousRootProof   `json:"previousRoot,omitempty"`
	AccountProofs    []*trie.AccountProof `json:"accountProofs,omitempty"`
}

func (p *ErrorProof) Error() string {
	return fmt.Sprintf("block %d: %s: %s", p.Header.BlockNumber, p.Kind, p.Reason)
}

// Args returns the ordered argument tuple for proof submission: the
// disputed header, then each piece of evidence present, in field order.
func (p *ErrorProof) Args() ([][]byte, error) {
	hdr, err := p.Header.ABIEncode()
	if err != nil {
		return nil, err
	}
	args := [][]byte{hdr}
	if p.Parent != nil {
		enc, err := p.Parent.ABIEncode()
		if err != nil {
			return nil, err
		}
		args = append(args, enc)
	}
	if p.TransactionsData != nil {
		args = append(args, p.TransactionsData)
	}
	for _, e := range []*TransactionEvidence{p.Transaction, p.Related} {
		if e == nil {
			continue
		}
		enc, err := e.Encode()
		if err != nil {
			return nil, err
		}
		args = append(args, enc)
	}
	if p.PreviousRoot != nil {
		enc, err := p.PreviousRoot.Encode()
		if err != nil {
			return nil, err
		}
		args = append(args, enc)
	}
	for _, ap := range p.AccountProofs {
		enc, err := ap.Encode()
		if err != nil {
			return nil, err
		}
		args = append(args, enc)
	}
	return args, nil
}

// VerifyErrorProofShape checks that a proof carries the evidence its kind
// needs and that every inclusion proof in it verifies. It does not decide
// whether the disputed fact is actually false.
func VerifyErrorProofShape(p *ErrorProof) error {
	if p == nil {
		return ErrProofShape
	}
	switch p.Kind {
	case ProofTransactionsLength, ProofTransactionsRoot, ProofStateRoot:
		if p.TransactionsData == nil {
			return fmt.Errorf("%w: %s needs transactions data", ErrProofShape, p.Kind)
		}
	case ProofHardTransactionsCount, ProofStateSize:
		if p.TransactionsData == nil || p.Parent == nil {
			return fmt.Errorf("%w: %s needs parent and transactions data", ErrProofShape, p.Kind)
		}
	case ProofHardTransactionRange:
		if p.Transaction == nil || p.Parent == nil {
			return fmt.Errorf("%w: %s needs parent and a transaction", ErrProofShape, p.Kind)
		}
	case ProofHardTransactionOrder:
		if p.Transaction == nil || p.Related == nil {
			return fmt.Errorf("%w: %s needs two transactions", ErrProofShape, p.Kind)
		}
	case ProofHardTransactionSource, ProofTransactionSignature:
		if p.Transaction == nil {
			return fmt.Errorf("%w: %s needs a transaction", ErrProofShape, p.Kind)
		}
	default:
		if !p.Kind.IsExecution() {
			return fmt.Errorf("%w: unknown kind %q", ErrProofShape, p.Kind)
		}
		if p.Transaction == nil || p.PreviousRoot == nil {
			return fmt.Errorf("%w: %s needs a transaction and previous root", ErrProofShape, p.Kind)
		}
	}
	if len(p.AccountProofs) > 2 {
		return fmt.Errorf("%w: %d account proofs", ErrProofShape, len(p.AccountProofs))
	}
	if p.Parent != nil && p.Parent.BlockNumber+1 != p.Header.BlockNumber {
		return fmt.Errorf("%w: parent %d of block %d", ErrProofShape, p.Parent.BlockNumber, p.Header.BlockNumber)
	}
	for _, e := range []*TransactionEvidence{p.Transaction, p.Related} {
		if e != nil && !e.Verify(p.Header.TransactionsRoot) {
			return fmt.Errorf("%w: index %d", ErrProofInclusion, e.Index)
		}
	}
	if p.PreviousRoot == nil {
		if len(p.AccountProofs) > 0 {
			return fmt.Errorf("%w: account proofs without previous root", ErrProofShape)
		}
		return nil
	}
	if c := p.PreviousRoot.Commitment; c != nil && c.BlockNumber+1 != p.Header.BlockNumber {
		return fmt.Errorf("%w: commitment of block %d", ErrProofPreviousRoot, c.BlockNumber)
	}
	if e := p.PreviousRoot.Transaction; e != nil {
		if !e.Verify(p.Header.TransactionsRoot) || p.Transaction == nil || e.Index >= p.Transaction.Index {
			return ErrProofPreviousRoot
		}
	}
	root, err := p.PreviousRoot.Root()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofPreviousRoot, err)
	}
	for _, ap := range p.AccountProofs {
		if !trie.VerifyAccountProof(root, ap) {
			return fmt.Errorf("%w: index %d", ErrProofAccount, ap.Index)
		}
	}
	return nil
}
