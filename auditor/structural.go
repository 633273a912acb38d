package auditor

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
)

// blockView is a submitted block decoded once for the audit.
type blockView struct {
	header types.Header
	data   []byte
	txs    *types.Transactions
	meta   types.TransactionMetadata
	all    []types.Transaction
	leaves [][]byte
	tree   *trie.TransactionTree
}

func (v *blockView) evidence(i int) (*TransactionEvidence, error) {
	siblings, err := v.tree.Prove(i)
	if err != nil {
		return nil, internalf("prove transaction %d: %v", i, err)
	}
	return &TransactionEvidence{Index: i, Leaf: v.leaves[i], Siblings: siblings}, nil
}

// CheckStructure validates a block against its parent without executing
// anything. Checks run in a fixed order and the first failure is returned:
// body length, hard index range and order, transactions root, hard count,
// state size, state root.
func CheckStructure(header types.Header, data []byte, parent *types.Commitment) (*ErrorProof, error) {
	_, proof, err := checkStructure(header, data, parent)
	return proof, err
}

func checkStructure(header types.Header, data []byte, parent *types.Commitment) (*blockView, *ErrorProof, error) {
	if parent == nil {
		return nil, nil, internalf("parent of block %d is not committed", header.BlockNumber)
	}
	if data == nil {
		// proofs carry the body, and an empty body is still evidence
		data = []byte{}
	}
	fail := func(kind ProofKind, reason string, args ...interface{}) *ErrorProof {
		return &ErrorProof{Kind: kind, Header: header, Reason: fmt.Sprintf(reason, args...)}
	}

	// 1. length
	if len(data) < types.MetadataSize {
		p := fail(ProofTransactionsLength, "transactions data is %d bytes", len(data))
		p.TransactionsData = data
		return nil, p, nil
	}
	txs, meta, err := types.DecodeTransactionsData(data)
	if err != nil {
		p := fail(ProofTransactionsLength, "%v", err)
		p.TransactionsData = data
		return nil, p, nil
	}
	v := &blockView{header: header, data: data, txs: txs, meta: meta, all: txs.All()}
	if v.leaves, err = txs.Leaves(); err != nil {
		return nil, nil, internalf("encode leaves: %v", err)
	}
	v.tree = trie.NewTransactionTree(v.leaves)

	// 2. hard index range and order
	seen := make(map[uint64]int)
	pos := 0
	for _, kind := range types.CanonicalOrder {
		bucket := txs.Bucket(kind)
		if !kind.IsHard() {
			pos += len(bucket)
			continue
		}
		var prev uint64
		hasPrev := false
		for j, tx := range bucket {
			i := pos + j
			idx, _ := types.HardTransactionIndex(tx)
			if idx < parent.HardTransactionsCount || idx >= header.HardTransactionsCount {
				p := fail(ProofHardTransactionRange, "%s %d has hard index %d outside [%d, %d)",
					kind, i, idx, parent.HardTransactionsCount, header.HardTransactionsCount)
				p.Parent = parent
				if p.Transaction, err = v.evidence(i); err != nil {
					return nil, nil, err
				}
				return nil, p, nil
			}
			other, dup := seen[idx]
			if !dup && hasPrev && idx <= prev {
				other = i - 1
			}
			if dup || (hasPrev && idx <= prev) {
				p := fail(ProofHardTransactionOrder, "%s %d has hard index %d after %d", kind, i, idx, prev)
				if p.Transaction, err = v.evidence(i); err != nil {
					return nil, nil, err
				}
				if p.Related, err = v.evidence(other); err != nil {
					return nil, nil, err
				}
				return nil, p, nil
			}
			seen[idx] = i
			prev, hasPrev = idx, true
		}
		pos += len(bucket)
	}

	// 3. transactions root
	if root := v.tree.Root(); root != header.TransactionsRoot {
		p := fail(ProofTransactionsRoot, "transactions root is %s, header has %s", root, header.TransactionsRoot)
		p.TransactionsData = data
		return nil, p, nil
	}

	// 4. hard count
	if want := parent.HardTransactionsCount + meta.HardTransactionsCount(); header.HardTransactionsCount != want {
		p := fail(ProofHardTransactionsCount, "hard transactions count is %d, expected %d", header.HardTransactionsCount, want)
		p.Parent = parent
		p.TransactionsData = data
		return nil, p, nil
	}

	// 5. state size
	if want := uint64(parent.StateSize) + uint64(meta.Creates()); uint64(header.StateSize) != want {
		p := fail(ProofStateSize, "state size is %d, expected %d", header.StateSize, want)
		p.Parent = parent
		p.TransactionsData = data
		return nil, p, nil
	}

	// 6. state root
	if want := txs.FinalStateRoot(parent.StateRoot); header.StateRoot != want {
		p := fail(ProofStateRoot, "state root is %s, last transaction root is %s", header.StateRoot, want)
		p.Parent = parent
		p.TransactionsData = data
		return nil, p, nil
	}
	return v, nil, nil
}
