package trie

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/common"
)

// TransactionTree is the dense binary tree over the prefixed encodings of
// one block's transactions. Leaves are hashed once; a level with an odd
// number of nodes is padded with a single zero node.
type TransactionTree struct {
	n      int
	levels [][]common.Hash
}

// NewTransactionTree builds the tree bottom-up.
func NewTransactionTree(leaves [][]byte) *TransactionTree {
	if len(leaves) == 0 {
		return &TransactionTree{}
	}
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = common.Keccak256(l)
	}
	levels := [][]common.Hash{level}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, EMPTYHASH)
			levels[len(levels)-1] = level
		}
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}
	return &TransactionTree{n: len(leaves), levels: levels}
}

// Root returns the tree root; the zero hash when there are no leaves.
func (tt *TransactionTree) Root() common.Hash {
	if len(tt.levels) == 0 {
		return EMPTYHASH
	}
	return tt.levels[len(tt.levels)-1][0]
}

// Len is the number of leaves.
func (tt *TransactionTree) Len() int {
	return tt.n
}

// Prove returns the sibling at each level from the leaf up.
func (tt *TransactionTree) Prove(index int) ([]common.Hash, error) {
	if index < 0 || index >= tt.n {
		return nil, fmt.Errorf("transaction index %d out of range", index)
	}
	siblings := make([]common.Hash, 0, len(tt.levels)-1)
	for _, level := range tt.levels[:len(tt.levels)-1] {
		siblings = append(siblings, level[index^1])
		index /= 2
	}
	return siblings, nil
}

// TransactionsRoot is NewTransactionTree(leaves).Root().
func TransactionsRoot(leaves [][]byte) common.Hash {
	return NewTransactionTree(leaves).Root()
}

// TransactionProof is NewTransactionTree(leaves).Prove(index).
func TransactionProof(leaves [][]byte, index int) ([]common.Hash, error) {
	return NewTransactionTree(leaves).Prove(index)
}

// VerifyTransactionProof folds leaf up through siblings, choosing the side
// by the parity of index at each level, and compares against root.
func VerifyTransactionProof(root common.Hash, leaf []byte, index int, siblings []common.Hash) bool {
	if index < 0 || (len(siblings) < 63 && index>>uint(len(siblings)) != 0) {
		return false
	}
	current := common.Keccak256(leaf)
	for _, sib := range siblings {
		if index%2 == 0 {
			current = hashPair(current, sib)
		} else {
			current = hashPair(sib, current)
		}
		index /= 2
	}
	return current == root
}
