// Package trie holds the two merkle structures of the rollup: the sparse
// account tree keyed by account index and the dense transaction tree of a
// single block. They hash differently and are never interchanged.
package trie

import (
	"github.com/colorfulnotion/pegrollup/common"
)

var EMPTYHASH = common.Hash{}

// hashPair is the parent node of left and right in both trees.
func hashPair(left, right common.Hash) common.Hash {
	return common.Keccak256(left[:], right[:])
}

// KVStore is the subset of the persistence layer the sparse tree needs.
type KVStore interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key []byte, value []byte) error
}

// BatchWriter is implemented by stores that can apply many writes
// atomically.
type BatchWriter interface {
	PutBatch(pairs [][2][]byte) error
}
