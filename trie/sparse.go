package trie

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SparseDepth is the height of the account tree; it has 2^32 slots.
const SparseDepth = 32

var (
	nodePrefix = []byte("smt_n")
	leafPrefix = []byte("smt_l")

	// defaultHashes[h] is the root of an empty subtree of height h.
	defaultHashes [SparseDepth + 1]common.Hash
)

func init() {
	defaultHashes[0] = EMPTYHASH
	for h := 1; h <= SparseDepth; h++ {
		defaultHashes[h] = hashPair(defaultHashes[h-1], defaultHashes[h-1])
	}
}

// EmptyRoot is the root of a tree with no accounts.
func EmptyRoot() common.Hash {
	return defaultHashes[SparseDepth]
}

// DefaultHash returns the root of an empty subtree of the given height.
func DefaultHash(height int) common.Hash {
	return defaultHashes[height]
}

// LeafHash is the tree node for an occupied slot.
func LeafHash(leaf []byte) common.Hash {
	if len(leaf) == 0 {
		return EMPTYHASH
	}
	return common.Keccak256(leaf)
}

func nodeKey(height int, pos uint32) []byte {
	k := make([]byte, 0, len(nodePrefix)+5)
	k = append(k, nodePrefix...)
	k = append(k, byte(height))
	return append(k, common.Uint32ToBytes(pos)...)
}

func leafKey(index uint32) []byte {
	k := make([]byte, 0, len(leafPrefix)+4)
	k = append(k, leafPrefix...)
	return append(k, common.Uint32ToBytes(index)...)
}

// SparseMerkleTree is a fixed-depth keccak tree over account slots. Only
// non-default nodes are stored.
type SparseMerkleTree struct {
	store KVStore
}

func NewSparseMerkleTree(store KVStore) *SparseMerkleTree {
	return &SparseMerkleTree{store: store}
}

func (t *SparseMerkleTree) node(height int, pos uint32) (common.Hash, error) {
	v, ok, err := t.store.Get(nodeKey(height, pos))
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		return defaultHashes[height], nil
	}
	return common.BytesToHash(v), nil
}

// Root returns the current root.
func (t *SparseMerkleTree) Root() (common.Hash, error) {
	return t.node(SparseDepth, 0)
}

// Get returns the leaf bytes stored at index.
func (t *SparseMerkleTree) Get(index uint32) ([]byte, bool, error) {
	return t.store.Get(leafKey(index))
}

// Update writes leaf at index and rehashes the path to the root.
func (t *SparseMerkleTree) Update(index uint32, leaf []byte) (common.Hash, error) {
	if err := t.store.Put(leafKey(index), leaf); err != nil {
		return common.Hash{}, fmt.Errorf("put leaf %d: %w", index, err)
	}
	current := LeafHash(leaf)
	pos := index
	for h := 0; h < SparseDepth; h++ {
		if err := t.store.Put(nodeKey(h, pos), current[:]); err != nil {
			return common.Hash{}, err
		}
		sib, err := t.node(h, pos^1)
		if err != nil {
			return common.Hash{}, err
		}
		if pos%2 == 0 {
			current = hashPair(current, sib)
		} else {
			current = hashPair(sib, current)
		}
		pos >>= 1
	}
	if err := t.store.Put(nodeKey(SparseDepth, 0), current[:]); err != nil {
		return common.Hash{}, err
	}
	return current, nil
}

// AccountProof is the inclusion evidence for one slot: the leaf bytes
// (empty for an unused slot) and the siblings from leaf to root.
type AccountProof struct {
	Index    uint32        `json:"index"`
	Leaf     hexutil.Bytes `json:"leaf"`
	Siblings []common.Hash `json:"siblings"`
}

// Prove builds the inclusion proof for index.
func (t *SparseMerkleTree) Prove(index uint32) (*AccountProof, error) {
	leaf, _, err := t.Get(index)
	if err != nil {
		return nil, err
	}
	p := &AccountProof{Index: index, Leaf: leaf, Siblings: make([]common.Hash, SparseDepth)}
	pos := index
	for h := 0; h < SparseDepth; h++ {
		if p.Siblings[h], err = t.node(h, pos^1); err != nil {
			return nil, err
		}
		pos >>= 1
	}
	return p, nil
}

// ComputeRoot folds the proof's leaf up to a root.
func (p *AccountProof) ComputeRoot() common.Hash {
	current := LeafHash(p.Leaf)
	pos := p.Index
	for _, sib := range p.Siblings {
		if pos%2 == 0 {
			current = hashPair(current, sib)
		} else {
			current = hashPair(sib, current)
		}
		pos >>= 1
	}
	return current
}

// VerifyAccountProof reports whether p proves its leaf under root.
func VerifyAccountProof(root common.Hash, p *AccountProof) bool {
	if p == nil || len(p.Siblings) != SparseDepth {
		return false
	}
	return p.ComputeRoot() == root
}

// Encode packs the proof as index u32 | 32 siblings | leaf bytes.
func (p *AccountProof) Encode() ([]byte, error) {
	if len(p.Siblings) != SparseDepth {
		return nil, fmt.Errorf("account proof has %d siblings", len(p.Siblings))
	}
	enc := codec.NewEncoder(4 + SparseDepth*common.HashLength + len(p.Leaf))
	enc.PutUint32(p.Index)
	for _, s := range p.Siblings {
		enc.PutHash(s)
	}
	enc.PutBytes(p.Leaf)
	return enc.Bytes()
}

// DecodeAccountProof is the inverse of AccountProof.Encode.
func DecodeAccountProof(data []byte) (*AccountProof, error) {
	if len(data) < 4+SparseDepth*common.HashLength {
		return nil, fmt.Errorf("%w account proof is %d bytes", rollerrors.ErrCShortInput, len(data))
	}
	dec := codec.NewDecoder(data)
	p := &AccountProof{Index: dec.Uint32(), Siblings: make([]common.Hash, SparseDepth)}
	for i := range p.Siblings {
		p.Siblings[i] = dec.Hash()
	}
	if n := dec.Remaining(); n > 0 {
		p.Leaf = dec.Bytes(n)
	}
	return p, dec.Finish()
}
