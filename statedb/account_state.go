package statedb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/holiman/uint256"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("address already has an account")
	ErrStaleFork       = errors.New("parent state changed since fork")
)

var stateSizeKey = []byte("acct_size")

// AccountState is the append-only account ledger: a sparse merkle tree
// keyed by account index plus an address to index map. A fork buffers its
// writes in an overlay and only touches its parent on Commit.
type AccountState struct {
	mu sync.RWMutex

	kv      trie.KVStore
	overlay *trie.Overlay
	parent  *AccountState
	forkAt  common.Hash

	tree  *trie.SparseMerkleTree
	index map[common.Address]uint32
	size  uint32
	root  common.Hash
}

// NewAccountState opens the ledger stored in kv, rebuilding the address
// index from the stored leaves.
func NewAccountState(kv trie.KVStore) (*AccountState, error) {
	s := &AccountState{
		kv:    kv,
		tree:  trie.NewSparseMerkleTree(kv),
		index: make(map[common.Address]uint32),
	}
	v, ok, err := kv.Get(stateSizeKey)
	if err != nil {
		return nil, err
	}
	if ok {
		s.size = uint32(common.UintN(v))
	}
	if s.root, err = s.tree.Root(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < s.size; i++ {
		acc, err := s.load(i)
		if err != nil {
			return nil, fmt.Errorf("rebuild index at %d: %w", i, err)
		}
		s.index[acc.Address] = i
	}
	log.Debug(log.StateDB, "opened account state", "size", s.size, "root", s.root)
	return s, nil
}

// NewMemoryAccountState is an empty ledger held in memory.
func NewMemoryAccountState() *AccountState {
	s, _ := NewAccountState(trie.NewMemoryKV())
	return s
}

func (s *AccountState) load(index uint32) (*types.Account, error) {
	leaf, ok, err := s.tree.Get(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrAccountNotFound, index)
	}
	return types.DecodeAccount(leaf)
}

// Size is the next free account index.
func (s *AccountState) Size() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Root is the current state commitment.
func (s *AccountState) Root() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

func (s *AccountState) indexOf(addr common.Address) (uint32, bool) {
	if i, ok := s.index[addr]; ok {
		return i, true
	}
	if s.parent == nil {
		return 0, false
	}
	return s.parent.AccountIndexOf(addr)
}

// AccountIndexOf resolves an address to its account index.
func (s *AccountState) AccountIndexOf(addr common.Address) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(addr)
}

// GetAccount returns a copy of the account at index.
func (s *AccountState) GetAccount(index uint32) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.size {
		return nil, fmt.Errorf("%w: index %d, size %d", ErrAccountNotFound, index, s.size)
	}
	return s.load(index)
}

// TotalBalance sums every account balance. With 2^32 slots of 56-bit
// balances the total does not fit in 64 bits.
func (s *AccountState) TotalBalance() (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := new(uint256.Int)
	for i := uint32(0); i < s.size; i++ {
		acc, err := s.load(i)
		if err != nil {
			return nil, err
		}
		total.Add(total, uint256.NewInt(acc.Balance))
	}
	return total, nil
}

// GetAccountByAddress returns the account registered for addr.
func (s *AccountState) GetAccountByAddress(addr common.Address) (*types.Account, uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.indexOf(addr)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	acc, err := s.load(i)
	return acc, i, err
}

// CreateAccount appends acc at the next free index.
func (s *AccountState) CreateAccount(acc *types.Account) (uint32, common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexOf(acc.Address); ok {
		return 0, common.Hash{}, fmt.Errorf("%w: %s", ErrAccountExists, acc.Address.Hex())
	}
	leaf, err := acc.Encode()
	if err != nil {
		return 0, common.Hash{}, err
	}
	idx := s.size
	root, err := s.tree.Update(idx, leaf)
	if err != nil {
		return 0, common.Hash{}, err
	}
	if err := s.kv.Put(stateSizeKey, common.Uint32ToBytes(idx+1)); err != nil {
		return 0, common.Hash{}, err
	}
	s.index[acc.Address] = idx
	s.size = idx + 1
	s.root = root
	return idx, root, nil
}

// PutAccount overwrites an existing account.
func (s *AccountState) PutAccount(index uint32, acc *types.Account) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= s.size {
		return common.Hash{}, fmt.Errorf("%w: index %d, size %d", ErrAccountNotFound, index, s.size)
	}
	leaf, err := acc.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	root, err := s.tree.Update(index, leaf)
	if err != nil {
		return common.Hash{}, err
	}
	s.root = root
	return root, nil
}

// Prove returns the inclusion proof of the slot at index.
func (s *AccountState) Prove(index uint32) (*trie.AccountProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Prove(index)
}

// Fork returns a child state whose writes are buffered until Commit.
func (s *AccountState) Fork() *AccountState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov := trie.NewOverlay(s.kv)
	return &AccountState{
		kv:      ov,
		overlay: ov,
		parent:  s,
		forkAt:  s.root,
		tree:    trie.NewSparseMerkleTree(ov),
		index:   make(map[common.Address]uint32),
		size:    s.size,
		root:    s.root,
	}
}

// IsFork reports whether s was produced by Fork.
func (s *AccountState) IsFork() bool {
	return s.parent != nil
}

// Commit writes a fork's changes into its parent. The parent must not
// have been modified since the fork was taken.
func (s *AccountState) Commit() error {
	if s.parent == nil {
		return errors.New("commit on a state that is not a fork")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root != s.forkAt || p.size > s.size {
		return ErrStaleFork
	}
	if err := s.overlay.Flush(); err != nil {
		return fmt.Errorf("flush fork: %w", err)
	}
	for addr, i := range s.index {
		p.index[addr] = i
	}
	p.size = s.size
	p.root = s.root
	s.index = make(map[common.Address]uint32)
	s.forkAt = s.root
	log.Debug(log.StateDB, "committed fork", "size", p.size, "root", p.root)
	return nil
}
