package storage

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/types"
)

const blockLatestKey = "blk_latest"

var (
	blockPrefix     = []byte("blk_")
	blockHashPrefix = []byte("blkhash_")
)

// BlockArchive keeps every produced block keyed by number and by hash,
// plus a pointer to the newest one.
type BlockArchive struct {
	store *PersistenceStore
}

func NewBlockArchive(store *PersistenceStore) *BlockArchive {
	return &BlockArchive{store: store}
}

func blockNumberKey(n uint32) []byte {
	return append(append([]byte(nil), blockPrefix...), common.Uint32ToBytes(n)...)
}

// StoreBlock stores a block with multiple indices for efficient retrieval
// Indices created:
// - blk_<number> -> encoded block
// - blkhash_<blockHash> -> number (submitted blocks only)
// - blk_latest -> number
func (a *BlockArchive) StoreBlock(blk *types.Block) error {
	enc, err := blk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}
	num := common.Uint32ToBytes(blk.Header.BlockNumber)
	pairs := [][2][]byte{{blockNumberKey(blk.Header.BlockNumber), enc}}
	if blk.Commitment != nil {
		h := blk.Hash()
		pairs = append(pairs, [2][]byte{append(append([]byte(nil), blockHashPrefix...), h[:]...), num})
	}
	latest, ok, err := a.LatestNumber()
	if err != nil {
		return err
	}
	if !ok || blk.Header.BlockNumber >= latest {
		pairs = append(pairs, [2][]byte{[]byte(blockLatestKey), num})
	}
	if err := a.store.PutBatch(pairs); err != nil {
		return fmt.Errorf("failed to store block %d: %w", blk.Header.BlockNumber, err)
	}
	log.Debug(log.Archive, "stored block", "number", blk.Header.BlockNumber, "committed", blk.Commitment != nil)
	return nil
}

// GetBlock returns block n or ErrBBlockNotFound.
func (a *BlockArchive) GetBlock(n uint32) (*types.Block, error) {
	enc, ok, err := a.store.Get(blockNumberKey(n))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w number %d", rollerrors.ErrBBlockNotFound, n)
	}
	blk := new(types.Block)
	if err := blk.UnmarshalBinary(enc); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", n, err)
	}
	return blk, nil
}

// GetBlockByHash looks up a submitted block by its commitment hash.
func (a *BlockArchive) GetBlockByHash(h common.Hash) (*types.Block, error) {
	num, ok, err := a.store.Get(append(append([]byte(nil), blockHashPrefix...), h[:]...))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w hash %s", rollerrors.ErrBBlockNotFound, h.Hex())
	}
	return a.GetBlock(uint32(common.UintN(num)))
}

// LatestNumber returns the highest stored block number.
func (a *BlockArchive) LatestNumber() (uint32, bool, error) {
	v, ok, err := a.store.Get([]byte(blockLatestKey))
	if err != nil || !ok {
		return 0, false, err
	}
	return uint32(common.UintN(v)), true, nil
}

// LatestBlock returns the highest stored block.
func (a *BlockArchive) LatestBlock() (*types.Block, error) {
	n, ok, err := a.LatestNumber()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w archive is empty", rollerrors.ErrBBlockNotFound)
	}
	return a.GetBlock(n)
}

// Blocks returns every stored block in number order.
func (a *BlockArchive) Blocks() ([]*types.Block, error) {
	kvs, err := a.store.GetWithPrefix(blockPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Block, 0, len(kvs))
	for _, kv := range kvs {
		if len(kv[0]) != len(blockPrefix)+4 {
			continue
		}
		blk := new(types.Block)
		if err := blk.UnmarshalBinary(kv[1]); err != nil {
			return nil, fmt.Errorf("failed to decode block key %x: %w", kv[0], err)
		}
		out = append(out, blk)
	}
	return out, nil
}
