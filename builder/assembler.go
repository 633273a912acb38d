package builder

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
)

// AssembleBlock derives the block for executed transactions txs on top of
// parent. state is the state after execution.
func AssembleBlock(version uint16, parent types.Header, txs *types.Transactions, state *statedb.AccountState) (*types.Block, error) {
	meta, err := txs.Metadata()
	if err != nil {
		return nil, err
	}
	data, err := txs.Encode()
	if err != nil {
		return nil, err
	}
	leaves, err := txs.Leaves()
	if err != nil {
		return nil, err
	}
	header := types.Header{
		Version:               version,
		BlockNumber:           parent.BlockNumber + 1,
		StateSize:             state.Size(),
		StateRoot:             txs.FinalStateRoot(parent.StateRoot),
		HardTransactionsCount: parent.HardTransactionsCount + meta.HardTransactionsCount(),
		TransactionsRoot:      trie.TransactionsRoot(leaves),
	}
	if header.StateRoot != state.Root() {
		return nil, fmt.Errorf("last intermediate root %s does not match state root %s", header.StateRoot, state.Root())
	}
	if want := parent.StateSize + meta.Creates(); header.StateSize != want {
		return nil, fmt.Errorf("state size %d, expected %d", header.StateSize, want)
	}
	return &types.Block{
		Header:           header,
		TransactionsData: data,
		Transactions:     txs,
	}, nil
}
