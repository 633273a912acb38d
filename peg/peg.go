// Package peg is the rollup's view of the base-chain contract it is
// anchored to.
package peg

import (
	"context"
	"errors"

	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrUnknownBlock      = errors.New("peg: block not submitted")
	ErrBlockOutOfOrder   = errors.New("peg: block number is not the next expected")
	ErrHardCountTooLarge = errors.New("peg: block consumes more hard transactions than recorded")
	ErrNotConfirmable    = errors.New("peg: confirmation window has not elapsed")
	ErrCommitmentChanged = errors.New("peg: commitment does not match submission")
	ErrBlockDisputed     = errors.New("peg: block was disputed")
)

// BlockSubmission is emitted for every accepted block.
type BlockSubmission struct {
	Commitment       *types.Commitment
	TransactionsData []byte
}

// ErrorProofSubmission is a proof kind with its ordered argument tuple.
type ErrorProofSubmission struct {
	Kind string
	Args [][]byte
}

// Binding is what the rollup needs from the peg contract.
type Binding interface {
	// HardTransactions returns the raw records with index >= from.
	HardTransactions(ctx context.Context, from uint64) ([][]byte, error)
	HardTransactionsCount(ctx context.Context) (uint64, error)
	SubmitBlock(ctx context.Context, header types.Header, transactionsData []byte) (*types.Commitment, error)
	ConfirmBlock(ctx context.Context, c *types.Commitment) error
	SubmitErrorProof(ctx context.Context, proof ErrorProofSubmission) error
	SubscribeBlockSubmissions(ch chan<- *BlockSubmission) event.Subscription
}
