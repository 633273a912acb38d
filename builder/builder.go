// Package builder produces rollup blocks: it drains pending soft
// transactions, pulls new hard transactions from the peg, executes them on
// a fork of the account state and assembles the resulting block.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/storage"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/pegrollup/builder"

// Config holds the block production limits.
type Config struct {
	Version              uint16
	MaxBlockTransactions int // 0 means unlimited
	MaxQueueDepth        int
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() Config {
	return Config{
		Version:              types.BlockVersion,
		MaxBlockTransactions: 1024,
		MaxQueueDepth:        DefaultMaxQueueDepth,
	}
}

// Builder owns the canonical account state, the block archive and the soft
// transaction queue of one chain.
type Builder struct {
	mu      sync.Mutex
	config  Config
	state   *statedb.AccountState
	archive *storage.BlockArchive
	binding peg.Binding
	queue   *TxQueue
	latest  *types.Block
	tracer  trace.Tracer
}

// NewBuilder resumes the chain found in archive and state, or starts a new
// one at genesis when the archive is empty.
func NewBuilder(config Config, state *statedb.AccountState, archive *storage.BlockArchive, binding peg.Binding) (*Builder, error) {
	b := &Builder{
		config:  config,
		state:   state,
		archive: archive,
		binding: binding,
		queue:   NewTxQueue(config.MaxQueueDepth),
		tracer:  otel.Tracer(tracerName),
	}
	if err := b.Resume(); err != nil {
		return nil, err
	}
	return b, nil
}

// Resume reloads the latest block from the archive and checks that the
// account state is at that block's root. An empty archive gets a genesis
// block.
func (b *Builder) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	latest, err := b.archive.LatestBlock()
	if errors.Is(err, rollerrors.ErrBBlockNotFound) {
		if b.state.Size() != 0 {
			return fmt.Errorf("%w: empty archive over %d accounts", rollerrors.ErrBStateMismatch, b.state.Size())
		}
		latest = types.GenesisBlock(trie.EmptyRoot())
		if err := b.archive.StoreBlock(latest); err != nil {
			return err
		}
		log.Info(log.Builder, "Builder: started new chain", "genesis", latest.Hash())
	} else if err != nil {
		return err
	}
	if latest.Header.StateRoot != b.state.Root() || latest.Header.StateSize != b.state.Size() {
		return fmt.Errorf("%w: block %d root %s, state root %s", rollerrors.ErrBStateMismatch,
			latest.Header.BlockNumber, latest.Header.StateRoot, b.state.Root())
	}
	b.latest = latest
	log.Info(log.Builder, "Builder: resumed", "block", latest.Header.BlockNumber, "size", latest.Header.StateSize, "hard", latest.Header.HardTransactionsCount)
	return nil
}

// Genesis returns block 0 from the archive.
func (b *Builder) Genesis() (*types.Block, error) {
	return b.archive.GetBlock(0)
}

// Latest returns the newest block.
func (b *Builder) Latest() *types.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Builder) State() *statedb.AccountState {
	return b.state
}

func (b *Builder) Queue() *TxQueue {
	return b.queue
}

// SubmitSoftTransaction queues a soft transaction for the next block.
func (b *Builder) SubmitSoftTransaction(tx types.Transaction) (<-chan SoftResult, error) {
	return b.queue.Enqueue(tx)
}

// BuildBlock produces the next block. It either returns a block whose
// state is committed and archived, or fails with the state, archive and
// queue as they were. Included and rejected soft transactions have their
// results delivered before it returns.
func (b *Builder) BuildBlock(ctx context.Context) (blk *types.Block, err error) {
	ctx, span := b.tracer.Start(ctx, "Builder.BuildBlock")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	parent := b.latest
	if parent.Commitment == nil {
		return nil, fmt.Errorf("%w: block %d", rollerrors.ErrBParentPending, parent.Header.BlockNumber)
	}

	raw, err := b.binding.HardTransactions(ctx, parent.Header.HardTransactionsCount)
	if err != nil {
		return nil, fmt.Errorf("fetch hard transactions: %w", err)
	}
	if limit := b.config.MaxBlockTransactions; limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}
	hard, err := types.DecodeHardTransactions(raw, parent.Header.HardTransactionsCount, b.state)
	if err != nil {
		return nil, fmt.Errorf("decode hard transactions: %w", err)
	}

	softBudget := 0
	if limit := b.config.MaxBlockTransactions; limit > 0 {
		softBudget = limit - len(hard)
		if softBudget <= 0 {
			softBudget = -1
		}
	}
	var drained []*queuedTx
	if softBudget >= 0 {
		drained = b.queue.drain(softBudget)
	}
	byTx := make(map[types.Transaction]*queuedTx, len(drained))
	txs := types.NewTransactions(hard...)
	for _, q := range drained {
		txs.Add(q.tx)
		byTx[q.tx] = q
	}
	span.SetAttributes(
		attribute.Int("block.number", int(parent.Header.BlockNumber)+1),
		attribute.Int("block.hard", len(hard)),
		attribute.Int("block.soft_candidates", len(drained)),
	)

	fork := b.state.Fork()
	accepted, rejected, err := statedb.NewStateMachine(fork).ProcessTransactions(txs)
	if err != nil {
		b.queue.requeue(drained)
		return nil, fmt.Errorf("execute block %d: %w", parent.Header.BlockNumber+1, err)
	}
	blk, err = AssembleBlock(b.config.Version, parent.Header, accepted, fork)
	if err != nil {
		b.queue.requeue(drained)
		return nil, fmt.Errorf("assemble block %d: %w", parent.Header.BlockNumber+1, err)
	}
	if err := b.archive.StoreBlock(blk); err != nil {
		b.queue.requeue(drained)
		return nil, err
	}
	if err := fork.Commit(); err != nil {
		b.queue.requeue(drained)
		return nil, fmt.Errorf("commit block %d: %w", blk.Header.BlockNumber, err)
	}
	b.latest = blk

	// each queued item owns its transaction copy and is resolved once
	for _, r := range rejected {
		if q, ok := byTx[r.Tx]; ok {
			delete(byTx, r.Tx)
			q.resolve(SoftResult{BlockNumber: blk.Header.BlockNumber, Err: r.Err})
		}
	}
	for _, tx := range accepted.Soft() {
		if q, ok := byTx[tx]; ok {
			delete(byTx, tx)
			q.resolve(SoftResult{BlockNumber: blk.Header.BlockNumber, Root: types.IntermediateStateRoot(tx)})
		}
	}
	b.queue.markIncluded(len(drained)-len(rejected), len(rejected))
	log.Info(log.Builder, "Builder: built block", "number", blk.Header.BlockNumber, "txs", accepted.Len(),
		"rejected", len(rejected), "size", blk.Header.StateSize, "root", blk.Header.StateRoot)
	return blk, nil
}

// AddOutput attaches the peg commitment to the latest block, after which
// the block is immutable.
func (b *Builder) AddOutput(c *types.Commitment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blk := b.latest
	if blk.Commitment != nil {
		return fmt.Errorf("%w: block %d", rollerrors.ErrBAlreadySubmitted, blk.Header.BlockNumber)
	}
	if c.Header != blk.Header || c.TransactionsHash != blk.TransactionsHash() {
		return fmt.Errorf("%w: block %d", rollerrors.ErrBOutputMismatch, blk.Header.BlockNumber)
	}
	out := *blk
	out.Commitment = c
	if err := b.archive.StoreBlock(&out); err != nil {
		return err
	}
	b.latest = &out
	log.Info(log.Builder, "Builder: block committed", "number", blk.Header.BlockNumber, "hash", out.Hash(), "submittedAt", c.SubmittedAt)
	return nil
}

// SubmitLatest sends the latest block to the peg and records the
// returned commitment.
func (b *Builder) SubmitLatest(ctx context.Context) (*types.Commitment, error) {
	blk := b.Latest()
	if blk.Commitment != nil {
		return nil, fmt.Errorf("%w: block %d", rollerrors.ErrBAlreadySubmitted, blk.Header.BlockNumber)
	}
	c, err := b.binding.SubmitBlock(ctx, blk.Header, blk.TransactionsData)
	if err != nil {
		return nil, fmt.Errorf("submit block %d: %w", blk.Header.BlockNumber, err)
	}
	if err := b.AddOutput(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Close stops accepting soft transactions and rejects the queued ones.
func (b *Builder) Close() {
	b.queue.Close()
}
