package peg

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/event"
)

type submitted struct {
	commitment *types.Commitment
	hash       common.Hash
	confirmed  bool
	disputed   bool
}

// MemoryPeg is an in-process peg used by tests and the devnet command. Its
// clock is a peg block number that advances by one per submission or Mine.
type MemoryPeg struct {
	mu                 sync.Mutex
	hard               [][]byte
	blocks             []*submitted
	proofs             []ErrorProofSubmission
	pegBlock           uint64
	confirmationWindow uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewMemoryPeg starts a peg whose block 0 is genesis.
func NewMemoryPeg(genesis *types.Commitment, confirmationWindow uint64) *MemoryPeg {
	h, _ := genesis.BlockHash()
	return &MemoryPeg{
		blocks:             []*submitted{{commitment: genesis, hash: h, confirmed: true}},
		pegBlock:           1,
		confirmationWindow: confirmationWindow,
	}
}

func (p *MemoryPeg) record(raw []byte, err error) (uint64, error) {
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hard = append(p.hard, raw)
	idx := uint64(len(p.hard) - 1)
	log.Debug(log.Peg, "hard transaction recorded", "index", idx, "prefix", raw[0])
	return idx, nil
}

// Deposit records a deposit, which creates the account if needed.
func (p *MemoryPeg) Deposit(contract, signer common.Address, value uint64) (uint64, error) {
	return p.record(types.EncodeRawDeposit(contract, signer, value))
}

// ForceWithdraw records a forced withdrawal.
func (p *MemoryPeg) ForceWithdraw(accountIndex uint32, caller common.Address, value uint64) (uint64, error) {
	return p.record(types.EncodeRawWithdraw(accountIndex, caller, value))
}

// ForceAddSigner records a forced signer addition.
func (p *MemoryPeg) ForceAddSigner(accountIndex uint32, caller, signer common.Address) (uint64, error) {
	return p.record(types.EncodeRawAddSigner(accountIndex, caller, signer))
}

// Mine advances the peg clock by n blocks.
func (p *MemoryPeg) Mine(n uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pegBlock += n
	return p.pegBlock
}

func (p *MemoryPeg) HardTransactions(ctx context.Context, from uint64) ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if from >= uint64(len(p.hard)) {
		return nil, nil
	}
	out := make([][]byte, len(p.hard)-int(from))
	for i := range out {
		out[i] = append([]byte(nil), p.hard[int(from)+i]...)
	}
	return out, nil
}

func (p *MemoryPeg) HardTransactionsCount(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(len(p.hard)), nil
}

// SubmitBlock anchors a header and its body. The peg only checks what a
// contract could check cheaply; correctness is left to error proofs.
func (p *MemoryPeg) SubmitBlock(ctx context.Context, header types.Header, transactionsData []byte) (*types.Commitment, error) {
	p.mu.Lock()
	if int(header.BlockNumber) != len(p.blocks) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBlockOutOfOrder, header.BlockNumber, len(p.blocks))
	}
	if header.HardTransactionsCount > uint64(len(p.hard)) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d > %d", ErrHardCountTooLarge, header.HardTransactionsCount, len(p.hard))
	}
	c := &types.Commitment{
		Header:           header,
		TransactionsHash: common.Keccak256(transactionsData),
		SubmittedAt:      p.pegBlock,
	}
	h, err := c.BlockHash()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.blocks = append(p.blocks, &submitted{commitment: c, hash: h})
	p.pegBlock++
	p.mu.Unlock()

	log.Info(log.Peg, "block submitted", "number", header.BlockNumber, "hash", h, "submittedAt", c.SubmittedAt)
	p.feed.Send(&BlockSubmission{Commitment: c, TransactionsData: append([]byte(nil), transactionsData...)})
	return c, nil
}

// ConfirmBlock finalizes a block once the confirmation window has passed.
func (p *MemoryPeg) ConfirmBlock(ctx context.Context, c *types.Commitment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(c.BlockNumber) >= len(p.blocks) {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, c.BlockNumber)
	}
	s := p.blocks[c.BlockNumber]
	h, err := c.BlockHash()
	if err != nil {
		return err
	}
	if h != s.hash {
		return ErrCommitmentChanged
	}
	if s.disputed {
		return ErrBlockDisputed
	}
	if p.pegBlock < s.commitment.SubmittedAt+p.confirmationWindow {
		return fmt.Errorf("%w: at %d, confirmable at %d", ErrNotConfirmable, p.pegBlock, s.commitment.SubmittedAt+p.confirmationWindow)
	}
	s.confirmed = true
	return nil
}

// SubmitErrorProof records a proof. The first argument of every proof is
// the disputed block's header; a proof against an unconfirmed block marks
// it and every later block as disputed.
func (p *MemoryPeg) SubmitErrorProof(ctx context.Context, proof ErrorProofSubmission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proofs = append(p.proofs, proof)
	log.Warn(log.Peg, "error proof submitted", "kind", proof.Kind, "args", len(proof.Args))
	if len(proof.Args) == 0 {
		return nil
	}
	for i, s := range p.blocks {
		enc, err := s.commitment.Header.ABIEncode()
		if err != nil {
			return err
		}
		if string(enc) != string(proof.Args[0]) {
			continue
		}
		if s.confirmed {
			return fmt.Errorf("peg: block %d is already confirmed", i)
		}
		for _, later := range p.blocks[i:] {
			later.disputed = true
		}
		break
	}
	return nil
}

// ErrorProofs returns every proof submitted so far.
func (p *MemoryPeg) ErrorProofs() []ErrorProofSubmission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorProofSubmission(nil), p.proofs...)
}

// Disputed reports whether block n was disputed.
func (p *MemoryPeg) Disputed(n uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(n) < len(p.blocks) && p.blocks[n].disputed
}

// Commitment returns the stored commitment of block n.
func (p *MemoryPeg) Commitment(n uint32) (*types.Commitment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(n) >= len(p.blocks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, n)
	}
	return p.blocks[n].commitment, nil
}

func (p *MemoryPeg) SubscribeBlockSubmissions(ch chan<- *BlockSubmission) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// Close unsubscribes every subscriber.
func (p *MemoryPeg) Close() {
	p.scope.Close()
}

var _ Binding = (*MemoryPeg)(nil)
