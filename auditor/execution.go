package auditor

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"golang.org/x/sync/errgroup"
)

// execution re-derives one block from the peg records and the parent state.
type execution struct {
	view     *blockView
	parent   *types.Commitment
	state    *statedb.AccountState
	workers  int
	expected map[uint64]types.Transaction
}

// fetchHard reads the hard transactions the block should contain from the
// peg and resolves them against the parent state.
func (ex *execution) fetchHard(ctx context.Context, binding peg.Binding) error {
	from := ex.parent.HardTransactionsCount
	n := ex.view.header.HardTransactionsCount - from
	raw, err := binding.HardTransactions(ctx, from)
	if err != nil {
		return internalf("fetch hard transactions from %d: %v", from, err)
	}
	if uint64(len(raw)) < n {
		return internalf("peg has %d hard transactions from %d, block %d claims %d", len(raw), from, ex.view.header.BlockNumber, n)
	}
	decoded, err := types.DecodeHardTransactions(raw[:n], from, ex.state)
	if err != nil {
		return internalf("decode peg records: %v", err)
	}
	ex.expected = make(map[uint64]types.Transaction, len(decoded))
	for _, tx := range decoded {
		idx, _ := types.HardTransactionIndex(tx)
		ex.expected[idx] = tx
	}
	return nil
}

func (ex *execution) previousRoot(prevPos int) (*PreviousRootProof, error) {
	if prevPos < 0 {
		return &PreviousRootProof{Commitment: ex.parent}, nil
	}
	e, err := ex.view.evidence(prevPos)
	if err != nil {
		return nil, err
	}
	return &PreviousRootProof{Transaction: e}, nil
}

func (ex *execution) accountProofs(indices ...uint32) ([]*trie.AccountProof, error) {
	var out []*trie.AccountProof
	for i, idx := range indices {
		if i > 0 && idx == indices[i-1] {
			continue
		}
		p, err := ex.state.Prove(idx)
		if err != nil {
			return nil, internalf("prove account %d: %v", idx, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// proof assembles an ErrorProof for transaction i with the state evidence
// in force before it.
func (ex *execution) proof(kind ProofKind, i int, withState bool, reason string, accounts ...uint32) (*ErrorProof, error) {
	p := &ErrorProof{Kind: kind, Header: ex.view.header, Reason: reason}
	var err error
	if p.Transaction, err = ex.view.evidence(i); err != nil {
		return nil, err
	}
	if !withState {
		return p, nil
	}
	_, prevPos := types.PreviousStateRoot(ex.view.all, i, ex.parent.StateRoot)
	if p.PreviousRoot, err = ex.previousRoot(prevPos); err != nil {
		return nil, err
	}
	if p.AccountProofs, err = ex.accountProofs(accounts...); err != nil {
		return nil, err
	}
	return p, nil
}

// checkSources compares every hard transaction with its peg record and
// recovers every soft signature. Nothing here writes state, so the checks
// run in parallel; the proof for the earliest offending transaction wins.
func (ex *execution) checkSources(ctx context.Context) (*ErrorProof, error) {
	results := make([]*ErrorProof, len(ex.view.all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.workers)
	for i, tx := range ex.view.all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := ex.checkSource(i, tx)
			results[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	for _, p := range results {
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

func (ex *execution) checkSource(i int, tx types.Transaction) (*ErrorProof, error) {
	if tx.Kind().IsSoft() {
		if _, err := types.RecoverTransactionSigner(tx); err != nil {
			return ex.proof(ProofTransactionSignature, i, false, fmt.Sprintf("signature does not recover: %v", err))
		}
		return nil, nil
	}
	idx, _ := types.HardTransactionIndex(tx)
	exp, ok := ex.expected[idx]
	if !ok {
		return nil, internalf("no peg record for hard index %d", idx)
	}
	reason := sourceMismatch(tx, exp)
	if reason == "" {
		return nil, nil
	}
	if tx.Kind() != exp.Kind() {
		// whether a deposit record creates an account depends on the parent state
		p, err := ex.proof(ProofHardTransactionSource, i, false, reason)
		if err != nil {
			return nil, err
		}
		p.PreviousRoot = &PreviousRootProof{Commitment: ex.parent}
		if p.AccountProofs, err = ex.accountProofs(types.AccountIndex(exp)); err != nil {
			return nil, err
		}
		return p, nil
	}
	return ex.proof(ProofHardTransactionSource, i, false, reason)
}

// sourceMismatch describes how the block's hard transaction differs from
// the peg record, or returns "".
func sourceMismatch(tx, exp types.Transaction) string {
	if tx.Kind() != exp.Kind() {
		return fmt.Sprintf("block has %s, peg record is %s", tx.Kind(), exp.Kind())
	}
	switch t := tx.(type) {
	case *types.HardCreate:
		e := exp.(*types.HardCreate)
		switch {
		case t.Value != e.Value:
			return fmt.Sprintf("value %d, peg has %d", t.Value, e.Value)
		case t.ContractAddress != e.ContractAddress:
			return fmt.Sprintf("contract %s, peg has %s", t.ContractAddress.Hex(), e.ContractAddress.Hex())
		case t.SignerAddress != e.SignerAddress:
			return fmt.Sprintf("signer %s, peg has %s", t.SignerAddress.Hex(), e.SignerAddress.Hex())
		}
	case *types.HardDeposit:
		e := exp.(*types.HardDeposit)
		switch {
		case t.AccountIndex != e.AccountIndex:
			return fmt.Sprintf("account %d, peg has %d", t.AccountIndex, e.AccountIndex)
		case t.Value != e.Value:
			return fmt.Sprintf("value %d, peg has %d", t.Value, e.Value)
		}
	case *types.HardWithdraw:
		e := exp.(*types.HardWithdraw)
		switch {
		case t.AccountIndex != e.AccountIndex:
			return fmt.Sprintf("account %d, peg has %d", t.AccountIndex, e.AccountIndex)
		case t.CallerAddress != e.CallerAddress:
			return fmt.Sprintf("caller %s, peg has %s", t.CallerAddress.Hex(), e.CallerAddress.Hex())
		case t.Value != e.Value:
			return fmt.Sprintf("value %d, peg has %d", t.Value, e.Value)
		}
	case *types.HardAddSigner:
		e := exp.(*types.HardAddSigner)
		switch {
		case t.AccountIndex != e.AccountIndex:
			return fmt.Sprintf("account %d, peg has %d", t.AccountIndex, e.AccountIndex)
		case t.SigningAddress != e.SigningAddress:
			return fmt.Sprintf("signer %s, peg has %s", t.SigningAddress.Hex(), e.SigningAddress.Hex())
		}
	}
	return ""
}

// involvedAccounts lists the slots a transaction reads or writes, sender
// first.
func involvedAccounts(tx types.Transaction) []uint32 {
	switch t := tx.(type) {
	case *types.SoftTransfer:
		return []uint32{t.FromIndex, t.ToIndex}
	case *types.SoftCreate:
		return []uint32{t.FromIndex, t.ToIndex}
	}
	return []uint32{types.AccountIndex(tx)}
}

// reexecute applies the block's transactions one at a time to the fork
// and compares each outcome with the root the block recorded.
func (ex *execution) reexecute() (*ErrorProof, error) {
	all := ex.view.all
	for i, tx := range all {
		prevRoot, _ := types.PreviousStateRoot(all, i, ex.parent.StateRoot)
		if ex.state.Root() != prevRoot {
			return nil, internalf("state root %s before transaction %d, chain says %s", ex.state.Root(), i, prevRoot)
		}
		size := ex.state.Size()

		run := types.CopyTransaction(tx)
		var claimedIndex uint32
		isCreate := false
		switch t := run.(type) {
		case *types.HardCreate:
			claimedIndex, isCreate = t.AccountIndex, true
		case *types.SoftCreate:
			claimedIndex, isCreate = t.ToIndex, true
		case *types.HardAddSigner:
			// the caller is not in the block body
			if e, ok := ex.expected[t.HardTransactionIndex].(*types.HardAddSigner); ok {
				t.CallerAddress = e.CallerAddress
			}
		}
		if isCreate && claimedIndex != size {
			accounts := []uint32{size}
			if size > 0 {
				accounts = []uint32{size - 1, size}
			}
			return ex.proof(ProofCreateIndex, i, true,
				fmt.Sprintf("%s claims index %d, state size is %d", tx.Kind(), claimedIndex, size), accounts...)
		}

		if t, ok := run.(*types.HardAddSigner); ok && !types.IntermediateStateRoot(tx).IsZero() {
			// the peg-recorded caller must already sign for the account
			if acc, err := ex.state.GetAccount(t.AccountIndex); err == nil && !acc.HasSigner(t.CallerAddress) {
				return ex.proof(ProofHardTransactionSource, i, true,
					fmt.Sprintf("caller %s is not a signer of account %d", t.CallerAddress.Hex(), t.AccountIndex), t.AccountIndex)
			}
		}

		if tx.Kind().IsSoft() {
			from := types.AccountIndex(tx)
			if acc, err := ex.state.GetAccount(from); err == nil {
				signer, _ := types.RecoverTransactionSigner(tx)
				if !acc.HasSigner(signer) {
					return ex.proof(ProofTransactionSignature, i, true,
						fmt.Sprintf("%s is not a signer of account %d", signer.Hex(), from), from)
				}
			}
		}

		step := ex.state.Fork()
		root, err := statedb.NewStateMachine(step).Apply(run)
		claimed := types.IntermediateStateRoot(tx)
		var reason string
		switch {
		case err == nil:
			if root != claimed {
				reason = fmt.Sprintf("root is %s, block claims %s", root, claimed)
			}
		case statedb.IsHardFailure(err):
			if !claimed.IsZero() {
				reason = fmt.Sprintf("transaction fails (%v), block claims root %s", err, claimed)
			}
		case statedb.IsSoftRejection(err):
			reason = fmt.Sprintf("transaction is invalid: %v", err)
		default:
			return nil, internalf("apply transaction %d: %v", i, err)
		}
		if reason != "" {
			return ex.proof(ExecutionProofKind(tx.Kind()), i, true, reason, involvedAccounts(tx)...)
		}
		if err := step.Commit(); err != nil {
			return nil, internalf("commit transaction %d: %v", i, err)
		}
	}
	h := ex.view.header
	if ex.state.Root() != h.StateRoot || ex.state.Size() != h.StateSize {
		return nil, internalf("re-executed state (%d, %s) differs from header (%d, %s)",
			ex.state.Size(), ex.state.Root(), h.StateSize, h.StateRoot)
	}
	return nil, nil
}
