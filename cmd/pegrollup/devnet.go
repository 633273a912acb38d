package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"path/filepath"

	"github.com/colorfulnotion/pegrollup/auditor"
	"github.com/colorfulnotion/pegrollup/builder"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/config"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/peg"
	"github.com/colorfulnotion/pegrollup/statedb"
	"github.com/colorfulnotion/pegrollup/storage"
	"github.com/colorfulnotion/pegrollup/trie"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type devAccount struct {
	address common.Address
	key     *ecdsa.PrivateKey
	index   uint32
}

func devAccounts(n int) ([]*devAccount, error) {
	if n < 2 || n > 5 {
		return nil, fmt.Errorf("devnet needs between 2 and 5 accounts, got %d", n)
	}
	out := make([]*devAccount, n)
	for i := range out {
		addr, priv := common.GetEVMDevAccount(i)
		key, err := crypto.HexToECDSA(priv)
		if err != nil {
			return nil, err
		}
		out[i] = &devAccount{address: addr, key: key, index: uint32(i)}
	}
	return out, nil
}

// runDevnet funds the dev accounts through the peg, then produces blocks
// of soft transfers and forced withdrawals. Every submitted block is
// audited by an independent auditor listening to the peg.
func runDevnet(ctx context.Context, cfg config.Config, blocks, numAccounts int, out io.Writer) error {
	accounts, err := devAccounts(numAccounts)
	if err != nil {
		return err
	}

	var store *storage.PersistenceStore
	if cfg.DataDir == "" {
		store, err = storage.NewMemoryPersistenceStore()
	} else {
		store, err = storage.NewPersistenceStore(filepath.Join(cfg.DataDir, "chain"))
	}
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := statedb.NewAccountState(store)
	if err != nil {
		return err
	}
	genesis := types.GenesisBlock(trie.EmptyRoot())
	pegChain := peg.NewMemoryPeg(genesis.Commitment, cfg.ConfirmationWindow)
	defer pegChain.Close()

	b, err := builder.NewBuilder(builder.Config{
		Version:              cfg.BlockVersion,
		MaxBlockTransactions: cfg.MaxBlockTransactions,
		MaxQueueDepth:        cfg.MaxSoftTransactions,
	}, state, storage.NewBlockArchive(store), pegChain)
	if err != nil {
		return err
	}
	defer b.Close()
	if n := b.Latest().Header.BlockNumber; n != 0 {
		return fmt.Errorf("devnet needs an empty data dir, found block %d", n)
	}

	aud, err := auditor.NewAuditor(pegChain, statedb.NewMemoryAccountState(), genesis.Commitment, cfg.AuditWorkers)
	if err != nil {
		return err
	}
	submissions := make(chan *peg.BlockSubmission, 1)
	sub := pegChain.SubscribeBlockSubmissions(submissions)
	defer sub.Unsubscribe()

	for _, acc := range accounts {
		if _, err := pegChain.Deposit(acc.address, acc.address, 1_000_000); err != nil {
			return err
		}
	}

	var committed []*types.Commitment
	for n := 1; n <= blocks; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := queueActivity(b, pegChain, accounts, n)
		if err != nil {
			return err
		}
		blk, err := b.BuildBlock(ctx)
		if err != nil {
			return err
		}
		c, err := b.SubmitLatest(ctx)
		if err != nil {
			return err
		}
		committed = append(committed, c)
		for _, res := range results {
			if r := <-res; r.Err != nil {
				log.Warn(log.Node, "soft transaction rejected", "block", blk.Header.BlockNumber, "err", r.Err)
			}
		}

		select {
		case s := <-submissions:
			proof, err := aud.AuditSubmission(ctx, s)
			if err != nil {
				return err
			}
			if proof != nil {
				fmt.Fprintf(out, "block %d disputed: %s\n", s.Commitment.BlockNumber, proof.Kind)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}

		pegChain.Mine(1)
		committed = confirmReady(ctx, pegChain, committed)
		fmt.Fprintln(out, b.Latest().ToTree().String())
	}

	supply, err := b.State().TotalBalance()
	if err != nil {
		return err
	}
	stats := b.Queue().GetStats()
	fmt.Fprintf(out, "blocks: %d, audited through: %d, soft received: %d, included: %d, rejected: %d, error proofs: %d, total balance: %s\n",
		b.Latest().Header.BlockNumber, aud.Latest().BlockNumber, stats.Received, stats.Included, stats.Rejected, len(pegChain.ErrorProofs()), supply.Dec())
	return nil
}

// queueActivity records a forced withdrawal on the peg every third block
// and queues one soft transfer per funded account.
func queueActivity(b *builder.Builder, p *peg.MemoryPeg, accounts []*devAccount, n int) ([]<-chan builder.SoftResult, error) {
	if n%3 == 0 {
		acc := accounts[0]
		if _, err := p.ForceWithdraw(acc.index, acc.address, 5); err != nil {
			return nil, err
		}
	}
	if n == 1 {
		// the accounts are created by this block
		return nil, nil
	}
	var results []<-chan builder.SoftResult
	for i, from := range accounts {
		to := accounts[(i+1)%len(accounts)]
		acc, err := b.State().GetAccount(from.index)
		if err != nil {
			return nil, err
		}
		tx := &types.SoftTransfer{FromIndex: from.index, ToIndex: to.index, Nonce: acc.Nonce, Value: uint64(10 * n)}
		if err := types.SignTransaction(tx, from.key); err != nil {
			return nil, err
		}
		res, err := b.SubmitSoftTransaction(tx)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// confirmReady confirms submitted blocks in order until one is still
// inside its window, and returns the unconfirmed rest.
func confirmReady(ctx context.Context, p *peg.MemoryPeg, committed []*types.Commitment) []*types.Commitment {
	for len(committed) > 0 {
		if err := p.ConfirmBlock(ctx, committed[0]); err != nil {
			log.Debug(log.Peg, "not confirmed yet", "number", committed[0].BlockNumber, "err", err)
			return committed
		}
		log.Info(log.Peg, "block confirmed", "number", committed[0].BlockNumber)
		committed = committed[1:]
	}
	return committed
}
