package types

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// ToTree renders the block header and its transactions by kind.
func (b *Block) ToTree() treeprint.Tree {
	tree := treeprint.New()
	status := "pending"
	if b.Commitment != nil {
		status = fmt.Sprintf("submitted at %d", b.Commitment.SubmittedAt)
	}
	tree.SetValue(fmt.Sprintf("\033[1;34mBlock %d\033[0m, \033[1;32mHash: %s\033[0m, \033[1;33m%s\033[0m",
		b.Header.BlockNumber, b.Hash().String_short(), status))

	hdr := tree.AddBranch("header")
	hdr.AddNode(fmt.Sprintf("version: %d", b.Header.Version))
	hdr.AddNode(fmt.Sprintf("stateSize: %d", b.Header.StateSize))
	hdr.AddNode(fmt.Sprintf("stateRoot: %s", b.Header.StateRoot.String_short()))
	hdr.AddNode(fmt.Sprintf("hardTransactionsCount: %d", b.Header.HardTransactionsCount))
	hdr.AddNode(fmt.Sprintf("transactionsRoot: %s", b.Header.TransactionsRoot.String_short()))

	if b.Transactions == nil {
		return tree
	}
	txs := tree.AddBranch(fmt.Sprintf("transactions (%d)", b.Transactions.Len()))
	for _, kind := range CanonicalOrder {
		bucket := b.Transactions.Bucket(kind)
		if len(bucket) == 0 {
			continue
		}
		branch := txs.AddBranch(fmt.Sprintf("%s (%d)", kind, len(bucket)))
		for _, tx := range bucket {
			branch.AddNode(TransactionSummary(tx))
		}
	}
	return tree
}

// TransactionSummary is a one-line description of tx.
func TransactionSummary(tx Transaction) string {
	root := IntermediateStateRoot(tx).String_short()
	switch t := tx.(type) {
	case *HardCreate:
		return fmt.Sprintf("#%d create %d %s value=%d root=%s", t.HardTransactionIndex, t.AccountIndex, t.ContractAddress.Hex(), t.Value, root)
	case *HardDeposit:
		return fmt.Sprintf("#%d deposit %d value=%d root=%s", t.HardTransactionIndex, t.AccountIndex, t.Value, root)
	case *HardWithdraw:
		return fmt.Sprintf("#%d withdraw %d value=%d root=%s", t.HardTransactionIndex, t.AccountIndex, t.Value, root)
	case *HardAddSigner:
		return fmt.Sprintf("#%d add signer %d %s root=%s", t.HardTransactionIndex, t.AccountIndex, t.SigningAddress.Hex(), root)
	case *SoftWithdrawal:
		return fmt.Sprintf("%d withdraw value=%d nonce=%d root=%s", t.FromIndex, t.Value, t.Nonce, root)
	case *SoftCreate:
		return fmt.Sprintf("%d create %d %s value=%d nonce=%d root=%s", t.FromIndex, t.ToIndex, t.ContractAddress.Hex(), t.Value, t.Nonce, root)
	case *SoftTransfer:
		return fmt.Sprintf("%d -> %d value=%d nonce=%d root=%s", t.FromIndex, t.ToIndex, t.Value, t.Nonce, root)
	case *SoftChangeSigner:
		op := "add"
		if t.ModificationCategory == SignerRemove {
			op = "remove"
		}
		return fmt.Sprintf("%d %s signer %s nonce=%d root=%s", t.FromIndex, op, t.SigningAddress.Hex(), t.Nonce, root)
	}
	return tx.Kind().String()
}
