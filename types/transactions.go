package types

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// Transactions is the kind-bucketed transaction collection of a block.
type Transactions struct {
	HardCreates       []*HardCreate       `json:"hardCreates,omitempty"`
	HardDeposits      []*HardDeposit      `json:"hardDeposits,omitempty"`
	HardWithdrawals   []*HardWithdraw     `json:"hardWithdrawals,omitempty"`
	HardAddSigners    []*HardAddSigner    `json:"hardAddSigners,omitempty"`
	SoftWithdrawals   []*SoftWithdrawal   `json:"softWithdrawals,omitempty"`
	SoftCreates       []*SoftCreate       `json:"softCreates,omitempty"`
	SoftTransfers     []*SoftTransfer     `json:"softTransfers,omitempty"`
	SoftChangeSigners []*SoftChangeSigner `json:"softChangeSigners,omitempty"`
}

// NewTransactions buckets txs by kind, preserving relative order.
func NewTransactions(txs ...Transaction) *Transactions {
	t := &Transactions{}
	for _, tx := range txs {
		t.Add(tx)
	}
	return t
}

// Add appends tx to its kind bucket.
func (t *Transactions) Add(tx Transaction) {
	switch v := tx.(type) {
	case *HardCreate:
		t.HardCreates = append(t.HardCreates, v)
	case *HardDeposit:
		t.HardDeposits = append(t.HardDeposits, v)
	case *HardWithdraw:
		t.HardWithdrawals = append(t.HardWithdrawals, v)
	case *HardAddSigner:
		t.HardAddSigners = append(t.HardAddSigners, v)
	case *SoftWithdrawal:
		t.SoftWithdrawals = append(t.SoftWithdrawals, v)
	case *SoftCreate:
		t.SoftCreates = append(t.SoftCreates, v)
	case *SoftTransfer:
		t.SoftTransfers = append(t.SoftTransfers, v)
	case *SoftChangeSigner:
		t.SoftChangeSigners = append(t.SoftChangeSigners, v)
	}
}

// Bucket returns the transactions of one kind.
func (t *Transactions) Bucket(kind TxKind) []Transaction {
	var out []Transaction
	switch kind {
	case KindHardCreate:
		for _, tx := range t.HardCreates {
			out = append(out, tx)
		}
	case KindHardDeposit:
		for _, tx := range t.HardDeposits {
			out = append(out, tx)
		}
	case KindHardWithdraw:
		for _, tx := range t.HardWithdrawals {
			out = append(out, tx)
		}
	case KindHardAddSigner:
		for _, tx := range t.HardAddSigners {
			out = append(out, tx)
		}
	case KindSoftWithdrawal:
		for _, tx := range t.SoftWithdrawals {
			out = append(out, tx)
		}
	case KindSoftCreate:
		for _, tx := range t.SoftCreates {
			out = append(out, tx)
		}
	case KindSoftTransfer:
		for _, tx := range t.SoftTransfers {
			out = append(out, tx)
		}
	case KindSoftChangeSigner:
		for _, tx := range t.SoftChangeSigners {
			out = append(out, tx)
		}
	}
	return out
}

func (t *Transactions) bucketLen(kind TxKind) int {
	switch kind {
	case KindHardCreate:
		return len(t.HardCreates)
	case KindHardDeposit:
		return len(t.HardDeposits)
	case KindHardWithdraw:
		return len(t.HardWithdrawals)
	case KindHardAddSigner:
		return len(t.HardAddSigners)
	case KindSoftWithdrawal:
		return len(t.SoftWithdrawals)
	case KindSoftCreate:
		return len(t.SoftCreates)
	case KindSoftTransfer:
		return len(t.SoftTransfers)
	case KindSoftChangeSigner:
		return len(t.SoftChangeSigners)
	}
	return 0
}

// All returns every transaction in canonical order.
func (t *Transactions) All() []Transaction {
	out := make([]Transaction, 0, t.Len())
	for _, kind := range CanonicalOrder {
		out = append(out, t.Bucket(kind)...)
	}
	return out
}

// Hard returns the hard transactions in canonical order.
func (t *Transactions) Hard() []Transaction {
	var out []Transaction
	for _, kind := range CanonicalOrder {
		if kind.IsHard() {
			out = append(out, t.Bucket(kind)...)
		}
	}
	return out
}

// Soft returns the soft transactions in canonical order.
func (t *Transactions) Soft() []Transaction {
	var out []Transaction
	for _, kind := range CanonicalOrder {
		if kind.IsSoft() {
			out = append(out, t.Bucket(kind)...)
		}
	}
	return out
}

func (t *Transactions) Len() int {
	n := 0
	for k := TxKind(0); k < NumKinds; k++ {
		n += t.bucketLen(k)
	}
	return n
}

// Metadata counts each bucket. Buckets beyond uint16 are an error.
func (t *Transactions) Metadata() (TransactionMetadata, error) {
	var m TransactionMetadata
	for k := TxKind(0); k < NumKinds; k++ {
		n := t.bucketLen(k)
		if n > math.MaxUint16 {
			return m, fmt.Errorf("%w %d %s transactions", rollerrors.ErrCValueOutOfRange, n, k)
		}
		m.Counts[k] = uint16(n)
	}
	return m, nil
}

// Encode produces transactionsData: metadata followed by the non-prefixed
// encodings in canonical order.
func (t *Transactions) Encode() ([]byte, error) {
	meta, err := t.Metadata()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, meta.ExpectedDataLength())
	out = append(out, meta.Encode()...)
	for _, tx := range t.All() {
		b, err := EncodeTransaction(tx, false)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", tx.Kind(), err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Leaves returns the prefixed encodings in canonical order, the input of
// the transactions tree.
func (t *Transactions) Leaves() ([][]byte, error) {
	all := t.All()
	leaves := make([][]byte, len(all))
	for i, tx := range all {
		b, err := EncodeTransaction(tx, true)
		if err != nil {
			return nil, fmt.Errorf("encode leaf %d: %w", i, err)
		}
		leaves[i] = b
	}
	return leaves, nil
}

// Copy returns a deep copy of the collection.
func (t *Transactions) Copy() *Transactions {
	c := &Transactions{}
	for _, tx := range t.All() {
		c.Add(CopyTransaction(tx))
	}
	return c
}

// DecodeTransactionsData parses transactionsData. The total length must
// equal the length implied by the metadata.
func DecodeTransactionsData(data []byte) (*Transactions, TransactionMetadata, error) {
	meta, err := DecodeMetadata(data)
	if err != nil {
		return nil, meta, err
	}
	if want := meta.ExpectedDataLength(); len(data) != want {
		return nil, meta, fmt.Errorf("%w have %d bytes, metadata implies %d", rollerrors.ErrCMetadataMismatch, len(data), want)
	}
	t := &Transactions{}
	off := MetadataSize
	for _, kind := range CanonicalOrder {
		w := kind.Width()
		for i := 0; i < int(meta.Counts[kind]); i++ {
			tx, err := DecodeTransaction(kind, data[off:off+w])
			if err != nil {
				return nil, meta, fmt.Errorf("%s %d: %w", kind, i, err)
			}
			t.Add(tx)
			off += w
		}
	}
	return t, meta, nil
}

// PreviousStateRoot is the state root in force before all[i] executed:
// the nearest earlier non-zero intermediate root, or parentRoot. Failed
// hard transactions carry a zero root and are skipped.
func PreviousStateRoot(all []Transaction, i int, parentRoot common.Hash) (common.Hash, int) {
	for j := i - 1; j >= 0; j-- {
		if r := IntermediateStateRoot(all[j]); !r.IsZero() {
			return r, j
		}
	}
	return parentRoot, -1
}

// FinalStateRoot is the state root after every transaction in txs.
func (t *Transactions) FinalStateRoot(parentRoot common.Hash) common.Hash {
	all := t.All()
	r, _ := PreviousStateRoot(all, len(all), parentRoot)
	return r
}
