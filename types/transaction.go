package types

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// TxKind is the one-byte discriminant that prefixes a transaction leaf.
type TxKind uint8

const (
	KindHardCreate TxKind = iota
	KindHardDeposit
	KindHardWithdraw
	KindHardAddSigner
	KindSoftWithdrawal
	KindSoftCreate
	KindSoftTransfer
	KindSoftChangeSigner

	NumKinds = 8
)

// Encoded widths excluding the discriminant.
const (
	HardCreateSize       = 88
	HardDepositSize      = 48
	HardWithdrawSize     = 68
	HardAddSignerSize    = 61
	SoftWithdrawalSize   = 131
	SoftCreateSize       = 155
	SoftTransferSize     = 115
	SoftChangeSignerSize = 125
)

var kindWidths = [NumKinds]int{
	HardCreateSize,
	HardDepositSize,
	HardWithdrawSize,
	HardAddSignerSize,
	SoftWithdrawalSize,
	SoftCreateSize,
	SoftTransferSize,
	SoftChangeSignerSize,
}

var kindNames = [NumKinds]string{
	"hard_create",
	"hard_deposit",
	"hard_withdraw",
	"hard_add_signer",
	"soft_withdrawal",
	"soft_create",
	"soft_transfer",
	"soft_change_signer",
}

// CanonicalOrder is the order of kind buckets in the block body, the
// metadata header and the transactions tree.
var CanonicalOrder = [NumKinds]TxKind{
	KindHardCreate,
	KindHardDeposit,
	KindHardWithdraw,
	KindHardAddSigner,
	KindSoftWithdrawal,
	KindSoftCreate,
	KindSoftTransfer,
	KindSoftChangeSigner,
}

func (k TxKind) Valid() bool { return k < NumKinds }

// Width returns the encoded size of the kind without its prefix.
func (k TxKind) Width() int {
	if !k.Valid() {
		return 0
	}
	return kindWidths[k]
}

func (k TxKind) IsHard() bool { return k <= KindHardAddSigner }

func (k TxKind) IsSoft() bool { return k >= KindSoftWithdrawal && k < NumKinds }

func (k TxKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
	return kindNames[k]
}

// SignerModification is the category of a SoftChangeSigner.
type SignerModification uint8

const (
	SignerAdd    SignerModification = 0
	SignerRemove SignerModification = 1
)

// Transaction is the closed set of the eight kinds below. Behaviour lives
// in the free functions of this package, which switch on the concrete type.
type Transaction interface {
	Kind() TxKind
}

type HardCreate struct {
	HardTransactionIndex  uint64         `json:"hardTransactionIndex"`
	AccountIndex          uint32         `json:"accountIndex"`
	Value                 uint64         `json:"value"`
	ContractAddress       common.Address `json:"contractAddress"`
	SignerAddress         common.Address `json:"signerAddress"`
	IntermediateStateRoot common.Hash    `json:"intermediateStateRoot"`
}

type HardDeposit struct {
	HardTransactionIndex  uint64      `json:"hardTransactionIndex"`
	AccountIndex          uint32      `json:"accountIndex"`
	Value                 uint64      `json:"value"`
	IntermediateStateRoot common.Hash `json:"intermediateStateRoot"`
}

type HardWithdraw struct {
	HardTransactionIndex  uint64         `json:"hardTransactionIndex"`
	AccountIndex          uint32         `json:"accountIndex"`
	CallerAddress         common.Address `json:"callerAddress"`
	Value                 uint64         `json:"value"`
	IntermediateStateRoot common.Hash    `json:"intermediateStateRoot"`
}

// HardAddSigner does not carry its caller in the block body; CallerAddress
// is filled from the peg record and is only used for execution.
type HardAddSigner struct {
	HardTransactionIndex  uint64         `json:"hardTransactionIndex"`
	AccountIndex          uint32         `json:"accountIndex"`
	SigningAddress        common.Address `json:"signingAddress"`
	IntermediateStateRoot common.Hash    `json:"intermediateStateRoot"`
	CallerAddress         common.Address `json:"-"`
}

type SoftWithdrawal struct {
	FromIndex             uint32           `json:"fromIndex"`
	WithdrawalAddress     common.Address   `json:"withdrawalAddress"`
	Nonce                 uint32           `json:"nonce"`
	Value                 uint64           `json:"value"`
	Signature             common.Signature `json:"signature"`
	IntermediateStateRoot common.Hash      `json:"intermediateStateRoot"`
}

type SoftCreate struct {
	FromIndex             uint32           `json:"fromIndex"`
	ToIndex               uint32           `json:"toIndex"`
	Nonce                 uint32           `json:"nonce"`
	Value                 uint64           `json:"value"`
	ContractAddress       common.Address   `json:"contractAddress"`
	SigningAddress        common.Address   `json:"signingAddress"`
	Signature             common.Signature `json:"signature"`
	IntermediateStateRoot common.Hash      `json:"intermediateStateRoot"`
}

type SoftTransfer struct {
	FromIndex             uint32           `json:"fromIndex"`
	ToIndex               uint32           `json:"toIndex"`
	Nonce                 uint32           `json:"nonce"`
	Value                 uint64           `json:"value"`
	Signature             common.Signature `json:"signature"`
	IntermediateStateRoot common.Hash      `json:"intermediateStateRoot"`
}

type SoftChangeSigner struct {
	FromIndex             uint32             `json:"fromIndex"`
	Nonce                 uint32             `json:"nonce"`
	SigningAddress        common.Address     `json:"signingAddress"`
	ModificationCategory  SignerModification `json:"modificationCategory"`
	Signature             common.Signature   `json:"signature"`
	IntermediateStateRoot common.Hash        `json:"intermediateStateRoot"`
}

func (*HardCreate) Kind() TxKind       { return KindHardCreate }
func (*HardDeposit) Kind() TxKind      { return KindHardDeposit }
func (*HardWithdraw) Kind() TxKind     { return KindHardWithdraw }
func (*HardAddSigner) Kind() TxKind    { return KindHardAddSigner }
func (*SoftWithdrawal) Kind() TxKind   { return KindSoftWithdrawal }
func (*SoftCreate) Kind() TxKind       { return KindSoftCreate }
func (*SoftTransfer) Kind() TxKind     { return KindSoftTransfer }
func (*SoftChangeSigner) Kind() TxKind { return KindSoftChangeSigner }

// unsignedFields writes every field that precedes the signature (soft) or
// the intermediate root (hard).
func unsignedFields(tx Transaction, enc *codec.Encoder) error {
	switch t := tx.(type) {
	case *HardCreate:
		enc.PutUint40(t.HardTransactionIndex).PutUint32(t.AccountIndex).PutUint56(t.Value).
			PutAddress(t.ContractAddress).PutAddress(t.SignerAddress)
	case *HardDeposit:
		enc.PutUint40(t.HardTransactionIndex).PutUint32(t.AccountIndex).PutUint56(t.Value)
	case *HardWithdraw:
		enc.PutUint40(t.HardTransactionIndex).PutUint32(t.AccountIndex).PutAddress(t.CallerAddress).PutUint56(t.Value)
	case *HardAddSigner:
		enc.PutUint40(t.HardTransactionIndex).PutUint32(t.AccountIndex).PutAddress(t.SigningAddress)
	case *SoftWithdrawal:
		enc.PutUint32(t.FromIndex).PutAddress(t.WithdrawalAddress).PutUint24(t.Nonce).PutUint56(t.Value)
	case *SoftCreate:
		enc.PutUint32(t.FromIndex).PutUint32(t.ToIndex).PutUint24(t.Nonce).PutUint56(t.Value).
			PutAddress(t.ContractAddress).PutAddress(t.SigningAddress)
	case *SoftTransfer:
		enc.PutUint32(t.FromIndex).PutUint32(t.ToIndex).PutUint24(t.Nonce).PutUint56(t.Value)
	case *SoftChangeSigner:
		enc.PutUint32(t.FromIndex).PutUint24(t.Nonce).PutAddress(t.SigningAddress).PutUint8(uint8(t.ModificationCategory))
	default:
		return fmt.Errorf("%w %T", rollerrors.ErrCUnknownPrefix, tx)
	}
	return nil
}

// EncodeTransaction serializes tx. withPrefix=true produces the transaction
// tree leaf; withPrefix=false produces the block body encoding.
func EncodeTransaction(tx Transaction, withPrefix bool) ([]byte, error) {
	kind := tx.Kind()
	size := kind.Width()
	if withPrefix {
		size++
	}
	enc := codec.NewEncoder(size)
	if withPrefix {
		enc.PutUint8(uint8(kind))
	}
	if err := unsignedFields(tx, enc); err != nil {
		return nil, err
	}
	if sig, ok := TransactionSignature(tx); ok {
		enc.PutBytes(sig[:])
	}
	enc.PutHash(IntermediateStateRoot(tx))
	return enc.Bytes()
}

// MustEncodeTransaction panics on encoding errors; for transactions that
// were produced by DecodeTransaction or already encoded once.
func MustEncodeTransaction(tx Transaction, withPrefix bool) []byte {
	b, err := EncodeTransaction(tx, withPrefix)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeTransaction parses the non-prefixed encoding of a transaction of
// the given kind. data must be exactly kind.Width() bytes.
func DecodeTransaction(kind TxKind, data []byte) (Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w %d", rollerrors.ErrCUnknownPrefix, kind)
	}
	if len(data) != kind.Width() {
		return nil, fmt.Errorf("%w %s is %d bytes, want %d", rollerrors.ErrCShortInput, kind, len(data), kind.Width())
	}
	dec := codec.NewDecoder(data)
	var tx Transaction
	switch kind {
	case KindHardCreate:
		tx = &HardCreate{
			HardTransactionIndex:  dec.Uint40(),
			AccountIndex:          dec.Uint32(),
			Value:                 dec.Uint56(),
			ContractAddress:       dec.Address(),
			SignerAddress:         dec.Address(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindHardDeposit:
		tx = &HardDeposit{
			HardTransactionIndex:  dec.Uint40(),
			AccountIndex:          dec.Uint32(),
			Value:                 dec.Uint56(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindHardWithdraw:
		tx = &HardWithdraw{
			HardTransactionIndex:  dec.Uint40(),
			AccountIndex:          dec.Uint32(),
			CallerAddress:         dec.Address(),
			Value:                 dec.Uint56(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindHardAddSigner:
		tx = &HardAddSigner{
			HardTransactionIndex:  dec.Uint40(),
			AccountIndex:          dec.Uint32(),
			SigningAddress:        dec.Address(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindSoftWithdrawal:
		tx = &SoftWithdrawal{
			FromIndex:             dec.Uint32(),
			WithdrawalAddress:     dec.Address(),
			Nonce:                 dec.Uint24(),
			Value:                 dec.Uint56(),
			Signature:             dec.Signature(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindSoftCreate:
		tx = &SoftCreate{
			FromIndex:             dec.Uint32(),
			ToIndex:               dec.Uint32(),
			Nonce:                 dec.Uint24(),
			Value:                 dec.Uint56(),
			ContractAddress:       dec.Address(),
			SigningAddress:        dec.Address(),
			Signature:             dec.Signature(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindSoftTransfer:
		tx = &SoftTransfer{
			FromIndex:             dec.Uint32(),
			ToIndex:               dec.Uint32(),
			Nonce:                 dec.Uint24(),
			Value:                 dec.Uint56(),
			Signature:             dec.Signature(),
			IntermediateStateRoot: dec.Hash(),
		}
	case KindSoftChangeSigner:
		tx = &SoftChangeSigner{
			FromIndex:             dec.Uint32(),
			Nonce:                 dec.Uint24(),
			SigningAddress:        dec.Address(),
			ModificationCategory:  SignerModification(dec.Uint8()),
			Signature:             dec.Signature(),
			IntermediateStateRoot: dec.Hash(),
		}
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return tx, nil
}

// DecodePrefixedTransaction parses a transaction tree leaf.
func DecodePrefixedTransaction(data []byte) (Transaction, error) {
	if len(data) == 0 {
		return nil, rollerrors.ErrCShortInput
	}
	return DecodeTransaction(TxKind(data[0]), data[1:])
}

// IntermediateStateRoot returns the state root recorded after tx executed.
func IntermediateStateRoot(tx Transaction) common.Hash {
	switch t := tx.(type) {
	case *HardCreate:
		return t.IntermediateStateRoot
	case *HardDeposit:
		return t.IntermediateStateRoot
	case *HardWithdraw:
		return t.IntermediateStateRoot
	case *HardAddSigner:
		return t.IntermediateStateRoot
	case *SoftWithdrawal:
		return t.IntermediateStateRoot
	case *SoftCreate:
		return t.IntermediateStateRoot
	case *SoftTransfer:
		return t.IntermediateStateRoot
	case *SoftChangeSigner:
		return t.IntermediateStateRoot
	}
	return common.Hash{}
}

// SetIntermediateStateRoot records the state root after tx executed.
func SetIntermediateStateRoot(tx Transaction, root common.Hash) {
	switch t := tx.(type) {
	case *HardCreate:
		t.IntermediateStateRoot = root
	case *HardDeposit:
		t.IntermediateStateRoot = root
	case *HardWithdraw:
		t.IntermediateStateRoot = root
	case *HardAddSigner:
		t.IntermediateStateRoot = root
	case *SoftWithdrawal:
		t.IntermediateStateRoot = root
	case *SoftCreate:
		t.IntermediateStateRoot = root
	case *SoftTransfer:
		t.IntermediateStateRoot = root
	case *SoftChangeSigner:
		t.IntermediateStateRoot = root
	}
}

// HardTransactionIndex returns the peg-assigned index of a hard transaction.
func HardTransactionIndex(tx Transaction) (uint64, bool) {
	switch t := tx.(type) {
	case *HardCreate:
		return t.HardTransactionIndex, true
	case *HardDeposit:
		return t.HardTransactionIndex, true
	case *HardWithdraw:
		return t.HardTransactionIndex, true
	case *HardAddSigner:
		return t.HardTransactionIndex, true
	}
	return 0, false
}

// AccountIndex returns the index of the account the transaction acts on:
// the target of a hard transaction or the sender of a soft one.
func AccountIndex(tx Transaction) uint32 {
	switch t := tx.(type) {
	case *HardCreate:
		return t.AccountIndex
	case *HardDeposit:
		return t.AccountIndex
	case *HardWithdraw:
		return t.AccountIndex
	case *HardAddSigner:
		return t.AccountIndex
	case *SoftWithdrawal:
		return t.FromIndex
	case *SoftCreate:
		return t.FromIndex
	case *SoftTransfer:
		return t.FromIndex
	case *SoftChangeSigner:
		return t.FromIndex
	}
	return 0
}

// TransactionNonce returns the account nonce a soft transaction consumes.
func TransactionNonce(tx Transaction) (uint32, bool) {
	switch t := tx.(type) {
	case *SoftWithdrawal:
		return t.Nonce, true
	case *SoftCreate:
		return t.Nonce, true
	case *SoftTransfer:
		return t.Nonce, true
	case *SoftChangeSigner:
		return t.Nonce, true
	}
	return 0, false
}

// TransactionSignature returns the signature of a soft transaction.
func TransactionSignature(tx Transaction) (common.Signature, bool) {
	switch t := tx.(type) {
	case *SoftWithdrawal:
		return t.Signature, true
	case *SoftCreate:
		return t.Signature, true
	case *SoftTransfer:
		return t.Signature, true
	case *SoftChangeSigner:
		return t.Signature, true
	}
	return common.Signature{}, false
}

func setSignature(tx Transaction, sig common.Signature) bool {
	switch t := tx.(type) {
	case *SoftWithdrawal:
		t.Signature = sig
	case *SoftCreate:
		t.Signature = sig
	case *SoftTransfer:
		t.Signature = sig
	case *SoftChangeSigner:
		t.Signature = sig
	default:
		return false
	}
	return true
}

// MessageHash is keccak256 over the fields of a soft transaction that
// precede its signature.
func MessageHash(tx Transaction) (common.Hash, error) {
	if !tx.Kind().IsSoft() {
		return common.Hash{}, fmt.Errorf("%s has no signed message", tx.Kind())
	}
	enc := codec.NewEncoder(tx.Kind().Width())
	if err := unsignedFields(tx, enc); err != nil {
		return common.Hash{}, err
	}
	msg, err := enc.Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	return common.Keccak256(msg), nil
}

// SignTransaction signs a soft transaction in place.
func SignTransaction(tx Transaction, key *ecdsa.PrivateKey) error {
	hash, err := MessageHash(tx)
	if err != nil {
		return err
	}
	sig, err := common.Sign(key, hash)
	if err != nil {
		return err
	}
	setSignature(tx, sig)
	return nil
}

// RecoverTransactionSigner recovers the address that signed a soft
// transaction.
func RecoverTransactionSigner(tx Transaction) (common.Address, error) {
	hash, err := MessageHash(tx)
	if err != nil {
		return common.Address{}, err
	}
	sig, _ := TransactionSignature(tx)
	return common.RecoverSigner(hash, sig)
}

// CopyTransaction returns a shallow copy; every kind is a flat value type.
func CopyTransaction(tx Transaction) Transaction {
	switch t := tx.(type) {
	case *HardCreate:
		c := *t
		return &c
	case *HardDeposit:
		c := *t
		return &c
	case *HardWithdraw:
		c := *t
		return &c
	case *HardAddSigner:
		c := *t
		return &c
	case *SoftWithdrawal:
		c := *t
		return &c
	case *SoftCreate:
		c := *t
		return &c
	case *SoftTransfer:
		c := *t
		return &c
	case *SoftChangeSigner:
		c := *t
		return &c
	}
	return nil
}
