package types

import (
	"fmt"
	"math/big"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// BlockVersion is the header version produced by this node.
	BlockVersion = 0

	headerSize = 2 + 4 + 4 + common.HashLength + 5 + common.HashLength
)

// Header is the part of a block the peg stores verbatim.
type Header struct {
	Version               uint16      `json:"version"`
	BlockNumber           uint32      `json:"blockNumber"`
	StateSize             uint32      `json:"stateSize"`
	StateRoot             common.Hash `json:"stateRoot"`
	HardTransactionsCount uint64      `json:"hardTransactionsCount"`
	TransactionsRoot      common.Hash `json:"transactionsRoot"`
}

// Commitment is the header plus the data hash and the peg block the
// submission landed in.
type Commitment struct {
	Header
	TransactionsHash common.Hash `json:"transactionsHash"`
	SubmittedAt      uint64      `json:"submittedAt"`
}

// Block is a header, its body, and the commitment once submitted.
type Block struct {
	Header           Header        `json:"header"`
	TransactionsData hexutil.Bytes `json:"transactionsData"`
	Transactions     *Transactions `json:"transactions,omitempty"`
	Commitment       *Commitment   `json:"commitment,omitempty"`
}

var (
	headerArgs     abi.Arguments
	commitmentArgs abi.Arguments
)

func init() {
	mustType := func(name string) abi.Type {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		return t
	}
	for _, name := range []string{"uint16", "uint32", "uint32", "bytes32", "uint40", "bytes32"} {
		headerArgs = append(headerArgs, abi.Argument{Type: mustType(name)})
	}
	commitmentArgs = append(commitmentArgs, headerArgs...)
	commitmentArgs = append(commitmentArgs,
		abi.Argument{Type: mustType("bytes32")},
		abi.Argument{Type: mustType("uint64")},
	)
}

func (h Header) abiValues() []interface{} {
	return []interface{}{
		h.Version,
		h.BlockNumber,
		h.StateSize,
		[32]byte(h.StateRoot),
		new(big.Int).SetUint64(h.HardTransactionsCount),
		[32]byte(h.TransactionsRoot),
	}
}

// ABIEncode returns the ABI tuple encoding of the header, the form carried
// in error proof arguments.
func (h Header) ABIEncode() ([]byte, error) {
	return headerArgs.Pack(h.abiValues()...)
}

// ABIEncode returns the ABI tuple encoding of the commitment.
func (c *Commitment) ABIEncode() ([]byte, error) {
	vals := append(c.Header.abiValues(), [32]byte(c.TransactionsHash), c.SubmittedAt)
	return commitmentArgs.Pack(vals...)
}

// BlockHash is keccak256 of the ABI encoded commitment.
func (c *Commitment) BlockHash() (common.Hash, error) {
	enc, err := c.ABIEncode()
	if err != nil {
		return common.Hash{}, err
	}
	return common.Keccak256(enc), nil
}

// DecodeCommitmentABI is the inverse of Commitment.ABIEncode.
func DecodeCommitmentABI(data []byte) (*Commitment, error) {
	vals, err := commitmentArgs.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(commitmentArgs) {
		return nil, fmt.Errorf("commitment has %d fields", len(vals))
	}
	return &Commitment{
		Header: Header{
			Version:               vals[0].(uint16),
			BlockNumber:           vals[1].(uint32),
			StateSize:             vals[2].(uint32),
			StateRoot:             common.Hash(vals[3].([32]byte)),
			HardTransactionsCount: vals[4].(*big.Int).Uint64(),
			TransactionsRoot:      common.Hash(vals[5].([32]byte)),
		},
		TransactionsHash: common.Hash(vals[6].([32]byte)),
		SubmittedAt:      vals[7].(uint64),
	}, nil
}

// TransactionsHash is keccak256 of the block body.
func (b *Block) TransactionsHash() common.Hash {
	return common.Keccak256(b.TransactionsData)
}

// NewCommitment returns the commitment for b as submitted at pegBlock.
func (b *Block) NewCommitment(pegBlock uint64) *Commitment {
	return &Commitment{
		Header:           b.Header,
		TransactionsHash: b.TransactionsHash(),
		SubmittedAt:      pegBlock,
	}
}

// Metadata decodes the metadata header of the body.
func (b *Block) Metadata() (TransactionMetadata, error) {
	return DecodeMetadata(b.TransactionsData)
}

// Hash returns the block hash, or the zero hash before submission.
func (b *Block) Hash() common.Hash {
	if b.Commitment == nil {
		return common.Hash{}
	}
	h, err := b.Commitment.BlockHash()
	if err != nil {
		return common.Hash{}
	}
	return h
}

// GenesisBlock is block 0: no transactions and an empty state with root
// emptyStateRoot.
func GenesisBlock(emptyStateRoot common.Hash) *Block {
	b := &Block{
		Header: Header{
			Version:   BlockVersion,
			StateRoot: emptyStateRoot,
		},
		TransactionsData: TransactionMetadata{}.Encode(),
		Transactions:     &Transactions{},
	}
	b.Commitment = b.NewCommitment(0)
	return b
}

func (h Header) encode(enc *codec.Encoder) {
	enc.PutUint16(h.Version).PutUint32(h.BlockNumber).PutUint32(h.StateSize).
		PutHash(h.StateRoot).PutUint40(h.HardTransactionsCount).PutHash(h.TransactionsRoot)
}

func decodeHeader(dec *codec.Decoder) Header {
	return Header{
		Version:               dec.Uint16(),
		BlockNumber:           dec.Uint32(),
		StateSize:             dec.Uint32(),
		StateRoot:             dec.Hash(),
		HardTransactionsCount: dec.Uint40(),
		TransactionsRoot:      dec.Hash(),
	}
}

// MarshalBinary is the archive encoding: packed header, a commitment flag
// with the commitment's extra fields, then transactionsData.
func (b *Block) MarshalBinary() ([]byte, error) {
	enc := codec.NewEncoder(headerSize + 1 + common.HashLength + 8 + len(b.TransactionsData))
	b.Header.encode(enc)
	if b.Commitment != nil {
		enc.PutUint8(1).PutHash(b.Commitment.TransactionsHash).PutUint(b.Commitment.SubmittedAt, 8)
	} else {
		enc.PutUint8(0)
	}
	enc.PutBytes(b.TransactionsData)
	return enc.Bytes()
}

func (b *Block) UnmarshalBinary(data []byte) error {
	dec := codec.NewDecoder(data)
	header := decodeHeader(dec)
	var commitment *Commitment
	if dec.Uint8() == 1 {
		commitment = &Commitment{Header: header, TransactionsHash: dec.Hash(), SubmittedAt: dec.Uint(8)}
	}
	if err := dec.Err(); err != nil {
		return err
	}
	body := dec.Bytes(dec.Remaining())
	txs, _, err := DecodeTransactionsData(body)
	if err != nil {
		return err
	}
	*b = Block{Header: header, TransactionsData: body, Transactions: txs, Commitment: commitment}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{#%d size=%d hard=%d root=%s txroot=%s}",
		b.Header.BlockNumber, b.Header.StateSize, b.Header.HardTransactionsCount,
		b.Header.StateRoot.String_short(), b.Header.TransactionsRoot.String_short())
}
