package types

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

const (
	// MaxSigners bounds the signer list of an account.
	MaxSigners = 10

	accountHeaderSize = common.AddressLength + 3 + 7
)

// Account is one ledger entry. Signers are kept in insertion order;
// uniqueness is enforced by the state machine, not the codec.
type Account struct {
	Address common.Address   `json:"address"`
	Nonce   uint32           `json:"nonce"`
	Balance uint64           `json:"balance"`
	Signers []common.Address `json:"signers"`
}

// NewAccount returns a fresh account controlled by a single signer.
func NewAccount(address common.Address, signer common.Address, balance uint64) *Account {
	return &Account{
		Address: address,
		Balance: balance,
		Signers: []common.Address{signer},
	}
}

// HasSigner reports whether addr is on the signer list.
func (a *Account) HasSigner(addr common.Address) bool {
	for _, s := range a.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Signers = append([]common.Address(nil), a.Signers...)
	return &c
}

// EncodedSize returns the byte width of the encoded account.
func (a *Account) EncodedSize() int {
	return accountHeaderSize + common.AddressLength*len(a.Signers)
}

// Encode serializes the account as address | nonce u24 | balance u56 | signers.
func (a *Account) Encode() ([]byte, error) {
	if len(a.Signers) > MaxSigners {
		return nil, fmt.Errorf("%w %d signers", rollerrors.ErrCTooManySigners, len(a.Signers))
	}
	enc := codec.NewEncoder(a.EncodedSize())
	enc.PutAddress(a.Address).PutUint24(a.Nonce).PutUint56(a.Balance)
	for _, s := range a.Signers {
		enc.PutAddress(s)
	}
	return enc.Bytes()
}

// Bytes is Encode for callers that already validated the account.
func (a *Account) Bytes() []byte {
	b, err := a.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeAccount parses an encoded account; the signer count is implied by
// the input length.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) < accountHeaderSize {
		return nil, fmt.Errorf("%w account is %d bytes", rollerrors.ErrCShortInput, len(data))
	}
	rest := len(data) - accountHeaderSize
	if rest%common.AddressLength != 0 {
		return nil, rollerrors.ErrCMalformedSigners
	}
	n := rest / common.AddressLength
	if n > MaxSigners {
		return nil, fmt.Errorf("%w %d signers", rollerrors.ErrCTooManySigners, n)
	}
	dec := codec.NewDecoder(data)
	a := &Account{
		Address: dec.Address(),
		Nonce:   dec.Uint24(),
		Balance: dec.Uint56(),
		Signers: make([]common.Address, n),
	}
	for i := range a.Signers {
		a.Signers[i] = dec.Address()
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) String() string {
	return fmt.Sprintf("Account{%s nonce=%d balance=%d signers=%d}", a.Address.Hex(), a.Nonce, a.Balance, len(a.Signers))
}
