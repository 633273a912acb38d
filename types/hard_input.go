package types

import (
	"fmt"

	"github.com/colorfulnotion/pegrollup/codec"
	"github.com/colorfulnotion/pegrollup/common"
	"github.com/colorfulnotion/pegrollup/rollerrors"
)

// Prefixes of the raw hard transaction records stored by the peg.
const (
	HardPrefixDeposit   byte = 0
	HardPrefixWithdraw  byte = 1
	HardPrefixAddSigner byte = 2
)

const (
	rawDepositSize   = 1 + 2*common.AddressLength + 7
	rawWithdrawSize  = 1 + 4 + common.AddressLength + 7
	rawAddSignerSize = 1 + 4 + 2*common.AddressLength
)

// AccountLookup resolves an address to its allocated account index.
type AccountLookup interface {
	AccountIndexOf(address common.Address) (uint32, bool)
	Size() uint32
}

// EncodeRawDeposit encodes a peg deposit record. It becomes a HardCreate
// or a HardDeposit depending on whether contract already has an account.
func EncodeRawDeposit(contract, signer common.Address, value uint64) ([]byte, error) {
	return codec.NewEncoder(rawDepositSize).
		PutUint8(HardPrefixDeposit).PutAddress(contract).PutAddress(signer).PutUint56(value).Bytes()
}

// EncodeRawWithdraw encodes a peg forced-withdrawal record.
func EncodeRawWithdraw(accountIndex uint32, caller common.Address, value uint64) ([]byte, error) {
	return codec.NewEncoder(rawWithdrawSize).
		PutUint8(HardPrefixWithdraw).PutUint32(accountIndex).PutAddress(caller).PutUint56(value).Bytes()
}

// EncodeRawAddSigner encodes a peg forced-add-signer record.
func EncodeRawAddSigner(accountIndex uint32, caller, signer common.Address) ([]byte, error) {
	return codec.NewEncoder(rawAddSignerSize).
		PutUint8(HardPrefixAddSigner).PutUint32(accountIndex).PutAddress(caller).PutAddress(signer).Bytes()
}

// DecodeHardTransactions turns raw peg records, the first of which has
// index startIndex, into block transactions. A deposit record for an
// address that already has an index, in state or earlier in the batch,
// becomes a HardDeposit to that index; otherwise it becomes a HardCreate
// at the next free index.
func DecodeHardTransactions(raw [][]byte, startIndex uint64, state AccountLookup) ([]Transaction, error) {
	pending := make(map[common.Address]uint32)
	nextIndex := state.Size()
	out := make([]Transaction, 0, len(raw))
	for i, rec := range raw {
		hardIndex := startIndex + uint64(i)
		if len(rec) == 0 {
			return nil, fmt.Errorf("hard transaction %d: %w", hardIndex, rollerrors.ErrCShortInput)
		}
		dec := codec.NewDecoder(rec[1:])
		var tx Transaction
		switch rec[0] {
		case HardPrefixDeposit:
			contract := dec.Address()
			signer := dec.Address()
			value := dec.Uint56()
			idx, ok := state.AccountIndexOf(contract)
			if !ok {
				idx, ok = pending[contract]
			}
			if ok {
				tx = &HardDeposit{HardTransactionIndex: hardIndex, AccountIndex: idx, Value: value}
			} else {
				pending[contract] = nextIndex
				tx = &HardCreate{
					HardTransactionIndex: hardIndex,
					AccountIndex:         nextIndex,
					Value:                value,
					ContractAddress:      contract,
					SignerAddress:        signer,
				}
				nextIndex++
			}
		case HardPrefixWithdraw:
			tx = &HardWithdraw{
				HardTransactionIndex: hardIndex,
				AccountIndex:         dec.Uint32(),
				CallerAddress:        dec.Address(),
				Value:                dec.Uint56(),
			}
		case HardPrefixAddSigner:
			tx = &HardAddSigner{
				HardTransactionIndex: hardIndex,
				AccountIndex:         dec.Uint32(),
				CallerAddress:        dec.Address(),
				SigningAddress:       dec.Address(),
			}
		default:
			return nil, fmt.Errorf("hard transaction %d: %w %d", hardIndex, rollerrors.ErrCUnknownHardPrefix, rec[0])
		}
		if err := dec.Finish(); err != nil {
			return nil, fmt.Errorf("hard transaction %d: %w", hardIndex, err)
		}
		out = append(out, tx)
	}
	return out, nil
}
