package statedb

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/holiman/uint256"
)

// ExecutionOrder is the order in which kind buckets are applied. It is the
// canonical body order, so each recorded root chains to the transaction
// before it in the transactions tree.
var ExecutionOrder = types.CanonicalOrder

var maxBalance = uint256.NewInt(common.MaxUint56)

// credit adds value to balance, failing above the 56-bit ceiling.
func credit(balance, value uint64) (uint64, bool) {
	sum := new(uint256.Int).Add(uint256.NewInt(balance), uint256.NewInt(value))
	if sum.Gt(maxBalance) {
		return 0, false
	}
	return sum.Uint64(), true
}

// debit subtracts value from balance, failing when it would go negative.
func debit(balance, value uint64) (uint64, bool) {
	b, v := uint256.NewInt(balance), uint256.NewInt(value)
	if b.Lt(v) {
		return 0, false
	}
	return new(uint256.Int).Sub(b, v).Uint64(), true
}

// HardFailure wraps the reason a hard transaction was kept with a zero root.
type HardFailure struct {
	Err error
}

func (f *HardFailure) Error() string { return f.Err.Error() }
func (f *HardFailure) Unwrap() error { return f.Err }

// SoftRejection wraps the reason a soft transaction was refused.
type SoftRejection struct {
	Err error
}

func (r *SoftRejection) Error() string { return r.Err.Error() }
func (r *SoftRejection) Unwrap() error { return r.Err }

// IsHardFailure reports whether err marks a hard transaction kept with a
// zero root.
func IsHardFailure(err error) bool {
	var f *HardFailure
	return errors.As(err, &f)
}

// IsSoftRejection reports whether err marks a refused soft transaction.
func IsSoftRejection(err error) bool {
	var r *SoftRejection
	return errors.As(err, &r)
}

// Rejected pairs a soft transaction with the reason it was left out.
type Rejected struct {
	Tx  types.Transaction
	Err error
}

// StateMachine applies transactions one at a time to an AccountState.
type StateMachine struct {
	state *AccountState
}

func NewStateMachine(state *AccountState) *StateMachine {
	return &StateMachine{state: state}
}

func (m *StateMachine) State() *AccountState {
	return m.state
}

// Apply executes tx and records its intermediate state root (and the
// allocated index for creates) on it.
//
// A hard transaction that fails validation leaves state unchanged, gets a
// zero root and returns a *HardFailure. A soft transaction that fails
// validation leaves state and tx unchanged and returns a *SoftRejection.
// Any other error is a storage failure.
func (m *StateMachine) Apply(tx types.Transaction) (common.Hash, error) {
	var root common.Hash
	var err error
	switch t := tx.(type) {
	case *types.HardCreate:
		root, err = m.hardCreate(t)
	case *types.HardDeposit:
		root, err = m.hardDeposit(t)
	case *types.HardWithdraw:
		root, err = m.hardWithdraw(t)
	case *types.HardAddSigner:
		root, err = m.hardAddSigner(t)
	case *types.SoftWithdrawal:
		root, err = m.softWithdrawal(t)
	case *types.SoftCreate:
		root, err = m.softCreate(t)
	case *types.SoftTransfer:
		root, err = m.softTransfer(t)
	case *types.SoftChangeSigner:
		root, err = m.softChangeSigner(t)
	default:
		return common.Hash{}, fmt.Errorf("%w %T", rollerrors.ErrCUnknownPrefix, tx)
	}
	switch {
	case err == nil:
		types.SetIntermediateStateRoot(tx, root)
		log.Trace(log.StateDB, "applied", "kind", tx.Kind(), "account", types.AccountIndex(tx), "root", root)
	case IsHardFailure(err):
		types.SetIntermediateStateRoot(tx, common.Hash{})
		log.Debug(log.StateDB, "hard transaction failed", "kind", tx.Kind(), "err", err)
	case IsSoftRejection(err):
		log.Debug(log.StateDB, "soft transaction rejected", "kind", tx.Kind(), "err", err)
	}
	return root, err
}

// ProcessTransactions applies txs in ExecutionOrder. Hard transactions are
// always kept; rejected soft transactions are dropped and returned in
// rejected. A non-nil error is a storage failure and leaves the state
// partially written, so callers run this against a fork.
func (m *StateMachine) ProcessTransactions(txs *types.Transactions) (*types.Transactions, []Rejected, error) {
	accepted := &types.Transactions{}
	var rejected []Rejected
	for _, kind := range ExecutionOrder {
		for _, tx := range txs.Bucket(kind) {
			_, err := m.Apply(tx)
			switch {
			case err == nil, IsHardFailure(err):
				accepted.Add(tx)
			case IsSoftRejection(err):
				rejected = append(rejected, Rejected{Tx: tx, Err: err})
			default:
				return nil, nil, err
			}
		}
	}
	return accepted, rejected, nil
}

func hardFail(err error, format string, args ...interface{}) error {
	if format != "" {
		err = fmt.Errorf("%w "+format, append([]interface{}{err}, args...)...)
	}
	return &HardFailure{Err: err}
}

func softReject(err error, format string, args ...interface{}) error {
	if format != "" {
		err = fmt.Errorf("%w "+format, append([]interface{}{err}, args...)...)
	}
	return &SoftRejection{Err: err}
}

func (m *StateMachine) hardCreate(tx *types.HardCreate) (common.Hash, error) {
	if _, ok := m.state.AccountIndexOf(tx.ContractAddress); ok {
		return common.Hash{}, hardFail(rollerrors.ErrHDuplicateCreate, "Address %s.", tx.ContractAddress.Hex())
	}
	idx, root, err := m.state.CreateAccount(types.NewAccount(tx.ContractAddress, tx.SignerAddress, tx.Value))
	if err != nil {
		return common.Hash{}, err
	}
	tx.AccountIndex = idx
	return root, nil
}

func (m *StateMachine) hardDeposit(tx *types.HardDeposit) (common.Hash, error) {
	acc, err := m.state.GetAccount(tx.AccountIndex)
	if errors.Is(err, ErrAccountNotFound) {
		return common.Hash{}, hardFail(rollerrors.ErrHAccountNotFound, "Index %d.", tx.AccountIndex)
	} else if err != nil {
		return common.Hash{}, err
	}
	bal, ok := credit(acc.Balance, tx.Value)
	if !ok {
		return common.Hash{}, hardFail(rollerrors.ErrHBalanceOverflow, "")
	}
	acc.Balance = bal
	return m.state.PutAccount(tx.AccountIndex, acc)
}

func (m *StateMachine) hardWithdraw(tx *types.HardWithdraw) (common.Hash, error) {
	acc, err := m.state.GetAccount(tx.AccountIndex)
	if errors.Is(err, ErrAccountNotFound) {
		return common.Hash{}, hardFail(rollerrors.ErrHAccountNotFound, "Index %d.", tx.AccountIndex)
	} else if err != nil {
		return common.Hash{}, err
	}
	if !acc.HasSigner(tx.CallerAddress) {
		return common.Hash{}, hardFail(rollerrors.ErrHCallerNotSigner, "Caller %s.", tx.CallerAddress.Hex())
	}
	bal, ok := debit(acc.Balance, tx.Value)
	if !ok {
		return common.Hash{}, hardFail(rollerrors.ErrHInsufficientFunds, "Balance %d, value %d.", acc.Balance, tx.Value)
	}
	acc.Balance = bal
	return m.state.PutAccount(tx.AccountIndex, acc)
}

func (m *StateMachine) hardAddSigner(tx *types.HardAddSigner) (common.Hash, error) {
	acc, err := m.state.GetAccount(tx.AccountIndex)
	if errors.Is(err, ErrAccountNotFound) {
		return common.Hash{}, hardFail(rollerrors.ErrHAccountNotFound, "Index %d.", tx.AccountIndex)
	} else if err != nil {
		return common.Hash{}, err
	}
	if !acc.HasSigner(tx.CallerAddress) {
		return common.Hash{}, hardFail(rollerrors.ErrHCallerNotSigner, "Caller %s.", tx.CallerAddress.Hex())
	}
	if acc.HasSigner(tx.SigningAddress) {
		return common.Hash{}, hardFail(rollerrors.ErrHSignerExists, "Signer %s.", tx.SigningAddress.Hex())
	}
	if len(acc.Signers) >= types.MaxSigners {
		return common.Hash{}, hardFail(rollerrors.ErrHTooManySigners, "")
	}
	acc.Signers = append(acc.Signers, tx.SigningAddress)
	return m.state.PutAccount(tx.AccountIndex, acc)
}

// authorize loads the sender of a soft transaction and checks its nonce
// and signature.
func (m *StateMachine) authorize(tx types.Transaction) (*types.Account, error) {
	from := types.AccountIndex(tx)
	acc, err := m.state.GetAccount(from)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, softReject(rollerrors.ErrSAccountNotFound, "Index %d.", from)
	} else if err != nil {
		return nil, err
	}
	nonce, _ := types.TransactionNonce(tx)
	if nonce != acc.Nonce {
		return nil, softReject(rollerrors.ErrSInvalidNonce, "Expected nonce %d, got %d.", acc.Nonce, nonce)
	}
	if acc.Nonce >= common.MaxUint24 {
		return nil, softReject(rollerrors.ErrSInvalidNonce, "Nonce %d is exhausted.", acc.Nonce)
	}
	signer, err := types.RecoverTransactionSigner(tx)
	if err != nil || !acc.HasSigner(signer) {
		return nil, softReject(rollerrors.ErrSInvalidSignature, "")
	}
	return acc, nil
}

func (m *StateMachine) softWithdrawal(tx *types.SoftWithdrawal) (common.Hash, error) {
	acc, err := m.authorize(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if tx.Value == 0 {
		return common.Hash{}, softReject(rollerrors.ErrSZeroValue, "")
	}
	bal, ok := debit(acc.Balance, tx.Value)
	if !ok {
		return common.Hash{}, softReject(rollerrors.ErrSInsufficientBalance, "Balance %d, value %d.", acc.Balance, tx.Value)
	}
	acc.Balance = bal
	acc.Nonce++
	return m.state.PutAccount(tx.FromIndex, acc)
}

func (m *StateMachine) softCreate(tx *types.SoftCreate) (common.Hash, error) {
	acc, err := m.authorize(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if size := m.state.Size(); tx.ToIndex != size {
		return common.Hash{}, softReject(rollerrors.ErrSInvalidCreateIndex, "Expected index %d, got %d.", size, tx.ToIndex)
	}
	if _, exists := m.state.AccountIndexOf(tx.ContractAddress); exists {
		return common.Hash{}, softReject(rollerrors.ErrSAccountExists, "Address %s.", tx.ContractAddress.Hex())
	}
	bal, ok := debit(acc.Balance, tx.Value)
	if !ok {
		return common.Hash{}, softReject(rollerrors.ErrSInsufficientBalance, "Balance %d, value %d.", acc.Balance, tx.Value)
	}
	acc.Balance = bal
	acc.Nonce++
	if _, err := m.state.PutAccount(tx.FromIndex, acc); err != nil {
		return common.Hash{}, err
	}
	_, root, err := m.state.CreateAccount(types.NewAccount(tx.ContractAddress, tx.SigningAddress, tx.Value))
	return root, err
}

func (m *StateMachine) softTransfer(tx *types.SoftTransfer) (common.Hash, error) {
	acc, err := m.authorize(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if tx.ToIndex == tx.FromIndex {
		return common.Hash{}, softReject(rollerrors.ErrSSelfTransfer, "")
	}
	if tx.Value == 0 {
		return common.Hash{}, softReject(rollerrors.ErrSZeroValue, "")
	}
	to, err := m.state.GetAccount(tx.ToIndex)
	if errors.Is(err, ErrAccountNotFound) {
		return common.Hash{}, softReject(rollerrors.ErrSAccountNotFound, "Index %d.", tx.ToIndex)
	} else if err != nil {
		return common.Hash{}, err
	}
	fromBal, ok := debit(acc.Balance, tx.Value)
	if !ok {
		return common.Hash{}, softReject(rollerrors.ErrSInsufficientBalance, "Balance %d, value %d.", acc.Balance, tx.Value)
	}
	toBal, ok := credit(to.Balance, tx.Value)
	if !ok {
		return common.Hash{}, softReject(rollerrors.ErrSBalanceOverflow, "")
	}
	acc.Balance = fromBal
	acc.Nonce++
	to.Balance = toBal
	if _, err := m.state.PutAccount(tx.FromIndex, acc); err != nil {
		return common.Hash{}, err
	}
	return m.state.PutAccount(tx.ToIndex, to)
}

func (m *StateMachine) softChangeSigner(tx *types.SoftChangeSigner) (common.Hash, error) {
	acc, err := m.authorize(tx)
	if err != nil {
		return common.Hash{}, err
	}
	switch tx.ModificationCategory {
	case types.SignerAdd:
		if acc.HasSigner(tx.SigningAddress) {
			return common.Hash{}, softReject(rollerrors.ErrSSignerExists, "Signer %s.", tx.SigningAddress.Hex())
		}
		if len(acc.Signers) >= types.MaxSigners {
			return common.Hash{}, softReject(rollerrors.ErrSSignerBounds, "Account has %d signers.", len(acc.Signers))
		}
		acc.Signers = append(acc.Signers, tx.SigningAddress)
	case types.SignerRemove:
		if !acc.HasSigner(tx.SigningAddress) {
			return common.Hash{}, softReject(rollerrors.ErrSSignerMissing, "Signer %s.", tx.SigningAddress.Hex())
		}
		if len(acc.Signers) <= 1 {
			return common.Hash{}, softReject(rollerrors.ErrSSignerBounds, "Account has %d signers.", len(acc.Signers))
		}
		kept := acc.Signers[:0]
		for _, s := range acc.Signers {
			if s != tx.SigningAddress {
				kept = append(kept, s)
			}
		}
		acc.Signers = kept
	default:
		return common.Hash{}, softReject(rollerrors.ErrSInvalidCategory, "Category %d.", tx.ModificationCategory)
	}
	acc.Nonce++
	return m.state.PutAccount(tx.FromIndex, acc)
}
