package rollerrors

import (
	"errors"
	"strings"
)

// Codec (C) Errors
var (
	ErrCShortInput        = errors.New("C1|ShortInput: Input is shorter than the encoding it claims to hold.")
	ErrCUnknownPrefix     = errors.New("C2|UnknownPrefix: Transaction prefix is not a known transaction kind.")
	ErrCTooManySigners    = errors.New("C3|TooManySigners: Account holds more than the maximum number of signers.")
	ErrCValueOutOfRange   = errors.New("C4|ValueOutOfRange: Integer field does not fit its encoded width.")
	ErrCTrailingBytes     = errors.New("C5|TrailingBytes: Input has bytes beyond the expected encoding.")
	ErrCMetadataMismatch  = errors.New("C6|MetadataMismatch: Transactions data length does not match its metadata.")
	ErrCMalformedSigners  = errors.New("C7|MalformedSigners: Account signer bytes are not a multiple of the address width.")
	ErrCUnknownHardPrefix = errors.New("C8|UnknownHardPrefix: Raw hard transaction prefix is not known to the peg.")
)

// Hard transaction (H) Errors
var (
	ErrHAccountNotFound   = errors.New("H1|AccountNotFound: Hard transaction targets an account index that does not exist.")
	ErrHDuplicateCreate   = errors.New("H2|DuplicateCreate: Hard create targets an address that already has an account.")
	ErrHCallerNotSigner   = errors.New("H3|CallerNotSigner: Hard transaction caller is not a signer of the account.")
	ErrHInsufficientFunds = errors.New("H4|InsufficientFunds: Hard withdrawal exceeds the account balance.")
	ErrHSignerExists      = errors.New("H5|SignerExists: Hard add signer targets a signer already on the account.")
	ErrHTooManySigners    = errors.New("H6|TooManySigners: Hard add signer would exceed the maximum number of signers.")
	ErrHBalanceOverflow   = errors.New("H7|BalanceOverflow: Credit would overflow the 56-bit balance.")
)

// Soft transaction (S) Errors
var (
	ErrSAccountNotFound     = errors.New("S1|AccountNotFound: Soft transaction references an account that does not exist.")
	ErrSInvalidNonce        = errors.New("S2|InvalidNonce: Soft transaction nonce does not match account nonce.")
	ErrSInvalidSignature    = errors.New("S3|InvalidSignature: Signature does not recover to a signer of the account.")
	ErrSInsufficientBalance = errors.New("S4|InsufficientBalance: Account balance is lower than the transaction value.")
	ErrSInvalidCreateIndex  = errors.New("S5|InvalidCreateIndex: Soft create target index is not the next free index.")
	ErrSAccountExists       = errors.New("S6|AccountExists: Soft create targets an address that already has an account.")
	ErrSSignerExists        = errors.New("S7|SignerExists: Signer to add is already on the account.")
	ErrSSignerMissing       = errors.New("S8|SignerMissing: Signer to remove is not on the account.")
	ErrSSignerBounds        = errors.New("S9|SignerBounds: Signer change would leave the signer list empty or over the maximum.")
	ErrSInvalidCategory     = errors.New("S10|InvalidCategory: Unknown signer modification category.")
	ErrSBalanceOverflow     = errors.New("S11|BalanceOverflow: Credit would overflow the 56-bit balance.")
	ErrSZeroValue           = errors.New("S12|ZeroValue: Soft transaction moves a zero value.")
	ErrSSelfTransfer        = errors.New("S13|SelfTransfer: Soft transfer source and target are the same account.")
)

// Builder (B) Errors
var (
	ErrBQueueFull        = errors.New("B1|QueueFull: Soft transaction queue is at capacity.")
	ErrBQueueClosed      = errors.New("B2|QueueClosed: Soft transaction queue no longer accepts transactions.")
	ErrBNotSoft          = errors.New("B3|NotSoft: Only soft transactions may be queued.")
	ErrBBlockNotFound    = errors.New("B4|BlockNotFound: Block is not in the archive.")
	ErrBAlreadySubmitted = errors.New("B5|AlreadySubmitted: Block already carries a commitment.")
	ErrBParentPending    = errors.New("B6|ParentPending: Parent block has not been submitted to the peg.")
	ErrBStateMismatch    = errors.New("B7|StateMismatch: Account state root does not match the latest archived block.")
	ErrBOutputMismatch   = errors.New("B8|OutputMismatch: Commitment does not match the built block.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	// Check if the error string contains '|'.
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
