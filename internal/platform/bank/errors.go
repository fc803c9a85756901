package bank

import "errors"

// ErrorKind classifies failures at the component boundary. The transport
// layer maps kinds to wire-level status codes; core code never reasons
// about HTTP.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindMalformedInput
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
)

// Error is a sentinel with a kind attached. Compare with errors.Is; the
// instances below are the complete failure vocabulary of the core.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrAccountNotFound  = &Error{KindNotFound, "account not found"}
	ErrUsernameTaken    = &Error{KindConflict, "username already registered with different details"}
	ErrBalanceNonzero   = &Error{KindConflict, "account balance is not zero"}
	ErrAccountProtected = &Error{KindForbidden, "account may not be modified"}

	ErrNoDebtor             = &Error{KindNotFound, "debtor account not found"}
	ErrNoCreditor           = &Error{KindNotFound, "creditor account not found"}
	ErrSameAccount          = &Error{KindConflict, "debtor and creditor are the same account"}
	ErrInsufficientFunds    = &Error{KindConflict, "balance insufficient: debt limit would be exceeded"}
	ErrNotAnExchange        = &Error{KindConflict, "requesting account is not a taler exchange"}
	ErrUnknownCreditor      = &Error{KindNotFound, "creditor account unknown"}
	ErrUnknownDebtor        = &Error{KindNotFound, "debtor account unknown"}
	ErrBothPartyAreExchange = &Error{KindConflict, "both parties are taler exchanges"}
	ErrRequestUIDReuse      = &Error{KindConflict, "request_uid already used with different parameters"}
	ErrReservePubReuse      = &Error{KindConflict, "reserve_pub already used"}
	ErrTransactionNotFound  = &Error{KindNotFound, "transaction not found"}

	ErrOpNotFound           = &Error{KindNotFound, "withdrawal operation not found"}
	ErrAlreadySelected      = &Error{KindConflict, "withdrawal already selected with different parameters"}
	ErrNotSelected          = &Error{KindConflict, "withdrawal has no exchange selected yet"}
	ErrWithdrawalAborted    = &Error{KindConflict, "withdrawal operation was aborted"}
	ErrWithdrawalConfirmed  = &Error{KindConflict, "withdrawal operation already confirmed"}
	ErrAccountIsNotExchange = &Error{KindConflict, "selected account is not a taler exchange"}
	ErrExchangeAccountBogus = &Error{KindNotFound, "selected exchange account not found"}

	ErrCashoutNotFound     = &Error{KindNotFound, "cashout operation not found"}
	ErrCashoutConfirmed    = &Error{KindConflict, "cashout operation already confirmed"}
	ErrCashoutAborted      = &Error{KindConflict, "cashout operation was aborted"}
	ErrConversionDisabled  = &Error{KindConflict, "currency conversion is not enabled"}
	ErrCashoutBadAmount    = &Error{KindConflict, "amounts are inconsistent with the conversion rate"}
	ErrMissingCashoutPayto = &Error{KindConflict, "account has no cashout address"}
	ErrMissingTanAddress   = &Error{KindConflict, "account has no address for the TAN channel"}

	ErrChallengeNotFound = &Error{KindNotFound, "challenge not found"}
	ErrChallengeExpired  = &Error{KindConflict, "challenge expired"}
	ErrRetriesExhausted  = &Error{KindConflict, "challenge retries exhausted"}
	ErrCodeMismatch      = &Error{KindForbidden, "wrong confirmation code"}

	ErrInternal = &Error{KindInternal, "internal invariant violated"}
)

// KindOf extracts the kind of a (possibly wrapped) core error; anything
// else is an internal failure by definition.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
