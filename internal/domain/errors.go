package domain

import "errors"

// Infrastructure sentinels returned by stores, caches and locks.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// ErrorKind groups engine failures by how a caller can recover from them.
type ErrorKind string

const (
	// KindValidation failures are fixed by retrying with corrected input.
	KindValidation ErrorKind = "validation"
	// KindState failures depend on the record's status or on time.
	KindState ErrorKind = "state"
	// KindTransfer failures are fixed by the affected party topping up a
	// balance or allowance.
	KindTransfer ErrorKind = "transfer"
	KindAuth     ErrorKind = "auth"
	KindNotFound ErrorKind = "not_found"
)

// Error is an engine failure with a stable, machine-readable code. Values are
// compared by identity, so errors.Is(err, ErrZeroAmount) works through any
// amount of wrapping.
type Error struct {
	Code string
	Kind ErrorKind
}

func (e *Error) Error() string { return e.Code }

func newError(kind ErrorKind, code string) *Error {
	return &Error{Code: code, Kind: kind}
}

// Validation errors.
var (
	ErrZeroAmount              = newError(KindValidation, "ZeroAmount")
	ErrAssetNotWhitelisted     = newError(KindValidation, "AssetNotWhitelisted")
	ErrUnknownAsset            = newError(KindValidation, "UnknownAsset")
	ErrInvalidOfferKind        = newError(KindValidation, "InvalidOfferKind")
	ErrInvalidSettlementWindow = newError(KindValidation, "InvalidSettlementWindow")
	ErrInvalidDeliverableAsset = newError(KindValidation, "InvalidDeliverableAsset")
	ErrUnexpectedNativeValue   = newError(KindValidation, "UnexpectedNativeValue")
	ErrSelfFill                = newError(KindValidation, "SelfFill")
)

// State errors.
var (
	ErrAlreadyRegistered  = newError(KindState, "AlreadyRegistered")
	ErrAlreadyOpened      = newError(KindState, "AlreadyOpened")
	ErrInvalidOfferStatus = newError(KindState, "InvalidOfferStatus")
	ErrInvalidOrderStatus = newError(KindState, "InvalidOrderStatus")
	ErrSettlementNotOpen  = newError(KindState, "SettlementNotOpen")
	ErrDeadlineExceeded   = newError(KindState, "DeadlineExceeded")
	ErrDeadlineNotReached = newError(KindState, "DeadlineNotReached")
)

// Transfer errors.
var (
	ErrInsufficientPayment = newError(KindTransfer, "InsufficientPayment")
	ErrDeliveryFailed      = newError(KindTransfer, "DeliveryFailed")
	ErrAllowanceExceeded   = newError(KindTransfer, "AllowanceExceeded")
	ErrInsufficientBalance = newError(KindTransfer, "InsufficientBalance")
	ErrTransferFailed      = newError(KindTransfer, "TransferFailed")
)

// Authorization and lookup errors.
var (
	ErrUnauthorized  = newError(KindAuth, "Unauthorized")
	ErrOfferNotFound = newError(KindNotFound, "OfferNotFound")
	ErrOrderNotFound = newError(KindNotFound, "OrderNotFound")
)

// CodeOf returns the code of the outermost *Error in err's chain, or "" when
// err carries no engine code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
