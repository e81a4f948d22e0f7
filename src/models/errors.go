package models

import "errors"

// Domain sentinel errors. Callers match these with errors.Is after services
// wrap them with item context.
var (
	// Money / currency
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrEmptyCollection   = errors.New("cannot sum an empty money collection")
	ErrInvalidRate       = errors.New("exchange rate must be positive")
	ErrInvalidAllocation = errors.New("allocation requires at least one part")
	ErrDivisionByZero    = errors.New("division by zero")

	// Transaction
	ErrZeroAmount             = errors.New("transaction amount must be non-zero")
	ErrAmountSignMismatch     = errors.New("amount sign does not match transaction type")
	ErrMissingExternalID      = errors.New("transaction requires an external id and source")
	ErrInvalidStateTransition = errors.New("invalid transaction state transition")
	ErrConversionNotAllowed   = errors.New("currency conversion only allowed while pending or processing")

	// Account
	ErrAccountInactive       = errors.New("account is not active")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrNonZeroBalance        = errors.New("account balance must be zero to deactivate")
	ErrInvalidHoldAmount     = errors.New("hold amount must be positive")
	ErrAdjustmentNeedsReason = errors.New("balance adjustment requires a non-empty reason")

	// Storage-level concurrency conflict, surfaced through the account repository.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
