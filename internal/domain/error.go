package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConflict            = errors.New("conflicting state change")
	ErrInvalidTransition   = errors.New("illegal status transition")
	ErrTokenConsumed       = errors.New("decision token already consumed")
	ErrConfiguration       = errors.New("missing or invalid configuration")
	ErrAuthFailed          = errors.New("provider rejected credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected request")
	ErrNoPanelAvailable    = errors.New("no panel available for request")
	ErrPaymentNotVerified  = errors.New("payment not verified by provider")

	// Repository-layer errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
