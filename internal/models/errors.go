package models

import "errors"

// Domain error kinds. Handlers map these onto HTTP statuses; services wrap
// them with context via fmt.Errorf("%w", ...).
var (
	// ErrNotFound: payment or proforma id unknown.
	ErrNotFound = errors.New("not found")
	// ErrNoAutoMatch: approve called without a prior automatic match.
	ErrNoAutoMatch = errors.New("no automatic match to approve")
	// ErrInvalidBinding: assign to a nonexistent or non-open fullnumber.
	ErrInvalidBinding = errors.New("invalid proforma binding")
	// ErrConcurrentModification: entity changed since it was read. Retried
	// once internally before surfacing.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrExternalUnavailable: collaborator store unreachable mid-operation.
	// Retryable; the operation aborts without partial state.
	ErrExternalUnavailable = errors.New("store unavailable")
)
