// Package faults defines the error kinds shared across the coordinator's
// components. Callers classify failures with errors.Is against these
// sentinels; packages wrap them with fmt.Errorf("%w: ...") to attach detail.
package faults

import "errors"

var (
	// ErrInvalidArgument marks malformed caller input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks an actor that is not permitted to act.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBudgetExceeded marks a reservation that would overflow an envelope.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidState marks an illegal lifecycle transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvariantViolation marks an operation that would corrupt
	// bookkeeping, such as a rollback larger than the amount spent.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrFacilitatorUnavailable marks an exhausted or fatally failed
	// facilitator exchange.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrChainSubmissionFailed marks a failed submission to the ledger
	// contract.
	ErrChainSubmissionFailed = errors.New("chain submission failed")
)
