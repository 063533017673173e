package service

import "errors"

// Error taxonomy shared across the settlement pipeline. Handlers map
// these to HTTP codes; the state machine maps transfer-side failures
// into the order's FailureReason instead of propagating them.
var (
	// Validation errors: bad input, never retried.
	ErrInvalidAmount    = errors.New("invalid token amount")
	ErrUnsupportedToken = errors.New("token not supported")
	ErrInvalidAddress   = errors.New("invalid wallet address")

	// Configuration errors: operator intervention required.
	ErrMissingCredential = errors.New("signing credential not configured")

	// External collaborators unreachable or refusing.
	ErrExternalService = errors.New("external service error")

	// Chain receipt missing or reverted; the caller may resubmit.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed on chain")

	// Signature or amount/receiver mismatch; aborts settlement in strict mode.
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrVerificationFailed = errors.New("on-chain verification failed")

	// Settlement-side failures: terminal for the order, never auto-retried.
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInsufficientBalance = errors.New("insufficient treasury balance")
)
