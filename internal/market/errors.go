package market

import "errors"

// Typed errors returned by the trading engine. Callers branch with errors.Is;
// nothing downstream logs-and-swallows these.
var (
	// Input errors: caller mistakes or stale quotes. Never retried
	// automatically.
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// Invariant violations: request cannot be satisfied given current state.
	// Wrapped with current reserve/supply context so the caller can re-quote.
	ErrInsufficientSupply    = errors.New("insufficient supply")
	ErrInsufficientLpBalance = errors.New("insufficient lp balance")
	ErrEmptyPool             = errors.New("empty pool")

	// Concurrency contention: retryable by the caller with backoff.
	ErrBusy = errors.New("market busy")

	// External dependency failures: the local mutation is aborted entirely.
	ErrSettlementUnverified = errors.New("settlement unverified")

	// Lifecycle errors.
	ErrAlreadyGraduated     = errors.New("token already graduated")
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExists          = errors.New("creator already issued a token")
	ErrNoEligibleRecipients = errors.New("no eligible reward recipients")
)
