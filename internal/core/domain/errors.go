package domain

import "errors"

// Business-rule errors. Never retried, surfaced unchanged to callers.
var (
	ErrSoldOut             = errors.New("artifact sold out")
	ErrQuotaExceeded       = errors.New("publish quota exceeded")
	ErrInvalidSupplyChange = errors.New("supply or price immutable after first sale")
	ErrPriceBelowFloor     = errors.New("price below platform floor")
	ErrDuplicatePayment    = errors.New("payment reference already consumed")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("missing or malformed argument")
)

// Infrastructure-facing errors.
var (
	// ErrSerialization marks a write conflict between concurrent
	// transactions; the whole transaction is retried from its first read.
	ErrSerialization = errors.New("serialization conflict")

	// ErrConflict is surfaced when serialization retries exhaust.
	ErrConflict = errors.New("concurrent purchase conflict, retry")

	// ErrServiceDegraded is emitted by the write breaker while the store
	// is failing health probes.
	ErrServiceDegraded = errors.New("service degraded, retry later")

	// ErrPoolExhausted means connection acquisition timed out.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)
