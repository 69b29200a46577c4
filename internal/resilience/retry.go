// Package resilience contains the retry executor and the write-side
// circuit breaker every store-touching component goes through.
package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/metrics"
)

// MySQL server error numbers that resolve on retry.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// IsTransient classifies an error as retryable infrastructure trouble.
// Business-rule errors, not-found, constraint violations, and caller
// cancellation are terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrSerialization) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrLockDeadlock:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Executor retries operations through exponential backoff. Only transient
// failures re-run; terminal failures propagate on the first attempt.
type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
}

// NewExecutor builds an executor retrying up to maxAttempts total
// attempts with baseDelay doubling per attempt.
func NewExecutor(maxAttempts int, baseDelay time.Duration) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &Executor{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// Execute runs op, retrying transient failures. The operation name labels
// retry metrics and logs.
func (e *Executor) Execute(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.baseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by attempt count and ctx, not wall clock

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt >= e.maxAttempts {
			return backoff.Permanent(err)
		}
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
		logging.Warn().Err(err).Str("operation", operation).Int("attempt", attempt).Msg("transient failure, retrying")
		return err
	}, backoff.WithContext(bo, ctx))
}
