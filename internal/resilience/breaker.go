package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/metrics"
)

// Prober is the trivial round-trip the breaker uses to judge store health.
type Prober interface {
	Ping(ctx context.Context) error
}

// WriteBreaker gates write-class operations on store health. Only health
// probes feed the breaker; it trips open after a configured run of
// consecutive probe failures and closes again on one successful probe.
// Read-class operations never consult it.
type WriteBreaker struct {
	cb           *gobreaker.CircuitBreaker[struct{}]
	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	lastProbe    atomic.Int64 // unix nanos of the last completed probe
}

// NewWriteBreaker builds a breaker that opens after failureThreshold
// consecutive failed probes and half-opens after probeInterval.
func NewWriteBreaker(prober Prober, failureThreshold int, probeInterval, probeTimeout time.Duration) *WriteBreaker {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}

	b := &WriteBreaker{
		prober:       prober,
		interval:     probeInterval,
		probeTimeout: probeTimeout,
	}

	metrics.CircuitBreakerState.Set(stateToFloat(gobreaker.StateClosed))

	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "store-writes",
		MaxRequests: 1, // one probe closes the circuit from half-open
		Timeout:     probeInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Warn().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("write breaker state change")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(fromStr, toStr).Inc()
		},
	})
	return b
}

// Probe runs one health round trip through the breaker.
func (b *WriteBreaker) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.prober.Ping(probeCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// The circuit short-circuited the ping: no round trip ran, so
		// neither the probe clock nor the health metrics move.
		return err
	}
	b.lastProbe.Store(time.Now().UnixNano())

	if err != nil {
		metrics.HealthProbes.WithLabelValues("fail").Inc()
		return err
	}
	metrics.HealthProbes.WithLabelValues("ok").Inc()
	return nil
}

// Run probes on a fixed interval until ctx is cancelled.
func (b *WriteBreaker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// Establish health state at startup rather than waiting a full tick.
	_ = b.Probe(ctx)

	for {
		select {
		case <-ticker.C:
			_ = b.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// AllowWrite admits or rejects one write-class operation. A stale probe
// triggers an on-demand round trip first, so a recovered store readmits
// writes without waiting for the background loop.
func (b *WriteBreaker) AllowWrite(ctx context.Context) error {
	last := time.Unix(0, b.lastProbe.Load())
	if time.Since(last) > b.interval {
		_ = b.Probe(ctx)
	}
	if b.cb.State() == gobreaker.StateOpen {
		return domain.ErrServiceDegraded
	}
	return nil
}

// Healthy reports whether writes are currently admitted.
func (b *WriteBreaker) Healthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
