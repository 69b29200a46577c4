package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/printhaus/editions/internal/core/domain"
)

// flakyProber fails while down is set and counts round trips.
type flakyProber struct {
	mu    sync.Mutex
	down  bool
	calls int
}

func (p *flakyProber) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down {
		return errors.New("connection refused")
	}
	return nil
}

func (p *flakyProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *flakyProber) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

func TestWriteBreaker_StaysClosedBelowThreshold(t *testing.T) {
	prober := &flakyProber{down: true}
	b := NewWriteBreaker(prober, 3, 50*time.Millisecond, time.Second)

	ctx := context.Background()
	b.Probe(ctx)
	b.Probe(ctx)

	if !b.Healthy() {
		t.Error("breaker opened before threshold")
	}
}

func TestWriteBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	prober := &flakyProber{down: true}
	b := NewWriteBreaker(prober, 3, 50*time.Millisecond, time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Probe(ctx)
	}

	if b.Healthy() {
		t.Fatal("breaker still closed after threshold failures")
	}
	if err := b.AllowWrite(ctx); !errors.Is(err, domain.ErrServiceDegraded) {
		t.Errorf("expected ErrServiceDegraded, got %v", err)
	}
}

func TestWriteBreaker_ClosesOnOneSuccessfulProbe(t *testing.T) {
	prober := &flakyProber{down: true}
	b := NewWriteBreaker(prober, 3, 30*time.Millisecond, time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Probe(ctx)
	}
	if b.Healthy() {
		t.Fatal("breaker should be open")
	}

	prober.setDown(false)

	// After the probe interval the breaker half-opens; the next probe
	// succeeds and closes it.
	time.Sleep(40 * time.Millisecond)
	if err := b.Probe(ctx); err != nil {
		t.Fatalf("recovery probe failed: %v", err)
	}

	if !b.Healthy() {
		t.Error("breaker did not close after successful probe")
	}
	if err := b.AllowWrite(ctx); err != nil {
		t.Errorf("write rejected after recovery: %v", err)
	}
}

func TestWriteBreaker_OpenStateShortCircuitsProbes(t *testing.T) {
	prober := &flakyProber{down: true}
	b := NewWriteBreaker(prober, 3, time.Minute, time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Probe(ctx)
	}
	if b.Healthy() {
		t.Fatal("breaker should be open")
	}

	before := prober.callCount()
	lastBefore := b.lastProbe.Load()

	if err := b.Probe(ctx); err == nil {
		t.Error("probe while open should report the short circuit")
	}

	if got := prober.callCount(); got != before {
		t.Errorf("open breaker still reached the store: %d extra pings", got-before)
	}
	if b.lastProbe.Load() != lastBefore {
		t.Error("probe clock moved without a round trip")
	}
}

func TestWriteBreaker_SuccessResetsFailureRun(t *testing.T) {
	prober := &flakyProber{down: true}
	b := NewWriteBreaker(prober, 3, 50*time.Millisecond, time.Second)

	ctx := context.Background()
	b.Probe(ctx)
	b.Probe(ctx)

	prober.setDown(false)
	b.Probe(ctx)

	prober.setDown(true)
	b.Probe(ctx)
	b.Probe(ctx)

	if !b.Healthy() {
		t.Error("non-consecutive failures tripped the breaker")
	}
}
