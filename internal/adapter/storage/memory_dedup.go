package storage

import (
	"context"
	"sync"
)

// MemoryDedup is the in-process PaymentDedup used by tests and the stress
// tool when Redis is not wired.
type MemoryDedup struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{claimed: make(map[string]bool)}
}

func (d *MemoryDedup) Claim(ctx context.Context, paymentRef string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[paymentRef] {
		return false, nil
	}
	d.claimed[paymentRef] = true
	return true, nil
}

func (d *MemoryDedup) Release(ctx context.Context, paymentRef string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, paymentRef)
	return nil
}
