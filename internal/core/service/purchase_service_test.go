package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/adapter/storage"
	"github.com/printhaus/editions/internal/cache"
	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/resilience"
)

func newTestArtifact(id, sellerID string, supply int) domain.Artifact {
	now := time.Now().UTC()
	return domain.Artifact{
		ID:           id,
		SellerID:     sellerID,
		Title:        "test poster",
		StoragePath:  "posters/" + id + ".png",
		TotalSupply:  supply,
		PricePerUnit: decimal.NewFromInt(25),
		IsPublished:  true,
		IsApproved:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type purchaseEnv struct {
	store *storage.MemoryStore
	cache *cache.Cache
	svc   *PurchaseService
}

func newPurchaseEnv(t *testing.T) *purchaseEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	c := cache.New(time.Minute)
	t.Cleanup(c.Close)

	executor := resilience.NewExecutor(3, time.Millisecond)
	breaker := resilience.NewWriteBreaker(store, 3, time.Minute, time.Second)
	breaker.Probe(context.Background())

	svc := NewPurchaseService(store, executor, breaker, c, DefaultCacheTTLs(), storage.NewMemoryDedup(), nil)
	return &purchaseEnv{store: store, cache: c, svc: svc}
}

func TestPurchase_AssignsFirstEdition(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 10))

	result, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1")
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if result.EditionNumber != 1 {
		t.Errorf("expected edition 1, got %d", result.EditionNumber)
	}
	if result.RemainingSupply != 9 {
		t.Errorf("expected 9 remaining, got %d", result.RemainingSupply)
	}
	if !result.AmountPaid.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected amount 25, got %s", result.AmountPaid)
	}
}

func TestPurchase_SoldOut(t *testing.T) {
	env := newPurchaseEnv(t)
	a := newTestArtifact("art-1", "seller-1", 1)
	a.SoldCount = 1
	env.store.PutArtifact(a)

	_, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1")
	if !errors.Is(err, domain.ErrSoldOut) {
		t.Errorf("expected ErrSoldOut, got %v", err)
	}
}

func TestPurchase_UnknownArtifact(t *testing.T) {
	env := newPurchaseEnv(t)

	_, err := env.svc.Purchase(context.Background(), "missing", "buyer-1", "pay-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPurchase_BlankArgumentsRejected(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 10))

	cases := []struct {
		name                            string
		artifactID, buyerID, paymentRef string
	}{
		{"blank artifact", "", "buyer-1", "pay-1"},
		{"blank buyer", "art-1", "", "pay-1"},
		{"blank payment ref", "art-1", "buyer-1", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Purchase(context.Background(), tc.artifactID, tc.buyerID, tc.paymentRef)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if errors.Is(err, domain.ErrNotFound) {
				t.Errorf("blank argument must not look like a missing artifact: %v", err)
			}
		})
	}
}

func TestPurchase_UnpublishedArtifact(t *testing.T) {
	env := newPurchaseEnv(t)
	a := newTestArtifact("art-1", "seller-1", 10)
	a.IsPublished = false
	env.store.PutArtifact(a)

	_, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unpublished artifact, got %v", err)
	}
}

func TestPurchase_DuplicatePaymentRef(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 10))

	if _, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1"); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	_, err := env.svc.Purchase(context.Background(), "art-1", "buyer-2", "pay-1")
	if !errors.Is(err, domain.ErrDuplicatePayment) {
		t.Errorf("expected ErrDuplicatePayment, got %v", err)
	}

	a, _ := env.store.Artifact(context.Background(), "art-1")
	if a.SoldCount != 1 {
		t.Errorf("duplicate payment mutated sold count: %d", a.SoldCount)
	}
}

// No oversell: 2N concurrent attempts at supply N yield exactly N
// successes with editions {1..N} and N sold-out rejections.
func TestPurchase_NoOversellUnderConcurrency(t *testing.T) {
	env := newPurchaseEnv(t)
	const supply = 25
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", supply))

	var successes, soldOuts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2*supply; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.svc.Purchase(context.Background(), "art-1",
				fmt.Sprintf("buyer-%d", n), fmt.Sprintf("pay-%d", n))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrSoldOut):
				soldOuts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes.Load() != supply {
		t.Errorf("expected %d successes, got %d", supply, successes.Load())
	}
	if soldOuts.Load() != supply {
		t.Errorf("expected %d sold-out rejections, got %d", supply, soldOuts.Load())
	}

	// The committed editions must be exactly {1..N}: no gaps, no dupes.
	purchases, err := env.store.PurchasesByArtifact(context.Background(), "art-1")
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	seen := make(map[int]bool)
	for _, p := range purchases {
		if p.EditionNumber < 1 || p.EditionNumber > supply {
			t.Errorf("edition %d out of range", p.EditionNumber)
		}
		if seen[p.EditionNumber] {
			t.Errorf("duplicate edition %d", p.EditionNumber)
		}
		seen[p.EditionNumber] = true
	}
	if len(seen) != supply {
		t.Errorf("expected %d distinct editions, got %d", supply, len(seen))
	}

	a, _ := env.store.Artifact(context.Background(), "art-1")
	if a.SoldCount != supply {
		t.Errorf("expected sold count %d, got %d", supply, a.SoldCount)
	}
}

// Supply of one, two concurrent buyers: exactly one edition 1, one
// sold-out.
func TestPurchase_SingleEditionTwoBuyers(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 1))

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r, err := env.svc.Purchase(context.Background(), "art-1",
				fmt.Sprintf("buyer-%d", n), fmt.Sprintf("pay-%d", n))
			if err == nil && r.EditionNumber != 1 {
				t.Errorf("expected edition 1, got %d", r.EditionNumber)
			}
			results[n] = err
		}(i)
	}
	wg.Wait()

	var ok, soldOut int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrSoldOut):
			soldOut++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || soldOut != 1 {
		t.Errorf("expected 1 success and 1 sold-out, got %d and %d", ok, soldOut)
	}
}

// Retry idempotence: an injected pre-commit failure leaves no partial
// state and the retried attempt assigns the correct next edition.
func TestPurchase_TransientFailureRetried(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 5))
	env.store.FailNextCommits(1)

	result, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1")
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if result.EditionNumber != 1 {
		t.Errorf("expected edition 1 after retry, got %d", result.EditionNumber)
	}

	purchases, _ := env.store.PurchasesByArtifact(context.Background(), "art-1")
	if len(purchases) != 1 {
		t.Errorf("expected exactly 1 purchase record, got %d", len(purchases))
	}
}

func TestPurchase_ConflictAfterExhaustedRetries(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 5))
	env.store.FailNextCommits(10)

	_, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// No partial state after the failed attempts.
	a, _ := env.store.Artifact(context.Background(), "art-1")
	if a.SoldCount != 0 {
		t.Errorf("failed purchase mutated sold count: %d", a.SoldCount)
	}
	purchases, _ := env.store.PurchasesByArtifact(context.Background(), "art-1")
	if len(purchases) != 0 {
		t.Errorf("failed purchase left %d records", len(purchases))
	}

	// The payment claim must be released so the buyer can retry.
	env.store.FailNextCommits(0)
	if _, err := env.svc.Purchase(context.Background(), "art-1", "buyer-1", "pay-1"); err != nil {
		t.Errorf("retry with same payment ref failed: %v", err)
	}
}

func TestPurchase_RejectedWhileDegraded(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 5))

	env.store.SetPingError(errors.New("connection refused"))
	ctx := context.Background()
	// Drive the breaker open with consecutive failed probes.
	breaker := resilience.NewWriteBreaker(env.store, 3, time.Minute, time.Second)
	for i := 0; i < 3; i++ {
		breaker.Probe(ctx)
	}
	svc := NewPurchaseService(env.store, resilience.NewExecutor(3, time.Millisecond), breaker, env.cache, DefaultCacheTTLs(), nil, nil)

	if _, err := svc.Purchase(ctx, "art-1", "buyer-1", "pay-1"); !errors.Is(err, domain.ErrServiceDegraded) {
		t.Errorf("expected ErrServiceDegraded, got %v", err)
	}

	// Read path is never gated by the breaker.
	if _, err := svc.GetAvailability(ctx, "art-1"); err != nil {
		t.Errorf("read path blocked while degraded: %v", err)
	}
}

// Cache/invalidation round trip: a cache-seeded availability reflects the
// new sold count immediately after purchase, without waiting for TTL.
func TestPurchase_InvalidatesAvailability(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 2))

	ctx := context.Background()
	before, err := env.svc.GetAvailability(ctx, "art-1")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if before.SoldCount != 0 {
		t.Fatalf("expected sold count 0, got %d", before.SoldCount)
	}

	if _, err := env.svc.Purchase(ctx, "art-1", "buyer-1", "pay-1"); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	after, err := env.svc.GetAvailability(ctx, "art-1")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if after.SoldCount != 1 {
		t.Errorf("availability stale after purchase: sold count %d", after.SoldCount)
	}
	if !after.Available {
		t.Error("artifact with remaining supply reported unavailable")
	}
}

func TestGetAvailability_CachesResult(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 3))

	ctx := context.Background()
	if _, err := env.svc.GetAvailability(ctx, "art-1"); err != nil {
		t.Fatalf("availability failed: %v", err)
	}

	// Mutate behind the cache's back; the cached view must win until
	// invalidation or expiry.
	a := newTestArtifact("art-1", "seller-1", 3)
	a.SoldCount = 2
	env.store.PutArtifact(a)

	got, err := env.svc.GetAvailability(ctx, "art-1")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if got.SoldCount != 0 {
		t.Errorf("expected cached sold count 0, got %d", got.SoldCount)
	}

	env.svc.InvalidateArtifact("art-1")
	got, err = env.svc.GetAvailability(ctx, "art-1")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if got.SoldCount != 2 {
		t.Errorf("expected fresh sold count 2 after invalidation, got %d", got.SoldCount)
	}
}

func TestListPurchases_OrderedEditions(t *testing.T) {
	env := newPurchaseEnv(t)
	env.store.PutArtifact(newTestArtifact("art-1", "seller-1", 3))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := env.svc.Purchase(ctx, "art-1", fmt.Sprintf("buyer-%d", i), fmt.Sprintf("pay-%d", i)); err != nil {
			t.Fatalf("purchase %d failed: %v", i, err)
		}
	}

	purchases, err := env.svc.ListPurchases(ctx, "art-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(purchases) != 3 {
		t.Fatalf("expected 3 purchases, got %d", len(purchases))
	}
	for i, p := range purchases {
		if p.EditionNumber != i+1 {
			t.Errorf("position %d holds edition %d", i, p.EditionNumber)
		}
	}
}
