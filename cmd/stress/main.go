package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/adapter/storage"
	"github.com/printhaus/editions/internal/cache"
	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/core/service"
	"github.com/printhaus/editions/internal/resilience"
)

const (
	artifactID    = "stress-artifact"
	totalSupply   = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	store.PutArtifact(domain.Artifact{
		ID:           artifactID,
		SellerID:     "stress-seller",
		Title:        "stress poster",
		TotalSupply:  totalSupply,
		PricePerUnit: decimal.NewFromInt(30),
		IsPublished:  true,
		IsApproved:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	readCache := cache.New(time.Minute)
	defer readCache.Close()

	executor := resilience.NewExecutor(3, time.Millisecond)
	breaker := resilience.NewWriteBreaker(store, 3, time.Minute, time.Second)
	breaker.Probe(ctx)

	purchases := service.NewPurchaseService(
		store, executor, breaker, readCache, service.DefaultCacheTTLs(),
		storage.NewMemoryDedup(), nil,
	)

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	var mu sync.Mutex
	editions := make(map[int]bool)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()

			result, err := purchases.Purchase(ctx, artifactID,
				fmt.Sprintf("buyer-%d", buyer), fmt.Sprintf("pay-%d", buyer))
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				editions[result.EditionNumber] = true
				mu.Unlock()
			case errors.Is(err, domain.ErrSoldOut):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()
	other := otherCount.Load()

	fmt.Println("========== STRESS RESULTS ==========")
	fmt.Printf("Total Supply:     %d\n", totalSupply)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("====================================")

	if success == totalSupply && soldOut == totalRequests-totalSupply {
		fmt.Printf("PASS: exactly %d purchases succeeded, %d rejected sold-out\n", totalSupply, totalRequests-totalSupply)
	} else {
		fmt.Printf("FAIL: expected %d success/%d sold-out, got %d/%d\n",
			totalSupply, totalRequests-totalSupply, success, soldOut)
	}

	// Editions must be exactly 1..totalSupply with no gaps or duplicates.
	assigned := make([]int, 0, len(editions))
	for e := range editions {
		assigned = append(assigned, e)
	}
	sort.Ints(assigned)

	dense := len(assigned) == totalSupply
	for i, e := range assigned {
		if e != i+1 {
			dense = false
			break
		}
	}
	if dense {
		fmt.Printf("PASS: editions are exactly 1..%d\n", totalSupply)
	} else {
		fmt.Printf("FAIL: edition set has gaps or duplicates: %v\n", assigned)
	}

	a, err := store.Artifact(ctx, artifactID)
	if err != nil {
		fmt.Printf("FAIL: reading back artifact: %v\n", err)
		return
	}
	fmt.Printf("Final Sold Count: %d\n", a.SoldCount)
	if a.SoldCount == totalSupply {
		fmt.Println("PASS: supply depleted exactly")
	} else {
		fmt.Printf("FAIL: expected sold count %d, got %d\n", totalSupply, a.SoldCount)
	}
}
