package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/port"
)

// MemoryStore is an in-memory port.Store. A single mutex held for the
// whole transaction gives serializable isolation, so it exhibits the same
// ordering guarantees as the relational store; fault hooks let tests
// inject serialization conflicts and pre-commit failures.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]domain.Artifact
	sellers   map[string]domain.Seller
	purchases map[string][]domain.Purchase // by artifact id
	pingErr   error

	// FailCommits makes the next n transactions fail with
	// domain.ErrSerialization just before commit, leaving no state.
	failCommits int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]domain.Artifact),
		sellers:   make(map[string]domain.Seller),
		purchases: make(map[string][]domain.Purchase),
	}
}

// PutArtifact seeds or replaces an artifact row.
func (s *MemoryStore) PutArtifact(a domain.Artifact) {
	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.mu.Unlock()
}

// PutSeller seeds or replaces a seller row.
func (s *MemoryStore) PutSeller(sl domain.Seller) {
	s.mu.Lock()
	s.sellers[sl.ID] = sl
	s.mu.Unlock()
}

// SetPingError makes Ping fail until cleared.
func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

// FailNextCommits arms n injected pre-commit serialization failures.
func (s *MemoryStore) FailNextCommits(n int) {
	s.mu.Lock()
	s.failCommits = n
	s.mu.Unlock()
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// WithinTx runs fn against a staged copy of the touched rows and applies
// the staged state only when fn and the commit hooks succeed.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		artifacts: make(map[string]domain.Artifact),
		sellers:   make(map[string]domain.Seller),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if s.failCommits > 0 {
		s.failCommits--
		return domain.ErrSerialization
	}

	// Commit: transactions never cancel once commit has started.
	for id, a := range tx.artifacts {
		s.artifacts[id] = a
	}
	for id, sl := range tx.sellers {
		s.sellers[id] = sl
	}
	for _, p := range tx.inserted {
		s.purchases[p.ArtifactID] = append(s.purchases[p.ArtifactID], p)
	}
	return nil
}

func (s *MemoryStore) Artifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := a
	return &copied, nil
}

func (s *MemoryStore) Seller(ctx context.Context, sellerID string) (*domain.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sellers[sellerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := sl
	return &copied, nil
}

func (s *MemoryStore) PurchasesByArtifact(ctx context.Context, artifactID string) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Purchase, len(s.purchases[artifactID]))
	copy(out, s.purchases[artifactID])
	return out, nil
}

// memTx stages writes until commit. Reads prefer staged rows.
type memTx struct {
	store     *MemoryStore
	artifacts map[string]domain.Artifact
	sellers   map[string]domain.Seller
	inserted  []domain.Purchase
}

func (t *memTx) ArtifactForUpdate(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	if a, ok := t.artifacts[artifactID]; ok {
		copied := a
		return &copied, nil
	}
	a, ok := t.store.artifacts[artifactID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := a
	return &copied, nil
}

func (t *memTx) SellerForUpdate(ctx context.Context, sellerID string) (*domain.Seller, error) {
	if sl, ok := t.sellers[sellerID]; ok {
		copied := sl
		return &copied, nil
	}
	sl, ok := t.store.sellers[sellerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := sl
	return &copied, nil
}

func (t *memTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	for _, existing := range t.store.purchases[p.ArtifactID] {
		if existing.EditionNumber == p.EditionNumber {
			return fmt.Errorf("unique constraint (artifact_id, edition_number): artifact %s edition %d", p.ArtifactID, p.EditionNumber)
		}
	}
	for _, staged := range t.inserted {
		if staged.ArtifactID == p.ArtifactID && staged.EditionNumber == p.EditionNumber {
			return fmt.Errorf("unique constraint (artifact_id, edition_number): artifact %s edition %d", p.ArtifactID, p.EditionNumber)
		}
	}
	t.inserted = append(t.inserted, p)
	return nil
}

func (t *memTx) UpdateSoldCount(ctx context.Context, artifactID string, prev, next int) error {
	a, err := t.ArtifactForUpdate(ctx, artifactID)
	if err != nil {
		return err
	}
	if a.SoldCount != prev {
		return domain.ErrSerialization
	}
	a.SoldCount = next
	t.artifacts[artifactID] = *a
	return nil
}

func (t *memTx) SetPublished(ctx context.Context, artifactID string, published bool, newSupply *int, newPrice *decimal.Decimal) error {
	a, err := t.ArtifactForUpdate(ctx, artifactID)
	if err != nil {
		return err
	}
	a.IsPublished = published
	if newSupply != nil {
		a.TotalSupply = *newSupply
	}
	if newPrice != nil {
		a.PricePerUnit = *newPrice
	}
	t.artifacts[artifactID] = *a
	return nil
}

func (t *memTx) AdjustPostersForSale(ctx context.Context, sellerID string, delta int) error {
	sl, err := t.SellerForUpdate(ctx, sellerID)
	if err != nil {
		return err
	}
	sl.PostersForSale += delta
	if sl.PostersForSale < 0 {
		sl.PostersForSale = 0
	}
	t.sellers[sellerID] = *sl
	return nil
}
