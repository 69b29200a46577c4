package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/cache"
	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/metrics"
	"github.com/printhaus/editions/internal/notify"
	"github.com/printhaus/editions/internal/port"
	"github.com/printhaus/editions/internal/resilience"
)

// defaultOpTimeout bounds a mutating operation when the caller's context
// carries no deadline.
const defaultOpTimeout = 10 * time.Second

// CacheTTLs are short on purpose: explicit invalidation is the primary
// consistency mechanism, TTL only bounds staleness across processes.
type CacheTTLs struct {
	Detail       time.Duration
	Availability time.Duration
	Purchases    time.Duration
	Seller       time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Detail:       2 * time.Minute,
		Availability: 30 * time.Second,
		Purchases:    time.Minute,
		Seller:       2 * time.Minute,
	}
}

// PurchaseResult reports one committed edition assignment.
type PurchaseResult struct {
	PurchaseID      string
	EditionNumber   int
	RemainingSupply int
	AmountPaid      decimal.Decimal
}

// Availability is the cached read-path view of an artifact's supply.
type Availability struct {
	TotalSupply int  `json:"total_supply"`
	SoldCount   int  `json:"sold_count"`
	Available   bool `json:"available"`
}

// PurchaseService is the inventory-consistent purchase engine. The store
// transaction is the sole serialization point for per-artifact inventory;
// no in-process locks are used so multiple server processes can run
// against one shared store.
type PurchaseService struct {
	store    port.Store
	executor *resilience.Executor
	breaker  *resilience.WriteBreaker
	cache    *cache.Cache
	ttls     CacheTTLs
	dedup    port.PaymentDedup // optional
	notifier port.Notifier     // optional
}

func NewPurchaseService(store port.Store, executor *resilience.Executor, breaker *resilience.WriteBreaker, c *cache.Cache, ttls CacheTTLs, dedup port.PaymentDedup, notifier port.Notifier) *PurchaseService {
	return &PurchaseService{
		store:    store,
		executor: executor,
		breaker:  breaker,
		cache:    c,
		ttls:     ttls,
		dedup:    dedup,
		notifier: notifier,
	}
}

// Purchase atomically assigns the next edition of an artifact to a buyer.
// paymentRef is the caller's proof that the charge has already settled;
// the engine never performs its own charge. On a write conflict the whole
// transaction is retried from its first read; exhausted retries surface
// domain.ErrConflict rather than double-assigning an edition.
func (s *PurchaseService) Purchase(ctx context.Context, artifactID, buyerID, paymentRef string) (*PurchaseResult, error) {
	if artifactID == "" || buyerID == "" || paymentRef == "" {
		return nil, fmt.Errorf("%w: artifact, buyer and payment reference are required", domain.ErrInvalidInput)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultOpTimeout)
		defer cancel()
	}

	if err := s.breaker.AllowWrite(ctx); err != nil {
		metrics.PurchasesTotal.WithLabelValues("degraded").Inc()
		return nil, err
	}

	if s.dedup != nil {
		ok, err := s.dedup.Claim(ctx, paymentRef)
		if err != nil {
			metrics.PurchasesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("payment dedup: %w", err)
		}
		if !ok {
			metrics.PurchasesTotal.WithLabelValues("duplicate").Inc()
			return nil, domain.ErrDuplicatePayment
		}
	}

	var result *PurchaseResult
	err := s.executor.Execute(ctx, "purchase", func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			// The only correctness-relevant read: the committed row,
			// under lock, never the cache.
			a, err := tx.ArtifactForUpdate(ctx, artifactID)
			if err != nil {
				return err
			}
			if !a.IsPublished {
				return domain.ErrNotFound
			}
			if a.SoldCount >= a.TotalSupply {
				return domain.ErrSoldOut
			}

			edition := a.SoldCount + 1
			p := domain.Purchase{
				ID:            uuid.NewString(),
				ArtifactID:    artifactID,
				BuyerID:       buyerID,
				EditionNumber: edition,
				AmountPaid:    a.PricePerUnit,
				PaymentRef:    paymentRef,
				CreatedAt:     time.Now().UTC(),
			}
			if err := tx.InsertPurchase(ctx, p); err != nil {
				return err
			}
			if err := tx.UpdateSoldCount(ctx, artifactID, a.SoldCount, edition); err != nil {
				return err
			}
			a.SoldCount = edition

			result = &PurchaseResult{
				PurchaseID:      p.ID,
				EditionNumber:   edition,
				RemainingSupply: a.Remaining(),
				AmountPaid:      p.AmountPaid,
			}
			return nil
		})
	})
	if err != nil {
		if s.dedup != nil {
			// The settled payment may be retried against a fresh
			// purchase attempt.
			if relErr := s.dedup.Release(context.WithoutCancel(ctx), paymentRef); relErr != nil {
				logging.Error().Err(relErr).Str("payment_ref", paymentRef).Msg("failed to release payment claim")
			}
		}
		switch {
		case errors.Is(err, domain.ErrSoldOut):
			metrics.PurchasesTotal.WithLabelValues("sold_out").Inc()
			return nil, domain.ErrSoldOut
		case errors.Is(err, domain.ErrNotFound):
			metrics.PurchasesTotal.WithLabelValues("error").Inc()
			return nil, domain.ErrNotFound
		case resilience.IsTransient(err):
			metrics.PurchasesTotal.WithLabelValues("conflict").Inc()
			return nil, domain.ErrConflict
		default:
			metrics.PurchasesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	// Post-commit only: invalidation before commit could cache a result
	// that still rolls back. Failures here are logged, never surfaced;
	// the TTL is the staleness backstop.
	s.InvalidateArtifact(artifactID)

	if s.notifier != nil {
		s.notifier.Enqueue(port.Event{
			Recipient: buyerID,
			Type:      notify.EventPurchaseCompleted,
			Payload: map[string]any{
				"artifact_id":    artifactID,
				"purchase_id":    result.PurchaseID,
				"edition_number": result.EditionNumber,
				"amount_paid":    result.AmountPaid.String(),
			},
		})
		s.notifier.Enqueue(port.Event{
			Recipient: buyerID,
			Type:      notify.EventFulfillmentOrder,
			Payload: map[string]any{
				"purchase_id": result.PurchaseID,
				"payment_ref": paymentRef,
			},
		})
	}

	metrics.PurchasesTotal.WithLabelValues("ok").Inc()
	metrics.EditionsAssigned.Inc()
	logging.Info().Str("artifact_id", artifactID).Str("buyer_id", buyerID).Int("edition", result.EditionNumber).Msg("edition sold")
	return result, nil
}

// GetAvailability is the cached read path; it bypasses the breaker.
func (s *PurchaseService) GetAvailability(ctx context.Context, artifactID string) (*Availability, error) {
	v, err := s.cache.GetOrLoad(ctx, cache.ArtifactAvailabilityKey(artifactID), s.ttls.Availability, func(ctx context.Context) (any, error) {
		a, err := s.readArtifact(ctx, artifactID)
		if err != nil {
			return nil, err
		}
		return &Availability{
			TotalSupply: a.TotalSupply,
			SoldCount:   a.SoldCount,
			Available:   a.Available(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Availability), nil
}

// GetArtifact returns the cached catalogue view of one artifact.
func (s *PurchaseService) GetArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	v, err := s.cache.GetOrLoad(ctx, cache.ArtifactDetailKey(artifactID), s.ttls.Detail, func(ctx context.Context) (any, error) {
		return s.readArtifact(ctx, artifactID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Artifact), nil
}

// ListPurchases returns the cached edition list for one artifact.
func (s *PurchaseService) ListPurchases(ctx context.Context, artifactID string) ([]domain.Purchase, error) {
	v, err := s.cache.GetOrLoad(ctx, cache.ArtifactPurchasesKey(artifactID), s.ttls.Purchases, func(ctx context.Context) (any, error) {
		var purchases []domain.Purchase
		err := s.executor.Execute(ctx, "list_purchases", func(ctx context.Context) error {
			var err error
			purchases, err = s.store.PurchasesByArtifact(ctx, artifactID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return purchases, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Purchase), nil
}

// InvalidateArtifact busts every cache key derived from one artifact.
// Exposed as an administrative hook for out-of-band corrections.
func (s *PurchaseService) InvalidateArtifact(artifactID string) {
	s.cache.InvalidatePattern(cache.ArtifactPattern(artifactID))
}

func (s *PurchaseService) readArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	var a *domain.Artifact
	err := s.executor.Execute(ctx, "read_artifact", func(ctx context.Context) error {
		var err error
		a, err = s.store.Artifact(ctx, artifactID)
		return err
	})
	return a, err
}
