package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/cache"
	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/logging"
	"github.com/printhaus/editions/internal/metrics"
	"github.com/printhaus/editions/internal/notify"
	"github.com/printhaus/editions/internal/port"
	"github.com/printhaus/editions/internal/resilience"
)

// SetPublishedParams describes one publish/unpublish transition. NewSupply
// and NewPrice are only consulted when publishing; once any edition has
// sold they must match the stored values.
type SetPublishedParams struct {
	ArtifactID string
	SellerID   string
	Published  bool
	NewSupply  *int
	NewPrice   *decimal.Decimal
}

// PublishService keeps each seller's published-artifact counter
// consistent with publish/unpublish transitions. The quota precondition
// check and the counter update run inside one transaction under the
// seller row lock, so a concurrent publish cannot act on a stale count.
type PublishService struct {
	store    port.Store
	executor *resilience.Executor
	breaker  *resilience.WriteBreaker
	cache    *cache.Cache
	ttls     CacheTTLs
	quota    int
	notifier port.Notifier // optional
}

func NewPublishService(store port.Store, executor *resilience.Executor, breaker *resilience.WriteBreaker, c *cache.Cache, ttls CacheTTLs, quota int, notifier port.Notifier) *PublishService {
	if quota < 1 {
		quota = 2
	}
	return &PublishService{
		store:    store,
		executor: executor,
		breaker:  breaker,
		cache:    c,
		ttls:     ttls,
		quota:    quota,
		notifier: notifier,
	}
}

// SetPublished flips an artifact's publish flag and maintains the owner's
// quota counter. A no-op toggle touches nothing. Returns
// domain.ErrQuotaExceeded when a non-exempt seller is at the limit, and
// domain.ErrInvalidSupplyChange when supply or price would change after
// the first sale.
func (s *PublishService) SetPublished(ctx context.Context, p SetPublishedParams) error {
	if p.ArtifactID == "" || p.SellerID == "" {
		return fmt.Errorf("%w: artifact and seller are required", domain.ErrInvalidInput)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultOpTimeout)
		defer cancel()
	}

	if err := s.breaker.AllowWrite(ctx); err != nil {
		metrics.PublishTransitions.WithLabelValues("error").Inc()
		return err
	}

	var (
		counterChanged bool
		noop           bool
	)
	err := s.executor.Execute(ctx, "set_published", func(ctx context.Context) error {
		counterChanged, noop = false, false
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			a, err := tx.ArtifactForUpdate(ctx, p.ArtifactID)
			if err != nil {
				return err
			}
			if a.SellerID != p.SellerID {
				return domain.ErrNotFound
			}
			if a.IsPublished == p.Published {
				noop = true
				return nil
			}

			newSupply, newPrice := p.NewSupply, p.NewPrice
			if !p.Published {
				// Unpublishing never rewrites supply or price.
				newSupply, newPrice = nil, nil
			}
			if err := validateSupplyChange(a, newSupply, newPrice); err != nil {
				return err
			}

			if p.Published {
				// Validate the record as it will be written, not
				// as read. Unpublishing is never blocked.
				staged := *a
				staged.IsPublished = true
				if newSupply != nil {
					staged.TotalSupply = *newSupply
				}
				if newPrice != nil {
					staged.PricePerUnit = *newPrice
				}
				if err := staged.Validate(); err != nil {
					return err
				}
			}

			seller, err := tx.SellerForUpdate(ctx, p.SellerID)
			if err != nil {
				return err
			}
			exempt := seller.QuotaExempt(time.Now())

			if p.Published && !exempt && seller.PostersForSale >= s.quota {
				return domain.ErrQuotaExceeded
			}

			if err := tx.SetPublished(ctx, p.ArtifactID, p.Published, newSupply, newPrice); err != nil {
				return err
			}
			if !exempt {
				delta := 1
				if !p.Published {
					delta = -1
				}
				if err := tx.AdjustPostersForSale(ctx, p.SellerID, delta); err != nil {
					return err
				}
				counterChanged = true
			}
			return nil
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			metrics.PublishTransitions.WithLabelValues("quota_exceeded").Inc()
		case resilience.IsTransient(err):
			metrics.PublishTransitions.WithLabelValues("error").Inc()
			return domain.ErrConflict
		default:
			metrics.PublishTransitions.WithLabelValues("error").Inc()
		}
		return err
	}

	if noop {
		metrics.PublishTransitions.WithLabelValues("noop").Inc()
		return nil
	}

	// Post-commit invalidation: the artifact's catalogue view always
	// changes; the seller profile only when the counter moved.
	s.cache.InvalidatePattern(cache.ArtifactPattern(p.ArtifactID))
	if counterChanged {
		s.cache.Invalidate(cache.SellerProfileKey(p.SellerID))
	}

	eventType := notify.EventArtifactUnpublished
	result := "unpublished"
	if p.Published {
		eventType = notify.EventArtifactPublished
		result = "published"
	}
	if s.notifier != nil {
		s.notifier.Enqueue(port.Event{
			Recipient: p.SellerID,
			Type:      eventType,
			Payload:   map[string]any{"artifact_id": p.ArtifactID},
		})
	}

	metrics.PublishTransitions.WithLabelValues(result).Inc()
	logging.Info().Str("artifact_id", p.ArtifactID).Str("seller_id", p.SellerID).Bool("published", p.Published).Msg("publish state changed")
	return nil
}

// GetSeller returns the cached seller profile.
func (s *PublishService) GetSeller(ctx context.Context, sellerID string) (*domain.Seller, error) {
	v, err := s.cache.GetOrLoad(ctx, cache.SellerProfileKey(sellerID), s.ttls.Seller, func(ctx context.Context) (any, error) {
		var seller *domain.Seller
		err := s.executor.Execute(ctx, "read_seller", func(ctx context.Context) error {
			var err error
			seller, err = s.store.Seller(ctx, sellerID)
			return err
		})
		return seller, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Seller), nil
}

// InvalidateSeller busts every cache key derived from one seller.
func (s *PublishService) InvalidateSeller(sellerID string) {
	s.cache.InvalidatePattern(cache.SellerPattern(sellerID))
}

// validateSupplyChange enforces supply/price immutability once an edition
// has sold, and basic sanity on the new values.
func validateSupplyChange(a *domain.Artifact, newSupply *int, newPrice *decimal.Decimal) error {
	if newSupply != nil {
		if *newSupply != a.TotalSupply && a.SoldCount > 0 {
			return domain.ErrInvalidSupplyChange
		}
		if *newSupply <= 0 || *newSupply < a.SoldCount {
			return domain.ErrInvalidSupplyChange
		}
	}
	if newPrice != nil {
		if !newPrice.Equal(a.PricePerUnit) && a.SoldCount > 0 {
			return domain.ErrInvalidSupplyChange
		}
		if newPrice.LessThan(domain.PlatformPriceFloor) {
			return domain.ErrPriceBelowFloor
		}
	}
	return nil
}
