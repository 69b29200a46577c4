package port

import (
	"context"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/shopspring/decimal"
)

// Tx is the transaction-scoped view of the store. All reads observe the
// transaction's snapshot; ArtifactForUpdate and SellerForUpdate take row
// locks so concurrent mutators of the same row serialize.
type Tx interface {
	// ArtifactForUpdate reads the artifact row with a write lock.
	// Returns domain.ErrNotFound if no row exists.
	ArtifactForUpdate(ctx context.Context, artifactID string) (*domain.Artifact, error)

	// SellerForUpdate reads the seller row with a write lock.
	SellerForUpdate(ctx context.Context, sellerID string) (*domain.Seller, error)

	// InsertPurchase persists a new edition record. A duplicate
	// (artifact, edition) pair fails the unique constraint.
	InsertPurchase(ctx context.Context, p domain.Purchase) error

	// UpdateSoldCount advances sold_count from prev to next. Returns
	// domain.ErrSerialization if the row no longer holds prev.
	UpdateSoldCount(ctx context.Context, artifactID string, prev, next int) error

	// SetPublished flips the publish flag and, when supplied, rewrites
	// the total supply and unit price.
	SetPublished(ctx context.Context, artifactID string, published bool, newSupply *int, newPrice *decimal.Decimal) error

	// AdjustPostersForSale applies a relative, floor-clamped update to
	// the seller's published counter in the database.
	AdjustPostersForSale(ctx context.Context, sellerID string, delta int) error
}

// Store is the resilient data-access boundary. WithinTx leases one
// connection, runs fn inside a transaction, and releases the connection on
// every exit path; fn returning an error rolls the transaction back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Plain reads used as cache producers.
	Artifact(ctx context.Context, artifactID string) (*domain.Artifact, error)
	Seller(ctx context.Context, sellerID string) (*domain.Seller, error)
	PurchasesByArtifact(ctx context.Context, artifactID string) ([]domain.Purchase, error)

	// Ping is the health-probe round trip used by the write breaker.
	Ping(ctx context.Context) error
}
