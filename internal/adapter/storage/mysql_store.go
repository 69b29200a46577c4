package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/port"
)

// MySQLStore implements port.Store over database/sql. The sql.DB pool is
// the connection manager: bounded by MaxOpenConns, acquisition blocks up
// to the acquire timeout and then surfaces domain.ErrPoolExhausted.
type MySQLStore struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// NewMySQLStore wraps an already-configured pool.
func NewMySQLStore(db *sql.DB, acquireTimeout time.Duration) *MySQLStore {
	if acquireTimeout <= 0 {
		acquireTimeout = 3 * time.Second
	}
	return &MySQLStore{db: db, acquireTimeout: acquireTimeout}
}

// WithinTx leases one connection, runs fn inside a transaction, and
// releases the connection on every exit path. fn returning an error rolls
// back; a commit that has started is never cancelled.
func (s *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrPoolExhausted
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping is the breaker's health round trip.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const artifactColumns = `id, seller_id, title, storage_path, total_supply, sold_count,
		       price_per_unit, is_published, is_approved, created_at, updated_at`

func scanArtifact(row *sql.Row) (*domain.Artifact, error) {
	var a domain.Artifact
	var price string
	err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.StoragePath, &a.TotalSupply,
		&a.SoldCount, &price, &a.IsPublished, &a.IsApproved, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.PricePerUnit, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return &a, nil
}

// Artifact reads one artifact without locking; used by cache producers.
func (s *MySQLStore) Artifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts WHERE id = ?`, artifactID)
	return scanArtifact(row)
}

// Seller reads one seller without locking.
func (s *MySQLStore) Seller(ctx context.Context, sellerID string) (*domain.Seller, error) {
	return scanSeller(s.db.QueryRowContext(ctx, `
		SELECT id, posters_for_sale, subscription_status, subscription_ends_at, created_at, updated_at
		FROM sellers WHERE id = ?`, sellerID))
}

func scanSeller(row *sql.Row) (*domain.Seller, error) {
	var sl domain.Seller
	var endsAt sql.NullTime
	err := row.Scan(&sl.ID, &sl.PostersForSale, &sl.SubscriptionStatus, &endsAt, &sl.CreatedAt, &sl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan seller: %w", err)
	}
	if endsAt.Valid {
		sl.SubscriptionEndsAt = &endsAt.Time
	}
	return &sl, nil
}

// PurchasesByArtifact lists committed editions, oldest first.
func (s *MySQLStore) PurchasesByArtifact(ctx context.Context, artifactID string) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_id, buyer_id, edition_number, amount_paid, payment_ref, created_at
		FROM purchases WHERE artifact_id = ? ORDER BY edition_number`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		var amount string
		if err := rows.Scan(&p.ID, &p.ArtifactID, &p.BuyerID, &p.EditionNumber, &amount, &p.PaymentRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		p.AmountPaid, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// mysqlTx is the transaction-scoped view.
type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) ArtifactForUpdate(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts WHERE id = ? FOR UPDATE`, artifactID)
	return scanArtifact(row)
}

func (t *mysqlTx) SellerForUpdate(ctx context.Context, sellerID string) (*domain.Seller, error) {
	return scanSeller(t.tx.QueryRowContext(ctx, `
		SELECT id, posters_for_sale, subscription_status, subscription_ends_at, created_at, updated_at
		FROM sellers WHERE id = ? FOR UPDATE`, sellerID))
}

func (t *mysqlTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, artifact_id, buyer_id, edition_number, amount_paid, payment_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ArtifactID, p.BuyerID, p.EditionNumber, p.AmountPaid.String(), p.PaymentRef, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateSoldCount(ctx context.Context, artifactID string, prev, next int) error {
	// The row is locked by ArtifactForUpdate; the guarded WHERE is the
	// last line of defense against a stale read slipping through.
	result, err := t.tx.ExecContext(ctx, `
		UPDATE artifacts
		SET sold_count = ?, updated_at = NOW()
		WHERE id = ? AND sold_count = ?`,
		next, artifactID, prev,
	)
	if err != nil {
		return fmt.Errorf("update sold_count: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrSerialization
	}
	return nil
}

func (t *mysqlTx) SetPublished(ctx context.Context, artifactID string, published bool, newSupply *int, newPrice *decimal.Decimal) error {
	query := `UPDATE artifacts SET is_published = ?, updated_at = NOW()`
	args := []any{published}
	if newSupply != nil {
		query += `, total_supply = ?`
		args = append(args, *newSupply)
	}
	if newPrice != nil {
		query += `, price_per_unit = ?`
		args = append(args, newPrice.String())
	}
	query += ` WHERE id = ?`
	args = append(args, artifactID)

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update publish flag: %w", err)
	}
	return nil
}

func (t *mysqlTx) AdjustPostersForSale(ctx context.Context, sellerID string, delta int) error {
	// Relative update in the database, floor-clamped at zero, so
	// concurrent publishes by one seller cannot lose updates.
	result, err := t.tx.ExecContext(ctx, `
		UPDATE sellers
		SET posters_for_sale = GREATEST(CAST(posters_for_sale AS SIGNED) + ?, 0), updated_at = NOW()
		WHERE id = ?`,
		delta, sellerID,
	)
	if err != nil {
		return fmt.Errorf("adjust posters_for_sale: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 && delta != 0 {
		// Distinguish a missing row from a clamped no-change update.
		var exists int
		if err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM sellers WHERE id = ?`, sellerID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("check seller: %w", err)
		}
	}
	return nil
}
