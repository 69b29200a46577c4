package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformPriceFloor is the minimum price a published artifact may carry.
var PlatformPriceFloor = decimal.NewFromInt(1)

// Artifact is a limited-edition poster with a fixed total supply.
// TotalSupply and PricePerUnit are immutable once SoldCount > 0.
type Artifact struct {
	ID           string
	SellerID     string
	Title        string
	StoragePath  string // opaque media reference, never dereferenced here
	TotalSupply  int
	SoldCount    int
	PricePerUnit decimal.Decimal
	IsPublished  bool
	IsApproved   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the number of unsold editions.
func (a *Artifact) Remaining() int {
	return a.TotalSupply - a.SoldCount
}

// Available reports whether at least one edition can still be sold.
func (a *Artifact) Available() bool {
	return a.IsPublished && a.SoldCount < a.TotalSupply
}

// Validate checks the structural invariants of an artifact record.
func (a *Artifact) Validate() error {
	if a.ID == "" || a.SellerID == "" {
		return ErrNotFound
	}
	if a.TotalSupply <= 0 {
		return ErrInvalidSupplyChange
	}
	if a.SoldCount < 0 || a.SoldCount > a.TotalSupply {
		return ErrInvalidSupplyChange
	}
	if a.PricePerUnit.LessThan(PlatformPriceFloor) {
		return ErrPriceBelowFloor
	}
	return nil
}
