package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is an immutable edition record. EditionNumber is 1-based and
// unique per artifact; the set of committed editions for an artifact is
// exactly {1, ..., soldCount}.
type Purchase struct {
	ID            string
	ArtifactID    string
	BuyerID       string
	EditionNumber int
	AmountPaid    decimal.Decimal
	PaymentRef    string
	CreatedAt     time.Time
}
