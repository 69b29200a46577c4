package port

import "context"

// PaymentDedup guards against replays of an already-settled payment
// reference before any store work happens.
type PaymentDedup interface {
	// Claim marks the reference as consumed, returning false if some
	// earlier purchase already claimed it.
	Claim(ctx context.Context, paymentRef string) (bool, error)

	// Release undoes a claim when the purchase it guarded did not commit.
	Release(ctx context.Context, paymentRef string) error
}
