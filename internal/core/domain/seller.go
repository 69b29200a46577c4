package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Seller owns artifacts and carries the publish-quota counter.
type Seller struct {
	ID                 string
	PostersForSale     int
	SubscriptionStatus SubscriptionStatus
	SubscriptionEndsAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// QuotaExempt reports whether the seller holds an active qualifying
// subscription at the given instant. Canceled subscriptions stay exempt
// until their paid period ends.
func (s *Seller) QuotaExempt(now time.Time) bool {
	switch s.SubscriptionStatus {
	case SubscriptionActive:
		return s.SubscriptionEndsAt == nil || s.SubscriptionEndsAt.After(now)
	case SubscriptionCanceled:
		return s.SubscriptionEndsAt != nil && s.SubscriptionEndsAt.After(now)
	default:
		return false
	}
}
