package cache

import "fmt"

// Cache key layout. Every mutation invalidates the keys it can stale;
// patterns cover whole records.

func ArtifactDetailKey(artifactID string) string {
	return fmt.Sprintf("artifact:%s:detail", artifactID)
}

func ArtifactAvailabilityKey(artifactID string) string {
	return fmt.Sprintf("artifact:%s:availability", artifactID)
}

func ArtifactPurchasesKey(artifactID string) string {
	return fmt.Sprintf("artifact:%s:purchases", artifactID)
}

func ArtifactPattern(artifactID string) string {
	return fmt.Sprintf("artifact:%s:*", artifactID)
}

func SellerProfileKey(sellerID string) string {
	return fmt.Sprintf("seller:%s:profile", sellerID)
}

func SellerPattern(sellerID string) string {
	return fmt.Sprintf("seller:%s:*", sellerID)
}
