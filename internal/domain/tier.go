package domain

// Tier selects an embedding model quality/cost level.
// Tiers are totally ordered: small < medium < large. One tier is active per
// index; switching tiers forces a full rebuild.
type Tier string

const (
	// TierSmall is the cheapest, lowest-dimensionality tier (default).
	TierSmall Tier = "small"
	// TierMedium trades more compute for better relevance.
	TierMedium Tier = "medium"
	// TierLarge is the most accurate and most expensive tier.
	TierLarge Tier = "large"
)

// IsValid checks if the tier is one of the supported levels.
func (t Tier) IsValid() bool {
	return t == TierSmall || t == TierMedium || t == TierLarge
}

// ParseTier validates a tier name from config or an API request.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", NewUnknownTier(s)
	}
	return t, nil
}

// ModelSpec describes the embedding model behind a tier. Vectors are only
// comparable when produced by the same spec.
type ModelSpec struct {
	Tier       Tier
	ModelID    string
	Dimensions int
}
