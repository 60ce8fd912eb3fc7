package hashing

import (
	"github.com/geodex-cloud/geodex/internal/domain"
)

var tierSpecs = map[domain.Tier]domain.ModelSpec{
	domain.TierSmall:  {Tier: domain.TierSmall, ModelID: "feathash-384", Dimensions: 384},
	domain.TierMedium: {Tier: domain.TierMedium, ModelID: "feathash-768", Dimensions: 768},
	domain.TierLarge:  {Tier: domain.TierLarge, ModelID: "feathash-1024", Dimensions: 1024},
}

// Provider resolves tiers to hashing embedders. Wider tiers hash into more
// buckets, trading memory for fewer feature collisions.
type Provider struct{}

// NewProvider creates a hashing embedder provider.
func NewProvider() *Provider { return &Provider{} }

// Embedder returns the embedder and model spec for a tier.
func (*Provider) Embedder(tier domain.Tier) (domain.Embedder, domain.ModelSpec, error) {
	spec, ok := tierSpecs[tier]
	if !ok {
		return nil, domain.ModelSpec{}, domain.NewUnknownTier(string(tier))
	}
	return NewEmbedder(spec.Dimensions), spec, nil
}
