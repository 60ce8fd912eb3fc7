package openai

import (
	"github.com/geodex-cloud/geodex/internal/domain"
)

// Default per-tier models for the OpenAI embeddings API. Config may override
// any tier; requested dimensions keep vectors comparable across runs.
var defaultTierSpecs = map[domain.Tier]domain.ModelSpec{
	domain.TierSmall:  {Tier: domain.TierSmall, ModelID: "text-embedding-3-small", Dimensions: 512},
	domain.TierMedium: {Tier: domain.TierMedium, ModelID: "text-embedding-3-small", Dimensions: 1536},
	domain.TierLarge:  {Tier: domain.TierLarge, ModelID: "text-embedding-3-large", Dimensions: 3072},
}

// Provider resolves tiers to remote embedders sharing one API connection config.
type Provider struct {
	cfg   *Config
	specs map[domain.Tier]domain.ModelSpec
}

// TierModel overrides the model behind one tier.
type TierModel struct {
	Model      string
	Dimensions int
}

// NewProvider creates a provider with optional per-tier model overrides.
func NewProvider(cfg *Config, overrides map[domain.Tier]TierModel) *Provider {
	specs := make(map[domain.Tier]domain.ModelSpec, len(defaultTierSpecs))
	for tier, spec := range defaultTierSpecs {
		if o, ok := overrides[tier]; ok {
			if o.Model != "" {
				spec.ModelID = o.Model
			}
			if o.Dimensions > 0 {
				spec.Dimensions = o.Dimensions
			}
		}
		specs[tier] = spec
	}
	return &Provider{cfg: cfg, specs: specs}
}

// Embedder returns the embedder and model spec for a tier.
func (p *Provider) Embedder(tier domain.Tier) (domain.Embedder, domain.ModelSpec, error) {
	spec, ok := p.specs[tier]
	if !ok {
		return nil, domain.ModelSpec{}, domain.NewUnknownTier(string(tier))
	}
	return NewEmbedder(p.cfg, spec), spec, nil
}
