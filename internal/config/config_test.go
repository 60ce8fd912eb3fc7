package config

import (
	"testing"

	"github.com/geodex-cloud/geodex/internal/domain"
)

func validConfig() Config {
	cfg := Config{
		HTTP:    HTTPConfig{Port: 8080},
		Catalog: CatalogConfig{Path: "datasets.json"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidBudgetAction(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.OpenAI.APIKey = "test-key"
	cfg.Embedding.OpenAI.Budget = BudgetConfig{
		DailyTokenLimit: 1000000,
		Action:          "invalid_action",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}

	expected := `embedding.openai.budget.action must be "warn" or "reject", got "invalid_action"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidBudgetActions(t *testing.T) {
	validActions := []string{"", "warn", "reject"}

	for _, action := range validActions {
		t.Run("action="+action, func(t *testing.T) {
			cfg := validConfig()
			cfg.Embedding.Provider = "openai"
			cfg.Embedding.OpenAI.APIKey = "test-key"
			cfg.Embedding.OpenAI.Budget = BudgetConfig{Action: action}

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid action %q: %v", action, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingCatalogPath(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Path = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing catalog path")
	}
}

func TestValidate_InvalidCatalogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Format = "csv"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported catalog format")
	}
}

func TestValidate_InvalidTier(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Tier = "huge"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestValidate_InvalidWeightField(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Weights = map[string]float64{"title": 0.5, "summary": 0.5}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown weight field")
	}
}

func TestValidate_NegativeWeight(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Weights = map[string]float64{"title": -0.5, "description": 1.0}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestValidate_TopKExceedsMaxResults(t *testing.T) {
	cfg := validConfig()
	cfg.Search.DefaultTopK = 500
	cfg.Search.MaxResults = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when default_top_k exceeds max_results")
	}
}

func TestValidate_OpenAIRequiresAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.OpenAI.APIKey = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing openai api key")
	}
}

func TestValidate_OpenAIModelOverrideTier(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.OpenAI.APIKey = "test-key"
	cfg.Embedding.OpenAI.Models = map[string]TierModelConfig{
		"huge": {Model: "text-embedding-3-large"},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for model override on unknown tier")
	}
}

func TestValidate_UnknownEmbeddingProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "cohere"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestValidate_RedisCacheRequiresAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Cache.Backend = "redis"
	cfg.Embedding.Cache.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis cache without addrs")
	}
}

func TestValidate_UnknownCacheBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Cache.Backend = "memcached"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown cache backend")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Catalog.Format != "auto" {
		t.Errorf("expected Format=auto, got %q", cfg.Catalog.Format)
	}
	if cfg.Search.Tier != "small" {
		t.Errorf("expected Tier=small, got %q", cfg.Search.Tier)
	}
	if cfg.Search.DefaultTopK != 20 {
		t.Errorf("expected DefaultTopK=20, got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Search.MaxResults != 100 {
		t.Errorf("expected MaxResults=100, got %d", cfg.Search.MaxResults)
	}
	if cfg.Cache.Dir != "saved_indexes" {
		t.Errorf("expected Dir='saved_indexes', got %q", cfg.Cache.Dir)
	}
	if cfg.Cache.LockTimeoutSec != 10 {
		t.Errorf("expected LockTimeoutSec=10, got %d", cfg.Cache.LockTimeoutSec)
	}
	if cfg.Embedding.Provider != "hashing" {
		t.Errorf("expected Provider=hashing, got %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Cache.Backend != "memory" {
		t.Errorf("expected Backend=memory, got %q", cfg.Embedding.Cache.Backend)
	}
	if cfg.Embedding.Cache.ReadinessTimeoutSec != 10 {
		t.Errorf("expected ReadinessTimeoutSec=10, got %d", cfg.Embedding.Cache.ReadinessTimeoutSec)
	}
	if cfg.Build.ChunkSize != 64 {
		t.Errorf("expected ChunkSize=64, got %d", cfg.Build.ChunkSize)
	}
}

func TestApplyDefaults_Weights(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	want := domain.DefaultWeights().Map()
	if len(cfg.Search.Weights) != len(want) {
		t.Fatalf("expected %d default weights, got %d", len(want), len(cfg.Search.Weights))
	}
	for f, w := range want {
		if got := cfg.Search.Weights[string(f)]; got != w {
			t.Errorf("weight %s: expected %v, got %v", f, w, got)
		}
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Search:  SearchConfig{Tier: "large", DefaultTopK: 50, MaxResults: 500},
		Cache:   CacheConfig{Dir: "custom_indexes"},
		Catalog: CatalogConfig{Format: "parquet"},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Search.Tier != "large" {
		t.Errorf("expected Tier=large, got %q", cfg.Search.Tier)
	}
	if cfg.Search.DefaultTopK != 50 {
		t.Errorf("expected DefaultTopK=50, got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Cache.Dir != "custom_indexes" {
		t.Errorf("expected Dir='custom_indexes', got %q", cfg.Cache.Dir)
	}
	if cfg.Catalog.Format != "parquet" {
		t.Errorf("expected Format=parquet, got %q", cfg.Catalog.Format)
	}
}

func TestSearchWeights_Conversion(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Weights = map[string]float64{"title": 0.7, "keywords": 0.3}

	w, err := cfg.SearchWeights()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.Get(domain.FieldTitle); got != 0.7 {
		t.Errorf("expected title weight 0.7, got %v", got)
	}
	if got := w.Get(domain.FieldKeywords); got != 0.3 {
		t.Errorf("expected keywords weight 0.3, got %v", got)
	}
}
