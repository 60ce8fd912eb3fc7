package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/geodex-cloud/geodex/internal/catalog"
	"github.com/geodex-cloud/geodex/internal/domain"
)

// Config holds the geodex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Build     BuildConfig     `yaml:"build"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CatalogConfig points at the dataset catalog file.
type CatalogConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // auto, json, parquet (default: auto)
}

// SearchConfig holds ranking defaults.
type SearchConfig struct {
	Tier        string             `yaml:"tier"` // small, medium, large (default: small)
	Weights     map[string]float64 `yaml:"weights"`
	DefaultTopK int                `yaml:"default_top_k"`
	MaxResults  int                `yaml:"max_results"`
}

// CacheConfig holds the on-disk index cache settings.
type CacheConfig struct {
	Dir            string `yaml:"dir"`
	LockTimeoutSec int    `yaml:"lock_timeout_sec"`
}

// BuildConfig holds index build settings.
type BuildConfig struct {
	Concurrency int `yaml:"concurrency"` // 0 = runtime.NumCPU()
	ChunkSize   int `yaml:"chunk_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider string               `yaml:"provider"` // hashing, openai (default: hashing)
	OpenAI   OpenAIConfig         `yaml:"openai"`
	Cache    EmbeddingCacheConfig `yaml:"cache"`
}

// OpenAIConfig holds settings for the remote embeddings API.
type OpenAIConfig struct {
	APIKey        string                     `yaml:"api_key"`
	BaseURL       string                     `yaml:"base_url"`
	RetryAttempts int                        `yaml:"retry_attempts"`
	Models        map[string]TierModelConfig `yaml:"models"` // keyed by tier name
	Budget        BudgetConfig               `yaml:"budget"`
}

// TierModelConfig overrides the model behind one tier.
type TierModelConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit      int64   `yaml:"daily_token_limit"`       // 0 = unlimited
	MonthlyTokenLimit    int64   `yaml:"monthly_token_limit"`     // 0 = unlimited
	CostPerMillionTokens float64 `yaml:"cost_per_million_tokens"` // для дашборда
	Action               string  `yaml:"action"`                  // "reject" | "warn" (default)
}

// EmbeddingCacheConfig holds the key-value embedding cache settings.
type EmbeddingCacheConfig struct {
	Backend             string   `yaml:"backend"` // none, memory, badger, redis (default: memory)
	Capacity            int      `yaml:"capacity"`
	BadgerDir           string   `yaml:"badger_dir"`
	Addrs               []string `yaml:"addrs"`
	Password            string   `yaml:"password"`
	ReadinessTimeoutSec int      `yaml:"readiness_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Catalog.Format == "" {
		c.Catalog.Format = string(catalog.FormatAuto)
	}
	if c.Search.Tier == "" {
		c.Search.Tier = string(domain.TierSmall)
	}
	if len(c.Search.Weights) == 0 {
		c.Search.Weights = map[string]float64{}
		for f, w := range domain.DefaultWeights().Map() {
			c.Search.Weights[string(f)] = w
		}
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 20
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 100
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "saved_indexes"
	}
	if c.Cache.LockTimeoutSec <= 0 {
		c.Cache.LockTimeoutSec = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hashing"
	}
	if c.Embedding.OpenAI.RetryAttempts <= 0 {
		c.Embedding.OpenAI.RetryAttempts = 3
	}
	if c.Embedding.Cache.Backend == "" {
		c.Embedding.Cache.Backend = "memory"
	}
	if c.Embedding.Cache.Capacity <= 0 {
		c.Embedding.Cache.Capacity = 10000
	}
	if c.Embedding.Cache.ReadinessTimeoutSec <= 0 {
		c.Embedding.Cache.ReadinessTimeoutSec = 10
	}
	if c.Build.ChunkSize <= 0 {
		c.Build.ChunkSize = 64
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if !catalog.Format(c.Catalog.Format).IsValid() {
		return fmt.Errorf("catalog.format must be auto, json or parquet, got %q", c.Catalog.Format)
	}
	if _, err := domain.ParseTier(c.Search.Tier); err != nil {
		return fmt.Errorf("search.tier: %w", err)
	}
	if _, err := c.SearchWeights(); err != nil {
		return fmt.Errorf("search.weights: %w", err)
	}
	if c.Search.DefaultTopK > c.Search.MaxResults {
		return fmt.Errorf(
			"search.default_top_k (%d) must not exceed search.max_results (%d)",
			c.Search.DefaultTopK, c.Search.MaxResults,
		)
	}
	switch c.Embedding.Provider {
	case "hashing":
	case "openai":
		if c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("embedding.openai.api_key is required for the openai provider")
		}
		for tier := range c.Embedding.OpenAI.Models {
			if _, err := domain.ParseTier(tier); err != nil {
				return fmt.Errorf("embedding.openai.models: %w", err)
			}
		}
	default:
		return fmt.Errorf("embedding.provider must be \"hashing\" or \"openai\", got %q", c.Embedding.Provider)
	}
	switch c.Embedding.OpenAI.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"embedding.openai.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.OpenAI.Budget.Action,
		)
	}
	switch c.Embedding.Cache.Backend {
	case "none", "memory", "badger":
	case "redis":
		if len(c.Embedding.Cache.Addrs) == 0 {
			return fmt.Errorf("embedding.cache.addrs is required for the redis backend")
		}
	default:
		return fmt.Errorf(
			"embedding.cache.backend must be none, memory, badger or redis, got %q",
			c.Embedding.Cache.Backend,
		)
	}
	return nil
}

// SearchWeights converts the configured weight map into validated domain weights.
func (c *Config) SearchWeights() (domain.Weights, error) {
	m := make(map[domain.Field]float64, len(c.Search.Weights))
	for name, w := range c.Search.Weights {
		m[domain.Field(name)] = w
	}
	return domain.NewWeights(m)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./configs/
	if path := filepath.Join("configs", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "configs", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./configs/
	return filepath.Join("configs", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
