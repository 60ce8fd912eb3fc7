// Package openai is the remote embedding provider over the OpenAI-compatible
// embeddings API. One Embedder is bound to one tier's model; a Provider
// resolves tiers to embedders from config.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	"github.com/geodex-cloud/geodex/internal/metrics"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 200 * time.Millisecond
)

// Embedder vectorizes text via the OpenAI-compatible API for a single model.
type Embedder struct {
	client        *openai.Client
	spec          domain.ModelSpec
	user          string
	provider      string
	retryAttempts uint64
	logger        *zap.Logger
}

// Compile-time checks.
var (
	_ domain.Embedder      = (*Embedder)(nil)
	_ domain.BatchEmbedder = (*Embedder)(nil)
	_ domain.HealthChecker = (*Embedder)(nil)
)

// Config holds the embedding provider settings.
type Config struct {
	APIKey        string
	BaseURL       string
	User          string
	Provider      string
	RetryAttempts int
	Logger        *zap.Logger
}

// NewEmbedder creates an embedder bound to one model spec.
func NewEmbedder(cfg *Config, spec domain.ModelSpec) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	attempts := uint64(defaultRetryAttempts)
	if cfg.RetryAttempts > 0 {
		attempts = uint64(cfg.RetryAttempts)
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:        openai.NewClientWithConfig(clientCfg),
		spec:          spec,
		user:          cfg.User,
		provider:      provider,
		retryAttempts: attempts,
		logger:        logger,
	}
}

// Spec returns the model spec this embedder is bound to.
func (e *Embedder) Spec() domain.ModelSpec { return e.spec }

// Embed vectorizes a single text. Blank text maps to the zero vector without
// touching the wire, per the domain.Embedder contract.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if domain.Blank(text) {
		return domain.EmbeddingResult{Embedding: domain.ZeroVector(e.spec.Dimensions)}, nil
	}

	res, err := e.request(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed vectorizes texts in one API call. Blank texts are excluded from
// the request and filled with zero vectors in their positions.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var sendIdx []int
	var send []string
	for i, t := range texts {
		if domain.Blank(t) {
			embeddings[i] = domain.ZeroVector(e.spec.Dimensions)
			continue
		}
		sendIdx = append(sendIdx, i)
		send = append(send, t)
	}

	if len(send) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
	}

	res, err := e.request(ctx, send)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	for j, i := range sendIdx {
		embeddings[i] = res.Embeddings[j]
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// request performs one embeddings API call with retry and transport metrics.
func (e *Embedder) request(ctx context.Context, input []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          openai.EmbeddingModel(e.spec.ModelID),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.spec.Dimensions > 0 {
		req.Dimensions = e.spec.Dimensions
	}

	start := time.Now()

	var resp openai.EmbeddingResponse
	backoff := retry.WithMaxRetries(e.retryAttempts, retry.NewExponential(defaultRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, req)
		if callErr == nil {
			return nil
		}
		if retryable(callErr) {
			e.logger.Debug("Retrying embedding request",
				zap.String("model", e.spec.ModelID),
				zap.Error(callErr))
			return retry.RetryableError(callErr)
		}
		return callErr
	})

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.spec.ModelID, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.spec.ModelID, "api_error").Inc()
		return domain.BatchEmbeddingResult{}, parseAPIError(err)
	}

	if len(resp.Data) != len(input) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.spec.ModelID, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.spec.ModelID, "short_response").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"embedding response has %d vectors, want %d: %w",
			len(resp.Data), len(input), domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.spec.ModelID, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, e.spec.ModelID).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, e.spec.ModelID, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, e.spec.ModelID, "total").Add(float64(totalTokens))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// retryable reports whether the API error is worth retrying:
// 429 and 5xx are, client errors are not.
func retryable(err error) bool {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	// Network-level failures have no status code; retry them.
	return true
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbeddingProviderError for correct 502 mapping.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProviderError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
