package health

import "context"

// ReadinessReporter reports whether the search engine holds a valid index.
type ReadinessReporter interface {
	Ready() bool
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CachePinger checks the embedding cache backend.
type CachePinger interface {
	Ping(ctx context.Context) error
}
