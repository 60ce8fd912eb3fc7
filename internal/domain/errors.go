package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogLoad signals an unreadable or malformed catalog source.
	ErrCatalogLoad = errors.New("catalog load failed")
	// ErrCatalogEmpty signals a catalog with zero usable records.
	ErrCatalogEmpty = errors.New("catalog contains no records")
	// ErrEngineNotReady signals a query before the first successful index build.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidArgument signals a client-caused bad parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRecordNotFound signals a missing dataset record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrCacheCorrupted signals an unusable index cache entry.
	// Internal to the cache layer: readers degrade to a rebuild, never surface it.
	ErrCacheCorrupted = errors.New("index cache corrupted")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// UnknownFieldError wraps ErrInvalidArgument with the offending field name.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", ErrInvalidArgument.Error(), e.Field)
}

func (e *UnknownFieldError) Unwrap() error { return ErrInvalidArgument }

// NewUnknownField creates an unknown-field argument error.
func NewUnknownField(field string) error {
	return &UnknownFieldError{Field: field}
}

// UnknownTierError wraps ErrInvalidArgument with the offending tier name.
type UnknownTierError struct {
	Tier string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("%s: unknown tier %q", ErrInvalidArgument.Error(), e.Tier)
}

func (e *UnknownTierError) Unwrap() error { return ErrInvalidArgument }

// NewUnknownTier creates an unknown-tier argument error.
func NewUnknownTier(tier string) error {
	return &UnknownTierError{Tier: tier}
}
