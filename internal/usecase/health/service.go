package health

import (
	"context"
	"os"
	"path/filepath"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks: engine readiness, embedding provider
// availability, index cache directory writability, and the optional embedding
// cache backend.
type Service struct {
	engine    ReadinessReporter
	embedding EmbeddingChecker
	cache     CachePinger
	cacheDir  string
}

// New creates a Service. embedding and cache can be nil; an empty cacheDir
// skips the writability check.
func New(engine ReadinessReporter, embedding EmbeddingChecker, cache CachePinger, cacheDir string) *Service {
	return &Service{engine: engine, embedding: embedding, cache: cache, cacheDir: cacheDir}
}

// Check runs health checks against all components.
// An unready engine means the service cannot answer queries at all, so the
// aggregate drops to Unhealthy; any other failing check only degrades.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	engineOK := s.engine.Ready()
	if engineOK {
		checks["engine"] = CheckOK
	} else {
		checks["engine"] = CheckError
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.cacheDir != "" {
		if err := checkDirWritable(s.cacheDir); err != nil {
			checks["index_cache_dir"] = CheckError
		} else {
			checks["index_cache_dir"] = CheckOK
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["embedding_cache"] = CheckError
		} else {
			checks["embedding_cache"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !engineOK {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

// checkDirWritable verifies the cache directory exists (creating it if
// needed) and accepts writes.
func checkDirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".healthcheck-")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
