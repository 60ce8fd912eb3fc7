package chihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	engineuc "github.com/geodex-cloud/geodex/internal/usecase/engine"
	healthuc "github.com/geodex-cloud/geodex/internal/usecase/health"
)

// mockEngine implements Engine with overridable function fields.
type mockEngine struct {
	searchFn        func(ctx context.Context, query string, topK int, overrides map[domain.Field]float64) ([]engineuc.Match, error)
	recordFn        func(id string) (domain.Record, error)
	recordsFn       func() ([]domain.Record, error)
	statusFn        func() engineuc.Status
	updateWeightsFn func(ctx context.Context, weights map[domain.Field]float64) error
	updateTierFn    func(ctx context.Context, tier domain.Tier) error
	reloadFn        func(ctx context.Context) error
}

func (m *mockEngine) Search(
	ctx context.Context, query string, topK int, overrides map[domain.Field]float64,
) ([]engineuc.Match, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, topK, overrides)
	}
	return nil, nil
}

func (m *mockEngine) Record(id string) (domain.Record, error) {
	if m.recordFn != nil {
		return m.recordFn(id)
	}
	return domain.Record{}, domain.ErrRecordNotFound
}

func (m *mockEngine) Records() ([]domain.Record, error) {
	if m.recordsFn != nil {
		return m.recordsFn()
	}
	return nil, nil
}

func (m *mockEngine) Status() engineuc.Status {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return engineuc.Status{}
}

func (m *mockEngine) UpdateWeights(ctx context.Context, weights map[domain.Field]float64) error {
	if m.updateWeightsFn != nil {
		return m.updateWeightsFn(ctx, weights)
	}
	return nil
}

func (m *mockEngine) UpdateTier(ctx context.Context, tier domain.Tier) error {
	if m.updateTierFn != nil {
		return m.updateTierFn(ctx, tier)
	}
	return nil
}

func (m *mockEngine) Reload(ctx context.Context) error {
	if m.reloadFn != nil {
		return m.reloadFn(ctx)
	}
	return nil
}

// mockHealth implements HealthReporter.
type mockHealth struct {
	checkFn func(ctx context.Context) healthuc.Report
}

func (m *mockHealth) Check(ctx context.Context) healthuc.Report {
	if m.checkFn != nil {
		return m.checkFn(ctx)
	}
	return healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}
}

func newTestRouter(engine Engine, health HealthReporter) http.Handler {
	srv := NewServer(engine, health, 20, zap.NewNop())
	r := chi.NewRouter()
	srv.Routes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return v
}

func mustRecord(t *testing.T, id, title, description string, keywords []string) domain.Record {
	t.Helper()

	rec, err := domain.NewRecord(id, title, description, keywords, nil)
	if err != nil {
		t.Fatalf("build record %s: %v", id, err)
	}
	return rec
}
