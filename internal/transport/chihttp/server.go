package chihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/domain"
	engineuc "github.com/geodex-cloud/geodex/internal/usecase/engine"
	healthuc "github.com/geodex-cloud/geodex/internal/usecase/health"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest             = "bad_request"
	codeValidationFailed       = "validation_failed"
	codeEngineNotReady         = "engine_not_ready"
	codeDatasetNotFound        = "dataset_not_found"
	codeCatalogLoadFailed      = "catalog_load_failed"
	codeEmbeddingQuotaExceeded = "embedding_quota_exceeded"
	codeEmbeddingProviderError = "embedding_provider_error"
	codeInternalError          = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Engine is the search engine surface the HTTP layer depends on.
type Engine interface {
	Search(ctx context.Context, query string, topK int, overrides map[domain.Field]float64) ([]engineuc.Match, error)
	Record(id string) (domain.Record, error)
	Records() ([]domain.Record, error)
	Status() engineuc.Status
	UpdateWeights(ctx context.Context, weights map[domain.Field]float64) error
	UpdateTier(ctx context.Context, tier domain.Tier) error
	Reload(ctx context.Context) error
}

// HealthReporter produces the health report for GET /health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API over the search engine.
type Server struct {
	engine        Engine
	health        HealthReporter
	defaultTopK   int
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. defaultTopK is used when a search
// request omits top_k.
func NewServer(engine Engine, health HealthReporter, defaultTopK int, logger *zap.Logger) *Server {
	if defaultTopK <= 0 {
		defaultTopK = defaultPageLimit
	}
	s := &Server{
		engine:      engine,
		health:      health,
		defaultTopK: defaultTopK,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrEngineNotReady, http.StatusServiceUnavailable, codeEngineNotReady),
		sentinelHandler(domain.ErrRecordNotFound, http.StatusNotFound, codeDatasetNotFound),
		sentinelHandler(domain.ErrCatalogLoad, http.StatusUnprocessableEntity, codeCatalogLoadFailed),
		sentinelHandler(domain.ErrCatalogEmpty, http.StatusUnprocessableEntity, codeCatalogLoadFailed),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, codeEmbeddingQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderError),
	}
	return s
}

// Routes mounts all handlers on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.Search)
		r.Get("/search/info", s.SearchInfo)
		r.Put("/search/weights", s.UpdateWeights)
		r.Put("/search/model", s.UpdateModel)
		r.Post("/reload", s.Reload)
		r.Get("/datasets", s.ListDatasets)
		r.Get("/datasets/{id}", s.GetDataset)
	})
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query   string             `json:"query"`
	TopK    *int               `json:"top_k,omitempty"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// SearchResultItem is one ranked dataset in a search response.
type SearchResultItem struct {
	Id          string             `json:"id"`
	Title       string             `json:"title,omitempty"`
	Score       float64            `json:"score"`
	FieldScores map[string]float64 `json:"field_scores,omitempty"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Items []SearchResultItem `json:"items"`
	Total int                `json:"total"`
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	topK := s.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	matches, err := s.engine.Search(ctx, req.Query, topK, weightsFromJSON(req.Weights))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]SearchResultItem, len(matches))
	for i, m := range matches {
		items[i] = SearchResultItem{
			Id:          m.ID,
			Score:       m.Score,
			FieldScores: fieldScoresToJSON(m.FieldScores),
		}
		if rec, err := s.engine.Record(m.ID); err == nil {
			items[i].Title = rec.Title()
		}
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, SearchResponse{
		Items: items,
		Total: len(items),
	})
}

// InfoResponse is the body of GET /api/v1/search/info.
type InfoResponse struct {
	Ready        bool               `json:"ready"`
	DatasetCount int                `json:"dataset_count"`
	Tier         string             `json:"tier"`
	Model        string             `json:"model,omitempty"`
	Dimensions   int                `json:"dimensions,omitempty"`
	Fingerprint  string             `json:"fingerprint,omitempty"`
	Weights      map[string]float64 `json:"weights"`
	CatalogPath  string             `json:"catalog_path,omitempty"`
	BuiltAt      *time.Time         `json:"built_at,omitempty"`
}

// SearchInfo handles GET /api/v1/search/info.
func (s *Server) SearchInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoFromStatus(s.engine.Status()))
}

func infoFromStatus(st engineuc.Status) InfoResponse {
	resp := InfoResponse{
		Ready:        st.Ready,
		DatasetCount: st.RecordCount,
		Tier:         string(st.Tier),
		Model:        st.ModelID,
		Dimensions:   st.Dimensions,
		Fingerprint:  st.Fingerprint,
		Weights:      fieldScoresToJSON(st.Weights),
		CatalogPath:  st.CatalogPath,
	}
	if !st.BuiltAt.IsZero() {
		t := st.BuiltAt.UTC()
		resp.BuiltAt = &t
	}
	return resp
}

// UpdateWeightsRequest is the body of PUT /api/v1/search/weights.
type UpdateWeightsRequest struct {
	Weights map[string]float64 `json:"weights"`
}

// UpdateWeights handles PUT /api/v1/search/weights.
func (s *Server) UpdateWeights(w http.ResponseWriter, r *http.Request) {
	var req UpdateWeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Weights) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "weights are required")
		return
	}

	if err := s.engine.UpdateWeights(r.Context(), weightsFromJSON(req.Weights)); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoFromStatus(s.engine.Status()))
}

// UpdateModelRequest is the body of PUT /api/v1/search/model.
type UpdateModelRequest struct {
	Tier string `json:"tier"`
}

// UpdateModel handles PUT /api/v1/search/model.
func (s *Server) UpdateModel(w http.ResponseWriter, r *http.Request) {
	var req UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if err := s.engine.UpdateTier(r.Context(), tier); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoFromStatus(s.engine.Status()))
}

// Reload handles POST /api/v1/reload.
func (s *Server) Reload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoFromStatus(s.engine.Status()))
}

// DatasetSummary is one entry of the dataset listing.
type DatasetSummary struct {
	Id    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// DatasetCursorListResponse is the body of GET /api/v1/datasets.
type DatasetCursorListResponse struct {
	Items      []DatasetSummary `json:"items"`
	HasMore    bool             `json:"has_more"`
	NextCursor *string          `json:"next_cursor,omitempty"`
}

// ListDatasets handles GET /api/v1/datasets.
func (s *Server) ListDatasets(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Records()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	items := make([]DatasetSummary, len(records))
	for i, rec := range records {
		items[i] = DatasetSummary{Id: rec.ID(), Title: rec.Title()}
	}

	writeJSON(w, http.StatusOK, paginateDatasets(items, r.URL.Query().Get("cursor"), limit))
}

func paginateDatasets(items []DatasetSummary, cursor string, limit int) DatasetCursorListResponse {
	startIdx := 0
	if cursor != "" {
		for i, item := range items {
			if item.Id == cursor {
				startIdx = i + 1
				break
			}
		}
	}

	if startIdx > len(items) {
		startIdx = len(items)
	}
	end := startIdx + limit
	if end > len(items) {
		end = len(items)
	}

	page := items[startIdx:end]
	hasMore := end < len(items)

	resp := DatasetCursorListResponse{
		Items:   page,
		HasMore: hasMore,
	}
	if hasMore && len(page) > 0 {
		c := page[len(page)-1].Id
		resp.NextCursor = &c
	}
	return resp
}

// DatasetResponse is the body of GET /api/v1/datasets/{id}.
type DatasetResponse struct {
	Id          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// GetDataset handles GET /api/v1/datasets/{id}.
func (s *Server) GetDataset(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Record(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DatasetResponse{
		Id:          rec.ID(),
		Title:       rec.Title(),
		Description: rec.Description(),
		Keywords:    rec.Keywords(),
		Attributes:  rec.Attrs(),
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func weightsFromJSON(m map[string]float64) map[domain.Field]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[domain.Field]float64, len(m))
	for k, v := range m {
		out[domain.Field(k)] = v
	}
	return out
}

func fieldScoresToJSON(m map[domain.Field]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
		if usage.CacheHit {
			w.Header().Set("X-Embedding-Cache", "hit")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidArgument,
		domain.ErrEngineNotReady,
		domain.ErrRecordNotFound,
		domain.ErrCatalogLoad,
		domain.ErrCatalogEmpty,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrEmbeddingProviderError,
		domain.ErrVectorDimMismatch,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
