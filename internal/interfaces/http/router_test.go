package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/citeresolve/internal/interfaces/http/handlers"
	"github.com/turtacn/citeresolve/internal/interfaces/http/middleware"
	"github.com/turtacn/citeresolve/internal/testutil"
)

// stubService implements every handler dependency with canned answers.
type stubService struct {
	mu       sync.Mutex
	recordID string
}

func (s *stubService) Resolve(context.Context, citation.Citation) (*citation.ResolutionResult, error) {
	return &citation.ResolutionResult{Status: citation.StatusUnresolved, ConfidenceLevel: citation.ConfidenceNone}, nil
}

func (s *stubService) Enrich(_ context.Context, c citation.Citation) (citation.Citation, resolution.EnrichmentReport) {
	return c, resolution.EnrichmentReport{Identifier: c.StrongIdentifier()}
}

func (s *stubService) GetRecord(_ context.Context, id string) (*citation.Record, error) {
	s.mu.Lock()
	s.recordID = id
	s.mu.Unlock()
	return &citation.Record{ID: id}, nil
}

func (s *stubService) ListRecords(context.Context, citation.RecordFilter) ([]*citation.Record, int64, error) {
	return nil, 0, nil
}

func (s *stubService) RunBatch(_ context.Context, opts batch.RunOptions, cs []citation.Citation) (*batch.BatchReport, string, error) {
	now := time.Now()
	return &batch.BatchReport{RunID: opts.RunID, Items: map[string]*batch.ItemReport{}, Counts: map[citation.Status]int{},
		StartedAt: now, FinishedAt: now}, "", nil
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ObserveHTTPRequest(_, route string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func newTestRouter(t *testing.T, svc *stubService, extra func(*RouterConfig)) http.Handler {
	t.Helper()
	log := testutil.NewNopLogger()
	cfg := RouterConfig{
		CitationHandler: handlers.NewCitationHandler(svc, svc, svc, log),
		BatchHandler:    handlers.NewBatchHandler(svc, log),
		HealthHandler:   handlers.NewHealthHandler("test"),
		Logger:          log,
	}
	if extra != nil {
		extra(&cfg)
	}
	return NewRouter(cfg)
}

func TestNewRouter_Routes(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(t, svc, nil)

	tests := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodPost, "/api/v1/citations/resolve", `{"citation":{"title":"x"}}`, http.StatusOK},
		{http.MethodPost, "/api/v1/citations/enrich", `{"doi":"10.1/x"}`, http.StatusOK},
		{http.MethodGet, "/api/v1/citations", "", http.StatusOK},
		{http.MethodGet, "/api/v1/citations/doi:10.1145/3292500.3330701", "", http.StatusOK},
		{http.MethodPost, "/api/v1/batches", `{"citations":[{"title":"x"}]}`, http.StatusOK},
		{http.MethodGet, "/api/v1/batches", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/journals", "", http.StatusNotFound},
		{http.MethodGet, "/metrics", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body)))
			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
		})
	}
	assert.Equal(t, "doi:10.1145/3292500.3330701", svc.recordID)
}

func TestNewRouter_NilHandlers(t *testing.T) {
	h := NewRouter(RouterConfig{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRouter_MetricsEndpointAndLabels(t *testing.T) {
	rec := &routeRecorder{}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "citeresolve_test"}, testutil.NewNopLogger())
	require.NoError(t, err)

	h := newTestRouter(t, &stubService{}, func(cfg *RouterConfig) {
		cfg.Metrics = rec
		cfg.MetricsCollector = collector
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/citations/arxiv:1706.03762", nil))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.routes, 2)
	assert.Equal(t, "/metrics", rec.routes[0])
	assert.Equal(t, "/api/v1/citations/*", rec.routes[1])
}

func TestNewRouter_RateLimitSkipsProbes(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		SkipPaths:         []string{"/healthz"},
	})
	h := newTestRouter(t, &stubService{}, func(cfg *RouterConfig) { cfg.RateLimiter = limiter })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/citations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/citations", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestNewRouter_RecoversPanics(t *testing.T) {
	h := newTestRouter(t, &stubService{}, nil)
	r, ok := h.(interface {
		Get(pattern string, fn http.HandlerFunc)
	})
	require.True(t, ok)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
