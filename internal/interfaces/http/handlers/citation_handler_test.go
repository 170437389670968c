package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/testutil"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// --- mocks ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, c citation.Citation) (*citation.ResolutionResult, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*citation.ResolutionResult), args.Error(1)
}

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, c citation.Citation) (citation.Citation, resolution.EnrichmentReport) {
	args := m.Called(ctx, c)
	return args.Get(0).(citation.Citation), args.Get(1).(resolution.EnrichmentReport)
}

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) GetRecord(ctx context.Context, id string) (*citation.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*citation.Record), args.Error(1)
}

func (m *mockRecords) ListRecords(ctx context.Context, f citation.RecordFilter) ([]*citation.Record, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*citation.Record), args.Get(1).(int64), args.Error(2)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Pagination *struct {
		Page     int   `json:"page"`
		PageSize int   `json:"page_size"`
		Total    int64 `json:"total"`
	} `json:"pagination"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func newTestCitationHandler() (*CitationHandler, *mockResolver, *mockEnricher, *mockRecords) {
	res, enr, recs := new(mockResolver), new(mockEnricher), new(mockRecords)
	return NewCitationHandler(res, enr, recs, testutil.NewNopLogger()), res, enr, recs
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestResolve_Citation(t *testing.T) {
	h, res, _, _ := newTestCitationHandler()
	in := citation.Citation{Title: "Deep Residual Learning", Authors: []string{"Kaiming He"}, Year: 2016}
	res.On("Resolve", mock.Anything, in).Return(&citation.ResolutionResult{
		Status:     citation.StatusResolved,
		Confidence: 0.97,
		Source:     "crossref",
		Match: &citation.MatchCandidate{
			Title:   "Deep Residual Learning for Image Recognition",
			Authors: []string{"Kaiming He"},
			Year:    2016,
			DOI:     "10.1109/cvpr.2016.90",
		},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/resolve", jsonBody(t, ResolveRequest{Citation: &in}))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	var out ResolveResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, citation.StatusResolved, out.Result.Status)
	require.NotNil(t, out.Resolved)
	assert.Equal(t, "10.1109/cvpr.2016.90", out.Resolved.DOI)
	res.AssertExpectations(t)
}

func TestResolve_Extraction(t *testing.T) {
	h, res, _, _ := newTestCitationHandler()
	ext := citation.CitationExtraction{Title: "Attention Is All You Need", Authors: "Vaswani, A.; Shazeer, N.", Year: "(2017)"}
	res.On("Resolve", mock.Anything, ext.ToCitation()).Return(&citation.ResolutionResult{
		Status: citation.StatusUnresolved,
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/resolve", jsonBody(t, ResolveRequest{Extraction: &ext}))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out ResolveResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &out))
	assert.Equal(t, citation.StatusUnresolved, out.Result.Status)
	assert.Nil(t, out.Resolved)
	res.AssertExpectations(t)
}

func TestResolve_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed json", "{"},
		{"neither input", "{}"},
		{"both inputs", `{"citation":{"title":"a"},"extraction":{"title":"a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, res, _, _ := newTestCitationHandler()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/resolve", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			h.Resolve(rec, req)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, string(errors.ErrCodeValidation), env.Error.Code)
			res.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		})
	}
}

func TestResolve_InternalErrorIsMasked(t *testing.T) {
	h, res, _, _ := newTestCitationHandler()
	res.On("Resolve", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeInternal, "adapter crossref panicked: index out of range"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/resolve", bytes.NewBufferString(`{"citation":{"title":"x"}}`))
	rec := httptest.NewRecorder()
	h.Resolve(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "internal server error", env.Error.Message)
}

func TestEnrich_RequiresIdentifier(t *testing.T) {
	h, _, enr, _ := newTestCitationHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/enrich", bytes.NewBufferString(`{"title":"No Identifier"}`))
	rec := httptest.NewRecorder()
	h.Enrich(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	enr.AssertNotCalled(t, "Enrich", mock.Anything, mock.Anything)
}

func TestEnrich_Success(t *testing.T) {
	h, _, enr, _ := newTestCitationHandler()
	in := citation.Citation{DOI: "10.1038/nature14539"}
	out := citation.Citation{DOI: "10.1038/nature14539", Title: "Deep learning", Year: 2015}
	enr.On("Enrich", mock.Anything, in).Return(out, resolution.EnrichmentReport{
		Identifier: in.StrongIdentifier(),
		FilledBy:   map[string]string{"title": "crossref", "year": "crossref"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/citations/enrich", jsonBody(t, in))
	rec := httptest.NewRecorder()
	h.Enrich(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp EnrichResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	assert.Equal(t, "Deep learning", resp.Citation.Title)
	assert.Equal(t, []string{"title", "year"}, resp.Report.Filled())
	enr.AssertExpectations(t)
}

func citationRouter(h *CitationHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/citations", h.ListRecords)
	r.Get("/api/v1/citations/*", h.GetRecord)
	return r
}

func TestGetRecord(t *testing.T) {
	h, _, _, recs := newTestCitationHandler()
	recs.On("GetRecord", mock.Anything, "doi:10.1109/cvpr.2016.90").Return(&citation.Record{
		ID:     "doi:10.1109/cvpr.2016.90",
		Result: citation.ResolutionResult{Status: citation.StatusResolved},
	}, nil)
	recs.On("GetRecord", mock.Anything, "doi:10.1/missing").
		Return(nil, errors.New(errors.ErrCodeCitationNotFound, "citation record not found"))

	rec := httptest.NewRecorder()
	citationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citations/doi:10.1109/cvpr.2016.90", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got citation.Record
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &got))
	assert.Equal(t, citation.StatusResolved, got.Result.Status)

	rec = httptest.NewRecorder()
	citationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citations/doi:10.1%2Fmissing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.ErrCodeCitationNotFound), decodeEnvelope(t, rec).Error.Code)
	recs.AssertExpectations(t)
}

func TestGetRecord_Unavailable(t *testing.T) {
	h, _, _, recs := newTestCitationHandler()
	recs.On("GetRecord", mock.Anything, "arxiv:1706.03762").
		Return(nil, errors.New(errors.ErrCodeServiceUnavailable, "citation repository is not configured"))

	rec := httptest.NewRecorder()
	citationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citations/arxiv:1706.03762", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRecords(t *testing.T) {
	h, _, _, recs := newTestCitationHandler()
	filter := citation.RecordFilter{RunID: "run-1", Status: citation.StatusAmbiguous, Limit: 10, Offset: 10}
	recs.On("ListRecords", mock.Anything, filter).Return([]*citation.Record{{ID: "hash:ab"}}, int64(11), nil)

	rec := httptest.NewRecorder()
	citationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citations?run_id=run-1&status=ambiguous&page=2&page_size=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, int64(11), env.Pagination.Total)
	assert.Equal(t, 2, env.Pagination.Page)
	var got []citation.Record
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "hash:ab", got[0].ID)
	recs.AssertExpectations(t)
}

func TestListRecords_Validation(t *testing.T) {
	for _, q := range []string{"?page=0", "?page_size=501", "?page=x", "?status=maybe"} {
		t.Run(q, func(t *testing.T) {
			h, _, _, recs := newTestCitationHandler()
			rec := httptest.NewRecorder()
			citationRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citations"+q, nil))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			recs.AssertNotCalled(t, "ListRecords", mock.Anything, mock.Anything)
		})
	}
}
