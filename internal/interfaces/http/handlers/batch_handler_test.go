package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/testutil"
	"github.com/turtacn/citeresolve/pkg/errors"
)

type mockBatchRunner struct {
	mock.Mock
}

func (m *mockBatchRunner) RunBatch(ctx context.Context, opts batch.RunOptions, citations []citation.Citation) (*batch.BatchReport, string, error) {
	args := m.Called(ctx, opts, citations)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(*batch.BatchReport), args.String(1), args.Error(2)
}

func sampleReport() *batch.BatchReport {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	resolved := citation.Citation{Title: "Deep learning", DOI: "10.1038/nature14539"}
	return &batch.BatchReport{
		RunID: "run-7",
		Items: map[string]*batch.ItemReport{
			"hash:b": {Key: "hash:b", Index: 1, State: batch.ItemCompleted, Status: citation.StatusUnresolved, Attempts: 1},
			"doi:10.1038/nature14539": {
				Key: "doi:10.1038/nature14539", Index: 0, State: batch.ItemCompleted, Status: citation.StatusResolved,
				Result:   &citation.ResolutionResult{Status: citation.StatusResolved, Confidence: 0.93, Source: "openalex"},
				Resolved: &resolved, Attempts: 1,
			},
		},
		Counts:     map[citation.Status]int{citation.StatusResolved: 1, citation.StatusUnresolved: 1},
		Duplicates: 1,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestBatchCreate_Success(t *testing.T) {
	runner := new(mockBatchRunner)
	h := NewBatchHandler(runner, testutil.NewNopLogger())

	enrich := true
	body := BatchRequest{
		RunID:       "run-7",
		Citations:   []citation.Citation{{Title: "Deep learning", DOI: "10.1038/nature14539"}},
		Extractions: []citation.CitationExtraction{{Title: "Unknown Work", Year: "n.d."}},
		Concurrency: 4,
		Enrich:      &enrich,
	}
	wantInputs := []citation.Citation{body.Citations[0], body.Extractions[0].ToCitation()}
	runner.On("RunBatch", mock.Anything, batch.RunOptions{RunID: "run-7", Concurrency: 4, Enrich: &enrich}, wantInputs).
		Return(sampleReport(), "s3://reports/reports/run-7.json", nil)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batches", jsonBody(t, body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var sum BatchSummary
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &sum))
	assert.Equal(t, "run-7", sum.RunID)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, int64(1500), sum.DurationMS)
	assert.Equal(t, "s3://reports/reports/run-7.json", sum.Location)
	require.Len(t, sum.Items, 2)
	assert.Equal(t, "doi:10.1038/nature14539", sum.Items[0].Key, "items are in input order")
	assert.Equal(t, "openalex", sum.Items[0].Source)
	assert.Equal(t, "doi:10.1038/nature14539", sum.Items[0].MatchID)
	assert.Equal(t, citation.StatusUnresolved, sum.Items[1].Status)
	runner.AssertExpectations(t)
}

func TestBatchCreate_Validation(t *testing.T) {
	tooMany := BatchRequest{Citations: make([]citation.Citation, maxBatchItems+1)}
	tests := []struct {
		name string
		body interface{}
	}{
		{"no citations", BatchRequest{RunID: "r"}},
		{"too many", tooMany},
		{"negative concurrency", BatchRequest{Citations: []citation.Citation{{Title: "x"}}, Concurrency: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockBatchRunner)
			h := NewBatchHandler(runner, nil)
			rec := httptest.NewRecorder()
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batches", jsonBody(t, tt.body)))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			runner.AssertNotCalled(t, "RunBatch", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestBatchCreate_RunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"run locked", errors.New(errors.ErrCodeRunLocked, "run is locked by another processor"), http.StatusConflict},
		{"checkpoint failed", errors.New(errors.ErrCodeCheckpointFailed, "checkpoint write failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockBatchRunner)
			runner.On("RunBatch", mock.Anything, mock.Anything, mock.Anything).Return(nil, "", tt.err)
			h := NewBatchHandler(runner, testutil.NewMockLogger())

			rec := httptest.NewRecorder()
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewBufferString(`{"citations":[{"title":"x"}]}`)))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, string(errors.GetCode(tt.err)), decodeEnvelope(t, rec).Error.Code)
		})
	}
}
