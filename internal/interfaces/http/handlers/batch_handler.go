package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// maxBatchItems caps the inputs of one synchronous batch request.
const maxBatchItems = 1000

// BatchRunner runs and finishes one batch. *bootstrap.Container implements
// it.
type BatchRunner interface {
	RunBatch(ctx context.Context, opts batch.RunOptions, citations []citation.Citation) (*batch.BatchReport, string, error)
}

// BatchHandler runs batches synchronously within the request.
type BatchHandler struct {
	runner BatchRunner
	logger logging.Logger
}

func NewBatchHandler(runner BatchRunner, logger logging.Logger) *BatchHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BatchHandler{runner: runner, logger: logger}
}

// BatchRequest is the body of POST /api/v1/batches. Citations and
// extractions are concatenated in that order.
type BatchRequest struct {
	RunID       string                        `json:"run_id,omitempty"`
	Citations   []citation.Citation           `json:"citations,omitempty"`
	Extractions []citation.CitationExtraction `json:"extractions,omitempty"`
	Concurrency int                           `json:"concurrency,omitempty"`
	Enrich      *bool                         `json:"enrich,omitempty"`
}

func (req BatchRequest) inputs() ([]citation.Citation, error) {
	n := len(req.Citations) + len(req.Extractions)
	switch {
	case n == 0:
		return nil, errors.NewValidationError("citations", "at least one citation is required")
	case n > maxBatchItems:
		return nil, errors.NewValidationError("citations", "too many citations in one request")
	case req.Concurrency < 0:
		return nil, errors.NewValidationError("concurrency", "must not be negative")
	}
	out := make([]citation.Citation, 0, n)
	out = append(out, req.Citations...)
	for _, e := range req.Extractions {
		out = append(out, e.ToCitation())
	}
	return out, nil
}

// BatchItem is one item of a BatchSummary.
type BatchItem struct {
	Key   string `json:"key"`
	Index int    `json:"index"`
	batch.ItemOutcome
	Resolved *citation.Citation `json:"resolved,omitempty"`
	Resumed  bool               `json:"resumed,omitempty"`
}

// BatchSummary is the response of POST /api/v1/batches.
type BatchSummary struct {
	RunID      string                  `json:"run_id"`
	Total      int                     `json:"total"`
	Duplicates int                     `json:"duplicates"`
	Counts     map[citation.Status]int `json:"counts"`
	Cancelled  bool                    `json:"cancelled"`
	// Location is where the full report was archived, if anywhere.
	Location   string              `json:"location,omitempty"`
	DurationMS int64               `json:"duration_ms"`
	Stats      batch.StatsSnapshot `json:"stats"`
	Items      []BatchItem         `json:"items"`
}

// NewBatchSummary flattens report into input order.
func NewBatchSummary(report *batch.BatchReport, location string) BatchSummary {
	s := BatchSummary{
		RunID:      report.RunID,
		Total:      report.Total(),
		Duplicates: report.Duplicates,
		Counts:     report.Counts,
		Cancelled:  report.Cancelled,
		Location:   location,
		DurationMS: report.Duration().Milliseconds(),
		Stats:      report.Stats,
		Items:      make([]BatchItem, 0, len(report.Items)),
	}
	for _, item := range report.Items {
		s.Items = append(s.Items, BatchItem{
			Key:         item.Key,
			Index:       item.Index,
			ItemOutcome: item.Outcome(),
			Resolved:    item.Resolved,
			Resumed:     item.Resumed,
		})
	}
	sort.Slice(s.Items, func(i, j int) bool { return s.Items[i].Index < s.Items[j].Index })
	return s
}

// Create handles POST /api/v1/batches. Reusing a run_id resumes that run.
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	inputs, err := req.inputs()
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	opts := batch.RunOptions{RunID: req.RunID, Concurrency: req.Concurrency, Enrich: req.Enrich}
	report, location, err := h.runner.RunBatch(r.Context(), opts, inputs)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	h.logger.WithContext(r.Context()).Info("batch request completed",
		logging.String(logging.FieldRunID, report.RunID),
		logging.Int("total", report.Total()),
		logging.Int("resolved", report.ResolvedCount()))
	writeData(w, r, http.StatusOK, NewBatchSummary(report, location))
}
