package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// Resolver resolves one citation. *resolution.Chain implements it.
type Resolver interface {
	Resolve(ctx context.Context, c citation.Citation) (*citation.ResolutionResult, error)
}

// Enricher fills empty fields of an identified citation.
type Enricher interface {
	Enrich(ctx context.Context, c citation.Citation) (citation.Citation, resolution.EnrichmentReport)
}

// RecordReader looks up persisted resolution records.
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (*citation.Record, error)
	ListRecords(ctx context.Context, f citation.RecordFilter) ([]*citation.Record, int64, error)
}

const defaultPageSize = 50

// CitationHandler serves single-citation resolution, enrichment and record
// lookup.
type CitationHandler struct {
	resolver Resolver
	enricher Enricher
	records  RecordReader
	logger   logging.Logger
}

func NewCitationHandler(resolver Resolver, enricher Enricher, records RecordReader, logger logging.Logger) *CitationHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CitationHandler{resolver: resolver, enricher: enricher, records: records, logger: logger}
}

// ResolveRequest carries exactly one of a typed citation or a raw
// extraction.
type ResolveRequest struct {
	Citation   *citation.Citation           `json:"citation,omitempty"`
	Extraction *citation.CitationExtraction `json:"extraction,omitempty"`
}

func (req ResolveRequest) input() (citation.Citation, error) {
	switch {
	case req.Citation != nil && req.Extraction != nil:
		return citation.Citation{}, errors.NewValidationError("citation", "set either citation or extraction, not both")
	case req.Citation != nil:
		return *req.Citation, nil
	case req.Extraction != nil:
		return req.Extraction.ToCitation(), nil
	}
	return citation.Citation{}, errors.NewValidationError("citation", "citation or extraction is required")
}

// ResolveResponse pairs the result with the matched record in citation
// form.
type ResolveResponse struct {
	Result   *citation.ResolutionResult `json:"result"`
	Resolved *citation.Citation         `json:"resolved,omitempty"`
}

// Resolve handles POST /api/v1/citations/resolve.
func (h *CitationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	resp := ResolveResponse{Result: res}
	if out, ok := res.Resolved(in); ok {
		resp.Resolved = &out
	}
	writeData(w, r, http.StatusOK, resp)
}

// EnrichResponse is the enriched citation and what filled it.
type EnrichResponse struct {
	Citation citation.Citation           `json:"citation"`
	Report   resolution.EnrichmentReport `json:"report"`
}

// Enrich handles POST /api/v1/citations/enrich. The body is a citation that
// carries a DOI or arXiv ID.
func (h *CitationHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var in citation.Citation
	if err := decodeJSON(w, r, &in); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if in.StrongIdentifier().IsZero() {
		writeAppError(w, r, h.logger, errors.NewValidationError("doi", "a doi or arxiv_id is required for enrichment"))
		return
	}
	out, report := h.enricher.Enrich(r.Context(), in)
	writeData(w, r, http.StatusOK, EnrichResponse{Citation: out, Report: report})
}

// GetRecord handles GET /api/v1/citations/*. The remainder of the path is
// the item key, e.g. doi:10.1234/abc, which may contain slashes.
func (h *CitationHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.TrimSpace(id) == "" {
		writeAppError(w, r, h.logger, errors.NewValidationError("id", "a citation id is required"))
		return
	}
	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, rec)
}

// ListRecords handles GET /api/v1/citations. Query parameters run_id and
// status filter; page and page_size paginate.
func (h *CitationHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q, "page", 1)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	size, err := intParam(q, "page_size", defaultPageSize)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	pg := common.Pagination{Page: page, PageSize: size}
	if err := pg.Validate(); err != nil {
		writeAppError(w, r, h.logger, errors.NewValidationError("page", err.Error()))
		return
	}
	filter := citation.RecordFilter{
		RunID:  q.Get("run_id"),
		Status: citation.Status(strings.ToUpper(q.Get("status"))),
		Limit:  pg.PageSize,
		Offset: pg.Offset(),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeAppError(w, r, h.logger, errors.NewValidationError("status", "unknown status "+q.Get("status")))
		return
	}

	recs, total, err := h.records.ListRecords(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []*citation.Record{}
	}
	pg.Total = total
	resp := common.NewSuccessResponse(recs)
	resp.Pagination = &pg
	resp.RequestID = logging.RequestIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.NewValidationError(name, "must be an integer")
	}
	return n, nil
}
