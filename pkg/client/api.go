package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/turtacn/citeresolve/pkg/errors"
)

const apiPrefix = "/api/v1"

// Resolve matches c against the configured sources.
func (c *Client) Resolve(ctx context.Context, in Citation) (*ResolveResponse, error) {
	body := map[string]interface{}{"citation": in}
	resp, _, err := call[ResolveResponse](ctx, c, http.MethodPost, apiPrefix+"/citations/resolve", body)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveExtraction resolves the loose extractor form. The server splits
// authors and parses the year.
func (c *Client) ResolveExtraction(ctx context.Context, in Extraction) (*ResolveResponse, error) {
	body := map[string]interface{}{"extraction": in}
	resp, _, err := call[ResolveResponse](ctx, c, http.MethodPost, apiPrefix+"/citations/resolve", body)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enrich fills empty fields of a citation that has a DOI or arXiv ID.
func (c *Client) Enrich(ctx context.Context, in Citation) (*EnrichResponse, error) {
	if in.DOI == "" && in.ArXivID == "" {
		return nil, errors.NewValidationError("doi", "a DOI or arXiv ID is required")
	}
	resp, _, err := call[EnrichResponse](ctx, c, http.MethodPost, apiPrefix+"/citations/enrich", in)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRecord fetches a stored resolution, e.g. "doi:10.1038/nature14539".
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.NewValidationError("id", "record ID is required")
	}
	rec, _, err := call[Record](ctx, c, http.MethodGet, apiPrefix+"/citations/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords pages through stored resolutions.
func (c *Client) ListRecords(ctx context.Context, opts ListOptions) (*RecordPage, error) {
	q := url.Values{}
	if opts.RunID != "" {
		q.Set("run_id", opts.RunID)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	path := apiPrefix + "/citations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	recs, pg, err := call[[]Record](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	page := &RecordPage{Records: recs}
	if pg != nil {
		page.Page, page.PageSize, page.Total = pg.Page, pg.PageSize, pg.Total
	}
	return page, nil
}

// RunBatch submits a batch and waits for it to finish.
func (c *Client) RunBatch(ctx context.Context, req BatchRequest) (*BatchSummary, error) {
	if len(req.Citations)+len(req.Extractions) == 0 {
		return nil, errors.NewValidationError("citations", "at least one citation is required")
	}
	sum, _, err := call[BatchSummary](ctx, c, http.MethodPost, apiPrefix+"/batches", req)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// Live reports process liveness.
func (c *Client) Live(ctx context.Context) (*Health, error) {
	return c.health(ctx, "/healthz")
}

// Ready reports dependency health. When a dependency is down the health
// report is returned together with a 503 APIError.
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	return c.health(ctx, "/readyz")
}

func (c *Client) health(ctx context.Context, path string) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "undecodable health response"}
	}
	if resp.StatusCode != http.StatusOK {
		return &h, &APIError{StatusCode: resp.StatusCode, Code: h.Status, Message: "service not ready"}
	}
	return &h, nil
}
