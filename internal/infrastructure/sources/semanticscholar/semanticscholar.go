// Package semanticscholar adapts the Semantic Scholar Graph API to the
// resolution adapter contract.
package semanticscholar

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources"
)

const (
	// Name is the source name reported on candidates.
	Name = "semanticscholar"

	// APIKeyHeader carries the optional partner API key.
	APIKeyHeader = "x-api-key"

	// DefaultLimit is the number of search results requested per query.
	DefaultLimit = 5

	// PaperFields are requested on every lookup.
	PaperFields = "paperId,title,authors,year,venue,journal,externalIds,abstract,citationCount,url"
)

type Adapter struct {
	client *sources.Client
	limit  int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLimit sets the search result count.
func WithLimit(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.limit = n
		}
	}
}

// New returns an Adapter. The client's base URL includes the /graph/v1 root.
func New(client *sources.Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, limit: DefaultLimit}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Resolve(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error) {
	if id := c.StrongIdentifier(); !id.IsZero() {
		m, err := a.Enrich(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return []citation.MatchCandidate{*m}, nil
		}
	}

	title := strings.TrimSpace(c.Title)
	if title == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("query", title)
	params.Set("limit", strconv.Itoa(a.limit))
	params.Set("fields", PaperFields)
	if c.Year > 0 {
		params.Set("year", strconv.Itoa(c.Year-1)+"-"+strconv.Itoa(c.Year+1))
	}

	var resp searchResponse
	if err := a.client.GetJSON(ctx, "/paper/search", params, &resp); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]citation.MatchCandidate, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, p.toCandidate())
	}
	return out, nil
}

// Enrich fetches the paper by DOI or arXiv identifier.
func (a *Adapter) Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error) {
	var key string
	switch id.Kind {
	case citation.IdentifierDOI:
		if doi := citation.NormalizeDOI(id.Value); doi != "" {
			key = "DOI:" + doi
		}
	case citation.IdentifierArXiv:
		if ax := citation.NormalizeArXivID(id.Value); ax != "" {
			key = "ARXIV:" + ax
		}
	}
	if key == "" {
		return nil, nil
	}

	var p paper
	params := url.Values{"fields": {PaperFields}}
	if err := a.client.GetJSON(ctx, "/paper/"+url.PathEscape(key), params, &p); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if p.PaperID == "" {
		return nil, nil
	}
	m := p.toCandidate()
	return &m, nil
}

type searchResponse struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Data   []paper `json:"data"`
}

type paper struct {
	PaperID       string `json:"paperId"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	Year          int    `json:"year"`
	Venue         string `json:"venue"`
	URL           string `json:"url"`
	CitationCount *int   `json:"citationCount"`
	Authors       []struct {
		AuthorID string `json:"authorId"`
		Name     string `json:"name"`
	} `json:"authors"`
	Journal *struct {
		Name string `json:"name"`
	} `json:"journal"`
	ExternalIDs struct {
		DOI   string `json:"DOI"`
		ArXiv string `json:"ArXiv"`
	} `json:"externalIds"`
}

func (p paper) toCandidate() citation.MatchCandidate {
	m := citation.MatchCandidate{
		Source:        Name,
		SourceID:      p.PaperID,
		Title:         p.Title,
		Year:          p.Year,
		Venue:         p.Venue,
		DOI:           citation.NormalizeDOI(p.ExternalIDs.DOI),
		ArXivID:       citation.NormalizeArXivID(p.ExternalIDs.ArXiv),
		Abstract:      p.Abstract,
		CitationCount: p.CitationCount,
		URL:           p.URL,
	}
	if p.Journal != nil {
		m.Journal = strings.TrimSpace(p.Journal.Name)
	}
	for _, au := range p.Authors {
		if n := strings.TrimSpace(au.Name); n != "" {
			m.Authors = append(m.Authors, n)
		}
	}
	return m
}
