// Package crossref adapts the Crossref REST API (api.crossref.org) to the
// resolution adapter contract.
package crossref

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources"
)

// Name is the source name reported on candidates.
const Name = "crossref"

// DefaultRows is the number of search results requested per query.
const DefaultRows = 5

// Adapter queries Crossref works.
type Adapter struct {
	client *sources.Client
	rows   int
	mailto string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRows sets the search result count.
func WithRows(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.rows = n
		}
	}
}

// WithMailto joins the Crossref polite pool.
func WithMailto(email string) Option {
	return func(a *Adapter) { a.mailto = email }
}

// New returns an Adapter over client.
func New(client *sources.Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, rows: DefaultRows}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

// Resolve looks the DOI up directly when c has one, then falls back to a
// bibliographic search.
func (a *Adapter) Resolve(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error) {
	if id := c.StrongIdentifier(); !id.IsZero() {
		m, err := a.lookup(ctx, sources.LookupDOI(id))
		if err != nil {
			return nil, err
		}
		if m != nil {
			return []citation.MatchCandidate{*m}, nil
		}
	}

	q := sources.BibliographicQuery(c)
	if q == "" {
		return nil, nil
	}
	params := a.params()
	params.Set("query.bibliographic", q)
	params.Set("rows", strconv.Itoa(a.rows))

	var resp listResponse
	if err := a.client.GetJSON(ctx, "/works", params, &resp); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]citation.MatchCandidate, 0, len(resp.Message.Items))
	for _, w := range resp.Message.Items {
		out = append(out, w.toCandidate())
	}
	return out, nil
}

// Enrich fetches the work registered under id. arXiv identifiers are looked
// up by their DataCite DOI.
func (a *Adapter) Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error) {
	doi := sources.LookupDOI(id)
	if doi == "" {
		return nil, nil
	}
	return a.lookup(ctx, doi)
}

func (a *Adapter) lookup(ctx context.Context, doi string) (*citation.MatchCandidate, error) {
	if doi == "" {
		return nil, nil
	}
	var resp itemResponse
	if err := a.client.GetJSON(ctx, "/works/"+url.PathEscape(doi), a.params(), &resp); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if resp.Message.DOI == "" && len(resp.Message.Title) == 0 {
		return nil, nil
	}
	m := resp.Message.toCandidate()
	return &m, nil
}

func (a *Adapter) params() url.Values {
	v := url.Values{}
	if a.mailto != "" {
		v.Set("mailto", a.mailto)
	}
	return v
}

type listResponse struct {
	Status  string `json:"status"`
	Message struct {
		TotalResults int    `json:"total-results"`
		Items        []work `json:"items"`
	} `json:"message"`
}

type itemResponse struct {
	Status  string `json:"status"`
	Message work   `json:"message"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func (d *dateParts) year() int {
	if d == nil || len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	return d.DateParts[0][0]
}

type work struct {
	DOI            string     `json:"DOI"`
	Title          []string   `json:"title"`
	ContainerTitle []string   `json:"container-title"`
	Type           string     `json:"type"`
	Abstract       string     `json:"abstract"`
	URL            string     `json:"URL"`
	Score          float64    `json:"score"`
	ReferencedBy   *int       `json:"is-referenced-by-count"`
	Issued         *dateParts `json:"issued"`
	PublishedPrint *dateParts `json:"published-print"`
	PublishedOnl   *dateParts `json:"published-online"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"author"`
	Event *struct {
		Name string `json:"name"`
	} `json:"event"`
}

func (w work) toCandidate() citation.MatchCandidate {
	m := citation.MatchCandidate{
		Source:        Name,
		SourceID:      w.DOI,
		DOI:           citation.NormalizeDOI(w.DOI),
		Abstract:      sources.StripMarkup(w.Abstract),
		URL:           w.URL,
		SourceScore:   w.Score,
		CitationCount: w.ReferencedBy,
		ArXivID:       sources.ArXivFromDOI(w.DOI),
	}
	if len(w.Title) > 0 {
		m.Title = strings.TrimSpace(w.Title[0])
	}
	if len(w.ContainerTitle) > 0 {
		if w.Type == "journal-article" {
			m.Journal = w.ContainerTitle[0]
		} else {
			m.Venue = w.ContainerTitle[0]
		}
	}
	if m.Venue == "" && w.Event != nil {
		m.Venue = w.Event.Name
	}
	for _, d := range []*dateParts{w.Issued, w.PublishedPrint, w.PublishedOnl} {
		if y := d.year(); y > 0 {
			m.Year = y
			break
		}
	}
	for _, au := range w.Author {
		name := strings.TrimSpace(strings.TrimSpace(au.Given) + " " + strings.TrimSpace(au.Family))
		if name == "" {
			name = strings.TrimSpace(au.Name)
		}
		if name != "" {
			m.Authors = append(m.Authors, name)
		}
	}
	return m
}
