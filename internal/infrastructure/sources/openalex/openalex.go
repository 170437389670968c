// Package openalex adapts the OpenAlex works API to the resolution adapter
// contract.
package openalex

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources"
)

const (
	// Name is the source name reported on candidates.
	Name = "openalex"

	// DefaultPerPage is the number of search results requested per query.
	DefaultPerPage = 5
)

// Adapter queries OpenAlex works.
type Adapter struct {
	client  *sources.Client
	perPage int
	mailto  string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPerPage sets the search result count.
func WithPerPage(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.perPage = n
		}
	}
}

// WithMailto joins the OpenAlex polite pool.
func WithMailto(email string) Option {
	return func(a *Adapter) { a.mailto = email }
}

func New(client *sources.Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, perPage: DefaultPerPage}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

// Resolve looks up a strong identifier first, then searches by title.
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
	params := a.params()
	params.Set("search", title)
	params.Set("per-page", strconv.Itoa(a.perPage))
	if c.Year > 0 {
		// Admit off-by-one publication years.
		params.Set("filter", "publication_year:"+strconv.Itoa(c.Year-1)+"-"+strconv.Itoa(c.Year+1))
	}

	var resp listResponse
	if err := a.client.GetJSON(ctx, "/works", params, &resp); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]citation.MatchCandidate, 0, len(resp.Results))
	for _, w := range resp.Results {
		out = append(out, w.toCandidate())
	}
	return out, nil
}

// Enrich fetches the work registered under id's DOI.
func (a *Adapter) Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error) {
	doi := sources.LookupDOI(id)
	if doi == "" {
		return nil, nil
	}
	var w work
	if err := a.client.GetJSON(ctx, "/works/doi:"+url.PathEscape(doi), a.params(), &w); err != nil {
		if sources.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if w.ID == "" {
		return nil, nil
	}
	m := w.toCandidate()
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
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []work `json:"results"`
}

type work struct {
	ID              string  `json:"id"`
	DOI             string  `json:"doi"`
	Title           string  `json:"title"`
	DisplayName     string  `json:"display_name"`
	PublicationYear int     `json:"publication_year"`
	CitedByCount    *int    `json:"cited_by_count"`
	RelevanceScore  float64 `json:"relevance_score"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation *struct {
		LandingPageURL string `json:"landing_page_url"`
		Source         *struct {
			DisplayName string `json:"display_name"`
			Type        string `json:"type"`
		} `json:"source"`
	} `json:"primary_location"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

func (w work) toCandidate() citation.MatchCandidate {
	m := citation.MatchCandidate{
		Source:        Name,
		SourceID:      strings.TrimPrefix(w.ID, "https://openalex.org/"),
		Title:         w.Title,
		Year:          w.PublicationYear,
		DOI:           citation.NormalizeDOI(w.DOI),
		ArXivID:       sources.ArXivFromDOI(w.DOI),
		Abstract:      ReconstructAbstract(w.AbstractInvertedIndex),
		CitationCount: w.CitedByCount,
		URL:           w.ID,
		SourceScore:   w.RelevanceScore,
	}
	if m.Title == "" {
		m.Title = w.DisplayName
	}
	for _, au := range w.Authorships {
		if n := strings.TrimSpace(au.Author.DisplayName); n != "" {
			m.Authors = append(m.Authors, n)
		}
	}
	if loc := w.PrimaryLocation; loc != nil {
		if loc.LandingPageURL != "" {
			m.URL = loc.LandingPageURL
		}
		if loc.Source != nil {
			if loc.Source.Type == "journal" {
				m.Journal = loc.Source.DisplayName
			} else {
				m.Venue = loc.Source.DisplayName
			}
		}
	}
	return m
}

// ReconstructAbstract rebuilds plain text from an OpenAlex inverted index
// (word -> positions).
func ReconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type token struct {
		pos  int
		word string
	}
	tokens := make([]token, 0, len(index)*2)
	for word, positions := range index {
		for _, p := range positions {
			tokens = append(tokens, token{pos: p, word: word})
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].pos != tokens[j].pos {
			return tokens[i].pos < tokens[j].pos
		}
		return tokens[i].word < tokens[j].word
	})
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	return strings.Join(words, " ")
}
