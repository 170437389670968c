package openalex_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources/openalex"
)

const workJSON = `{
  "id": "https://openalex.org/W2963403868",
  "doi": "https://doi.org/10.5555/attn.2017",
  "title": "Attention Is All You Need",
  "publication_year": 2017,
  "cited_by_count": 50000,
  "relevance_score": 812.5,
  "authorships": [{"author": {"display_name": "Ashish Vaswani"}}, {"author": {"display_name": "Noam Shazeer"}}],
  "primary_location": {"landing_page_url": "https://example.org/attn", "source": {"display_name": "Neural Information Processing Systems", "type": "conference"}},
  "abstract_inverted_index": {"The": [0], "dominant": [1], "models": [3], "sequence": [2]}
}`

func newAdapter(t *testing.T, h http.HandlerFunc) *openalex.Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return openalex.New(sources.NewClient(openalex.Name, sources.WithBaseURL(srv.URL), sources.WithRateLimit(0, 1)),
		openalex.WithPerPage(2), openalex.WithMailto("ops@example.org"))
}

func TestAdapter_Resolve_Search(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/works", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Attention Is All You Need", q.Get("search"))
		assert.Equal(t, "2", q.Get("per-page"))
		assert.Equal(t, "publication_year:2016-2018", q.Get("filter"))
		assert.Equal(t, "ops@example.org", q.Get("mailto"))
		_, _ = w.Write([]byte(`{"meta":{"count":1},"results":[` + workJSON + `]}`))
	})

	got, err := a.Resolve(context.Background(), citation.Citation{Title: "Attention Is All You Need", Year: 2017})
	require.NoError(t, err)
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, "W2963403868", m.SourceID)
	assert.Equal(t, "10.5555/attn.2017", m.DOI)
	assert.Equal(t, "The dominant sequence models", m.Abstract)
	assert.Equal(t, "Neural Information Processing Systems", m.Venue)
	assert.Empty(t, m.Journal)
	assert.Equal(t, "https://example.org/attn", m.URL)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, m.Authors)
	assert.Equal(t, 50000, *m.CitationCount)

	c := m.ToCitation()
	assert.Empty(t, c.BackupID)
}

func TestAdapter_Resolve_EmptyTitleAndNoIdentifier(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL)
	})
	got, err := a.Resolve(context.Background(), citation.Citation{Authors: []string{"x"}})
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdapter_Enrich(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/works/doi:10.5555/attn.2017" {
			_, _ = w.Write([]byte(workJSON))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	m, err := a.Enrich(context.Background(), citation.Identifier{Kind: citation.IdentifierDOI, Value: "10.5555/ATTN.2017"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2017, m.Year)

	m, err = a.Enrich(context.Background(), citation.Identifier{Kind: citation.IdentifierDOI, Value: "10.1/unknown"})
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestAdapter_Enrich_AuthFailureIsUnavailable(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := a.Enrich(context.Background(), citation.Identifier{Kind: citation.IdentifierDOI, Value: "10.1/x"})
	assert.ErrorIs(t, err, sources.ErrAuth)
}

func TestReconstructAbstract(t *testing.T) {
	idx := map[string][]int{"not": {0}, "to": {1, 4}, "be": {2, 5}, "or": {3}}
	assert.Equal(t, "not to be or to be", openalex.ReconstructAbstract(idx))
	assert.Empty(t, openalex.ReconstructAbstract(nil))
}
