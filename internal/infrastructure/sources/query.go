package sources

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/citeresolve/internal/domain/citation"
)

// ArXivDOIPrefix is the DataCite prefix arXiv registers its DOIs under.
const ArXivDOIPrefix = citation.ArXivDOIPrefix

// BibliographicQuery builds free-text search input from the title, first
// author surname and year of c.
func BibliographicQuery(c citation.Citation) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(c.Title); t != "" {
		parts = append(parts, t)
	}
	if s := c.FirstAuthorSurname(); s != "" {
		parts = append(parts, s)
	}
	if c.Year > 0 {
		parts = append(parts, strconv.Itoa(c.Year))
	}
	return strings.Join(parts, " ")
}

// LookupDOI returns the DOI to query for id: the DOI itself, or the arXiv
// DataCite DOI for an arXiv identifier.
func LookupDOI(id citation.Identifier) string {
	switch id.Kind {
	case citation.IdentifierDOI:
		return citation.NormalizeDOI(id.Value)
	case citation.IdentifierArXiv:
		return citation.ArXivDOI(id.Value)
	}
	return ""
}

// ArXivFromDOI extracts the arXiv identifier from an arXiv DataCite DOI.
func ArXivFromDOI(doi string) string { return citation.ArXivFromDOI(doi) }

var (
	markupTag  = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// StripMarkup removes JATS/HTML tags and entities and collapses whitespace.
func StripMarkup(s string) string {
	s = markupTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
