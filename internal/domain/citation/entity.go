// Package citation holds the bibliographic data model shared by resolution,
// enrichment and batch processing, together with the pure text normalizer and
// fuzzy matcher that operate on it.
package citation

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Citation is a bibliographic reference, either extracted from a document's
// reference list or describing the document itself.
type Citation struct {
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
	// Year is 0 when unknown.
	Year    int    `json:"year,omitempty"`
	Journal string `json:"journal,omitempty"`
	Venue   string `json:"venue,omitempty"`
	// DOI is bare, without a resolver prefix; see NormalizeDOI.
	DOI           string `json:"doi,omitempty"`
	ArXivID       string `json:"arxiv_id,omitempty"`
	Abstract      string `json:"abstract,omitempty"`
	CitationCount *int   `json:"citation_count,omitempty"`
	// BackupID is derived from a secondary identifier and never authoritative.
	BackupID           string `json:"backup_id,omitempty"`
	IsDocumentCitation bool   `json:"is_document_citation,omitempty"`
	RawText            string `json:"raw_text,omitempty"`
}

// IdentifierKind names the scheme of a strong identifier.
type IdentifierKind string

const (
	IdentifierDOI   IdentifierKind = "doi"
	IdentifierArXiv IdentifierKind = "arxiv"
)

// Identifier is a strong identifier used for enrichment lookups.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

func (id Identifier) String() string {
	if id.Value == "" {
		return ""
	}
	return string(id.Kind) + ":" + id.Value
}

// IsZero reports whether no identifier is set.
func (id Identifier) IsZero() bool { return id.Value == "" }

// StrongIdentifier returns the DOI when set, else the arXiv ID, else a zero
// Identifier.
func (c Citation) StrongIdentifier() Identifier {
	if doi := NormalizeDOI(c.DOI); doi != "" {
		return Identifier{Kind: IdentifierDOI, Value: doi}
	}
	if ax := NormalizeArXivID(c.ArXivID); ax != "" {
		return Identifier{Kind: IdentifierArXiv, Value: ax}
	}
	return Identifier{}
}

// PrimaryID returns "doi:<doi>" or "arxiv:<id>", or "" when the citation has
// neither. At most one identifier is authoritative and the DOI wins.
func (c Citation) PrimaryID() string {
	return c.StrongIdentifier().String()
}

// DeriveBackupID returns the identifier to record in BackupID for a citation
// whose DOI is absent. sourceID is a source-native record id, qualified by
// source ("s2", "openalex").
func DeriveBackupID(c Citation, source, sourceID string) string {
	if NormalizeDOI(c.DOI) != "" {
		return ""
	}
	if ax := NormalizeArXivID(c.ArXivID); ax != "" {
		return "arxiv:" + ax
	}
	if sourceID == "" {
		return ""
	}
	switch source {
	case "semanticscholar":
		return "s2:" + sourceID
	case "openalex":
		return "openalex:" + strings.TrimPrefix(sourceID, "https://openalex.org/")
	default:
		return source + ":" + sourceID
	}
}

// HasMatchableFields reports whether the citation carries a title or a strong
// identifier. Citations without either are malformed for resolution.
func (c Citation) HasMatchableFields() bool {
	return strings.TrimSpace(c.Title) != "" || !c.StrongIdentifier().IsZero()
}

// FirstAuthorSurname returns the normalized surname of the first author.
func (c Citation) FirstAuthorSurname() string {
	for _, a := range c.Authors {
		if s := AuthorSurname(a); s != "" {
			return s
		}
	}
	return ""
}

// DedupKey is normalized title, first-author surname and year bucket joined
// by "|". Citations that share a key are resolved at most once per cache
// lifetime.
func (c Citation) DedupKey() string {
	year := "unknown"
	if c.Year > 0 {
		year = strconv.Itoa(c.Year)
	}
	return NormalizeText(c.Title) + "|" + c.FirstAuthorSurname() + "|" + year
}

// ItemKey identifies a citation within a batch: its PrimaryID, or
// "hash:<sha1 of dedup key and raw text>" when it has no strong identifier.
func (c Citation) ItemKey() string {
	if id := c.PrimaryID(); id != "" {
		return id
	}
	sum := sha1.Sum([]byte(c.DedupKey() + "\x00" + c.RawText))
	return "hash:" + hex.EncodeToString(sum[:])
}

// VenueOrJournal returns Journal when set, else Venue.
func (c Citation) VenueOrJournal() string {
	if strings.TrimSpace(c.Journal) != "" {
		return c.Journal
	}
	return c.Venue
}

// Clone returns a deep copy.
func (c Citation) Clone() Citation {
	out := c
	if c.Authors != nil {
		out.Authors = append([]string(nil), c.Authors...)
	}
	if c.CitationCount != nil {
		n := *c.CitationCount
		out.CitationCount = &n
	}
	return out
}

// IntPtr is a helper for optional counts.
func IntPtr(n int) *int { return &n }
