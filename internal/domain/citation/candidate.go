package citation

// MatchCandidate is a source-native bibliographic record returned by an
// adapter, with the source's own relevance score when it reports one.
type MatchCandidate struct {
	Source        string   `json:"source"`
	SourceID      string   `json:"source_id,omitempty"`
	Title         string   `json:"title,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	Year          int      `json:"year,omitempty"`
	Journal       string   `json:"journal,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	ArXivID       string   `json:"arxiv_id,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	CitationCount *int     `json:"citation_count,omitempty"`
	URL           string   `json:"url,omitempty"`
	SourceScore   float64  `json:"source_score,omitempty"`
}

// ToCitation maps the candidate to a Citation. It is pure.
func (m MatchCandidate) ToCitation() Citation {
	c := Citation{
		Title:    m.Title,
		Year:     m.Year,
		Journal:  m.Journal,
		Venue:    m.Venue,
		DOI:      NormalizeDOI(m.DOI),
		ArXivID:  NormalizeArXivID(m.ArXivID),
		Abstract: m.Abstract,
	}
	if len(m.Authors) > 0 {
		c.Authors = append([]string(nil), m.Authors...)
	}
	if m.CitationCount != nil {
		n := *m.CitationCount
		c.CitationCount = &n
	}
	c.BackupID = DeriveBackupID(c, m.Source, m.SourceID)
	return c
}

// Clone returns a deep copy.
func (m MatchCandidate) Clone() MatchCandidate {
	out := m
	if m.Authors != nil {
		out.Authors = append([]string(nil), m.Authors...)
	}
	if m.CitationCount != nil {
		n := *m.CitationCount
		out.CitationCount = &n
	}
	return out
}
