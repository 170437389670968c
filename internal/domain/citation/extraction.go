package citation

import (
	"strconv"
	"strings"
)

// CitationExtraction is the loosely typed output of the extraction step.
// Authors arrives as one ";"-delimited string and Year as free text.
type CitationExtraction struct {
	Title              string `json:"title"`
	Authors            string `json:"authors"`
	Year               string `json:"year"`
	Journal            string `json:"journal"`
	Venue              string `json:"venue"`
	DOI                string `json:"doi"`
	ArXivID            string `json:"arxiv_id"`
	Abstract           string `json:"abstract"`
	IsDocumentCitation bool   `json:"is_document_citation"`
	RawText            string `json:"raw_text"`
}

// ToCitation converts the extraction to a Citation.
//
// Authors are split on ";" and each element is kept exactly as the split
// produced it, so every element after the first usually carries a leading
// space ("Vaswani; Shazeer" -> ["Vaswani", " Shazeer"]). Stored records
// depend on this form; use SplitAuthorsTrimmed for display or comparison.
func (e CitationExtraction) ToCitation() Citation {
	c := Citation{
		Title:              e.Title,
		Year:               parseYear(e.Year),
		Journal:            e.Journal,
		Venue:              e.Venue,
		DOI:                NormalizeDOI(e.DOI),
		ArXivID:            NormalizeArXivID(e.ArXivID),
		Abstract:           e.Abstract,
		IsDocumentCitation: e.IsDocumentCitation,
		RawText:            e.RawText,
	}
	if e.Authors != "" {
		c.Authors = strings.Split(e.Authors, ";")
	}
	if c.DOI == "" && c.ArXivID != "" {
		c.BackupID = "arxiv:" + c.ArXivID
	}
	return c
}

// SplitAuthorsTrimmed splits a ";"-delimited author string, trims each
// element and drops empties.
func SplitAuthorsTrimmed(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseYear extracts the first plausible four-digit year, returning 0 when
// none is found.
func parseYear(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1000 && n <= 2999 {
			return n
		}
		return 0
	}
	runes := []rune(s)
	for i := 0; i+4 <= len(runes); i++ {
		if i > 0 && isDigit(runes[i-1]) {
			continue
		}
		if i+4 < len(runes) && isDigit(runes[i+4]) {
			continue
		}
		chunk := string(runes[i : i+4])
		if n, err := strconv.Atoi(chunk); err == nil && n >= 1000 && n <= 2999 {
			return n
		}
	}
	return 0
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
