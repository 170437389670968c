package citation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes a title, journal or name for comparison:
// lowercase, diacritics stripped, punctuation replaced by spaces, whitespace
// collapsed. Hyphens survive only between two letters ("state-of-the-art").
// Apostrophes are dropped so "O'Brien" and "OBrien" compare equal.
//
// NormalizeText is total and idempotent.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	decomposed := norm.NFD.String(strings.ToLower(s))

	runes := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		runes = append(runes, r)
	}

	var sb strings.Builder
	sb.Grow(len(runes))
	pendingSpace := false
	emit := func(r rune) {
		if pendingSpace && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		pendingSpace = false
		sb.WriteRune(r)
	}

	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			emit(r)
		case isApostrophe(r):
		case unicode.Is(unicode.Pd, r):
			if i > 0 && i+1 < len(runes) && !pendingSpace &&
				unicode.IsLetter(runes[i-1]) && unicode.IsLetter(runes[i+1]) {
				emit('-')
			} else {
				pendingSpace = true
			}
		default:
			pendingSpace = true
		}
	}
	return sb.String()
}

func isApostrophe(r rune) bool {
	switch r {
	case '\'', '’', '‘', 'ʼ', '`':
		return true
	}
	return false
}

var authorSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
}

var surnameParticles = map[string]bool{
	"van": true, "von": true, "de": true, "der": true, "den": true, "da": true,
	"di": true, "del": true, "della": true, "du": true, "la": true, "le": true,
	"dos": true, "das": true, "ter": true, "ten": true, "bin": true, "al": true,
}

// parsedAuthor is a name split into given-name initials and a surname, both
// normalized.
type parsedAuthor struct {
	initials []string
	surname  string
}

func (p parsedAuthor) String() string {
	if len(p.initials) == 0 {
		return p.surname
	}
	if p.surname == "" {
		return strings.Join(p.initials, " ")
	}
	return strings.Join(p.initials, " ") + " " + p.surname
}

// NormalizeAuthor canonicalizes an author name to "initials surname" form:
//
//	"Vaswani, Ashish"       -> "a vaswani"
//	"Ashish Vaswani"        -> "a vaswani"
//	"Vaswani A"             -> "a vaswani"
//	"García-Márquez, G."    -> "g garcia-marquez"
//	"Martin Luther King Jr" -> "m l king"
//
// Initials are for comparison only, never for display.
func NormalizeAuthor(s string) string {
	return parseAuthor(s).String()
}

// AuthorSurname returns the normalized surname of an author string.
func AuthorSurname(s string) string {
	return parseAuthor(s).surname
}

func parseAuthor(raw string) parsedAuthor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return parsedAuthor{}
	}

	if idx := strings.Index(raw, ","); idx >= 0 {
		last := raw[:idx]
		given := strings.ReplaceAll(raw[idx+1:], ",", " ")
		surname := dropSuffixes(strings.Fields(NormalizeText(last)))
		return parsedAuthor{
			initials: givenInitials(strings.Fields(given)),
			surname:  strings.Join(surname, " "),
		}
	}

	fields := strings.Fields(raw)
	// "Vaswani A" / "Smith JR": trailing all-caps initials follow the surname.
	if len(fields) >= 2 && isInitialsToken(fields[len(fields)-1]) {
		split := len(fields) - 1
		for split > 1 && isInitialsToken(fields[split-1]) {
			split--
		}
		surname := dropSuffixes(strings.Fields(NormalizeText(strings.Join(fields[:split], " "))))
		if len(surname) > 0 {
			return parsedAuthor{
				initials: givenInitials(fields[split:]),
				surname:  strings.Join(surname, " "),
			}
		}
	}

	tokens := dropSuffixes(strings.Fields(NormalizeText(raw)))
	if len(tokens) == 0 {
		return parsedAuthor{}
	}
	start := len(tokens) - 1
	for start > 1 && surnameParticles[tokens[start-1]] {
		start--
	}
	given := tokens[:start]
	var initials []string
	for _, g := range given {
		initials = append(initials, tokenInitials(g)...)
	}
	return parsedAuthor{initials: initials, surname: strings.Join(tokens[start:], " ")}
}

// isInitialsToken matches "A", "AB", "A.", "A.B." style tokens as written in
// the original (case-sensitive) string.
func isInitialsToken(tok string) bool {
	if authorSuffixes[NormalizeText(tok)] {
		return false
	}
	letters := 0
	for _, r := range tok {
		switch {
		case r == '.':
		case unicode.IsUpper(r):
			letters++
		default:
			return false
		}
	}
	return letters >= 1 && letters <= 3
}

func givenInitials(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		if isInitialsToken(tok) {
			for _, r := range NormalizeText(tok) {
				if unicode.IsLetter(r) {
					out = append(out, string(r))
				}
			}
			continue
		}
		for _, t := range dropSuffixes(strings.Fields(NormalizeText(tok))) {
			out = append(out, tokenInitials(t)...)
		}
	}
	return out
}

// tokenInitials returns one initial per hyphen-separated part.
func tokenInitials(tok string) []string {
	var out []string
	for _, part := range strings.Split(tok, "-") {
		for _, r := range part {
			out = append(out, string(r))
			break
		}
	}
	return out
}

func dropSuffixes(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if !authorSuffixes[t] {
			out = append(out, t)
		}
	}
	return out
}

var (
	doiPrefixes = []string{
		"https://doi.org/", "http://doi.org/", "https://dx.doi.org/",
		"http://dx.doi.org/", "doi.org/", "dx.doi.org/", "doi:",
	}
	arxivVersion = regexp.MustCompile(`v\d+$`)
)

// NormalizeDOI strips resolver prefixes and lowercases. DOIs are case
// insensitive.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	lower := strings.ToLower(doi)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			lower = strings.TrimSpace(lower[len(p):])
			break
		}
	}
	return lower
}

// ArXivDOIPrefix is the DataCite prefix arXiv registers its DOIs under.
const ArXivDOIPrefix = "10.48550/arxiv."

// ArXivDOI returns the DataCite DOI arXiv registered for id, or "".
func ArXivDOI(id string) string {
	if ax := NormalizeArXivID(id); ax != "" {
		return ArXivDOIPrefix + strings.ToLower(ax)
	}
	return ""
}

// ArXivFromDOI extracts the arXiv identifier from an arXiv DataCite DOI.
func ArXivFromDOI(doi string) string {
	doi = NormalizeDOI(doi)
	if strings.HasPrefix(doi, ArXivDOIPrefix) {
		return doi[len(ArXivDOIPrefix):]
	}
	return ""
}

// NormalizeArXivID strips "arXiv:" and abs/pdf URL prefixes and a trailing
// version suffix: "https://arxiv.org/abs/1706.03762v5" -> "1706.03762".
func NormalizeArXivID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	lower := strings.ToLower(id)
	for _, p := range []string{"https://arxiv.org/abs/", "http://arxiv.org/abs/",
		"https://arxiv.org/pdf/", "http://arxiv.org/pdf/", "arxiv.org/abs/", "arxiv:"} {
		if strings.HasPrefix(lower, p) {
			id = id[len(p):]
			break
		}
	}
	id = strings.TrimSuffix(id, ".pdf")
	return arxivVersion.ReplaceAllString(strings.TrimSpace(id), "")
}
