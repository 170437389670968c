package citation

import (
	"fmt"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	// NeutralScore is the sub-score for a field present on only one side.
	NeutralScore = 0.5
	// DefaultConflictCap bounds the score of a pair whose DOIs or arXiv IDs
	// disagree.
	DefaultConflictCap = 0.25
)

// Weights are the per-field contributions to the combined score.
type Weights struct {
	Title   float64 `json:"title"`
	Authors float64 `json:"authors"`
	Year    float64 `json:"year"`
	Journal float64 `json:"journal"`
}

// DefaultWeights weights title highest, then authors, then year and journal.
func DefaultWeights() Weights {
	return Weights{Title: 0.5, Authors: 0.3, Year: 0.1, Journal: 0.1}
}

// Validate rejects negative weights and an all-zero set.
func (w Weights) Validate() error {
	if w.Title < 0 || w.Authors < 0 || w.Year < 0 || w.Journal < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if w.sum() <= 0 {
		return fmt.Errorf("weights must have a positive sum")
	}
	return nil
}

// Normalize scales the weights to sum to 1. An invalid set yields
// DefaultWeights.
func (w Weights) Normalize() Weights {
	if w.Validate() != nil {
		return DefaultWeights()
	}
	s := w.sum()
	return Weights{Title: w.Title / s, Authors: w.Authors / s, Year: w.Year / s, Journal: w.Journal / s}
}

func (w Weights) sum() float64 { return w.Title + w.Authors + w.Year + w.Journal }

// FieldOutcome says how a field took part in scoring.
type FieldOutcome string

const (
	// FieldCompared means both sides had the field.
	FieldCompared FieldOutcome = "compared"
	// FieldNeutral means one side lacked the field; it scored NeutralScore.
	FieldNeutral FieldOutcome = "neutral"
	// FieldSkipped means both sides lacked the field; it carried no weight.
	FieldSkipped FieldOutcome = "skipped"
)

// FieldScore is one field's contribution.
type FieldScore struct {
	Score   float64      `json:"score"`
	Weight  float64      `json:"weight"`
	Outcome FieldOutcome `json:"outcome"`
}

// IdentifierCheck records a DOI or arXiv ID present on both sides.
type IdentifierCheck struct {
	Kind  IdentifierKind `json:"kind"`
	Match bool           `json:"match"`
}

// Explanation is the per-field breakdown behind a combined score.
type Explanation struct {
	Title   FieldScore `json:"title"`
	Authors FieldScore `json:"authors"`
	Year    FieldScore `json:"year"`
	Journal FieldScore `json:"journal"`
	// Identifier is set when both sides carry a comparable identifier. A
	// match scores 1.0; a conflict caps the score.
	Identifier *IdentifierCheck `json:"identifier,omitempty"`
	Score      float64          `json:"score"`
}

func (e Explanation) String() string {
	s := fmt.Sprintf("score=%.3f title=%.3f(%s) authors=%.3f(%s) year=%.3f(%s) journal=%.3f(%s)",
		e.Score, e.Title.Score, e.Title.Outcome, e.Authors.Score, e.Authors.Outcome,
		e.Year.Score, e.Year.Outcome, e.Journal.Score, e.Journal.Outcome)
	if e.Identifier != nil {
		s += fmt.Sprintf(" %s_match=%t", e.Identifier.Kind, e.Identifier.Match)
	}
	return s
}

// CalculateFuzzyScore compares two records field by field with
// DefaultWeights. See Matcher.Score.
func CalculateFuzzyScore(title1, title2 string, authors1, authors2 []string, year1, year2 int, journal1, journal2 string) (float64, Explanation) {
	return calculate(DefaultWeights().Normalize(), title1, title2, authors1, authors2, year1, year2, journal1, journal2)
}

// Matcher scores citation pairs with a fixed weight set.
type Matcher struct {
	weights     Weights
	conflictCap float64
}

// NewMatcher returns a Matcher using w normalized to sum to 1.
func NewMatcher(w Weights) *Matcher {
	return &Matcher{weights: w.Normalize(), conflictCap: DefaultConflictCap}
}

// WithConflictCap returns a copy of m that caps conflicting-identifier
// pairs at c. Values outside [0,1] are ignored.
func (m *Matcher) WithConflictCap(c float64) *Matcher {
	out := *m
	if c >= 0 && c <= 1 {
		out.conflictCap = c
	}
	return &out
}

// Weights returns the normalized weights in use.
func (m *Matcher) Weights() Weights { return m.weights }

// Score compares a and b. The result is in [0,1], symmetric, and exactly 1.0
// for a non-empty citation compared with itself.
//
// Identifiers outrank text: an equal DOI or arXiv ID on both sides scores
// 1.0, and identifiers that disagree cap the text score at the conflict cap.
func (m *Matcher) Score(a, b Citation) (float64, Explanation) {
	_, exp := calculate(m.weights, a.Title, b.Title, a.Authors, b.Authors, a.Year, b.Year,
		a.VenueOrJournal(), b.VenueOrJournal())
	if chk := compareIdentifiers(a, b); chk != nil {
		exp.Identifier = chk
		switch {
		case chk.Match:
			exp.Score = 1.0
		case exp.Score > m.conflictCap:
			exp.Score = m.conflictCap
		}
	}
	return exp.Score, exp
}

// compareIdentifiers checks the DOIs and then the arXiv IDs present on both
// sides. Any equal pair is a match; otherwise the first differing kind is a
// conflict. nil means no identifier was comparable.
func compareIdentifiers(a, b Citation) *IdentifierCheck {
	var conflict *IdentifierCheck
	if d1, d2 := NormalizeDOI(a.DOI), NormalizeDOI(b.DOI); d1 != "" && d2 != "" {
		if d1 == d2 {
			return &IdentifierCheck{Kind: IdentifierDOI, Match: true}
		}
		conflict = &IdentifierCheck{Kind: IdentifierDOI}
	}
	if x1, x2 := arxivKey(a), arxivKey(b); x1 != "" && x2 != "" {
		if x1 == x2 {
			return &IdentifierCheck{Kind: IdentifierArXiv, Match: true}
		}
		if conflict == nil {
			conflict = &IdentifierCheck{Kind: IdentifierArXiv}
		}
	}
	return conflict
}

// arxivKey is the lowercased arXiv ID of c, taken from its arXiv DataCite
// DOI when the ID itself is absent.
func arxivKey(c Citation) string {
	if ax := NormalizeArXivID(c.ArXivID); ax != "" {
		return strings.ToLower(ax)
	}
	return ArXivFromDOI(c.DOI)
}

func calculate(w Weights, title1, title2 string, authors1, authors2 []string, year1, year2 int, journal1, journal2 string) (float64, Explanation) {
	var exp Explanation

	t1, t2 := NormalizeText(title1), NormalizeText(title2)
	exp.Title = fieldScore(w.Title, t1 != "", t2 != "", func() float64 { return stringSimilarity(t1, t2) })

	a1, a2 := normalizeAuthors(authors1), normalizeAuthors(authors2)
	exp.Authors = fieldScore(w.Authors, len(a1) > 0, len(a2) > 0, func() float64 { return authorSimilarity(a1, a2) })

	exp.Year = fieldScore(w.Year, year1 > 0, year2 > 0, func() float64 { return yearSimilarity(year1, year2) })

	j1, j2 := NormalizeText(journal1), NormalizeText(journal2)
	exp.Journal = fieldScore(w.Journal, j1 != "", j2 != "", func() float64 { return stringSimilarity(j1, j2) })

	var num, den float64
	for _, f := range []FieldScore{exp.Title, exp.Authors, exp.Year, exp.Journal} {
		if f.Outcome == FieldSkipped {
			continue
		}
		num += f.Weight * f.Score
		den += f.Weight
	}
	if den == 0 {
		return 0, exp
	}
	exp.Score = clamp01(num / den)
	return exp.Score, exp
}

func fieldScore(weight float64, has1, has2 bool, compare func() float64) FieldScore {
	switch {
	case has1 && has2:
		return FieldScore{Score: clamp01(compare()), Weight: weight, Outcome: FieldCompared}
	case has1 || has2:
		return FieldScore{Score: NeutralScore, Weight: weight, Outcome: FieldNeutral}
	default:
		return FieldScore{Weight: weight, Outcome: FieldSkipped}
	}
}

// stringSimilarity is the Levenshtein ratio over runes of two normalized
// strings.
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(maxLen)
}

func yearSimilarity(y1, y2 int) float64 {
	switch diff := y1 - y2; {
	case diff == 0:
		return 1.0
	case diff == 1 || diff == -1:
		return 0.5
	default:
		return 0
	}
}

func normalizeAuthors(authors []string) []parsedAuthor {
	out := make([]parsedAuthor, 0, len(authors))
	for _, a := range authors {
		if p := parseAuthor(a); p.surname != "" {
			out = append(out, p)
		}
	}
	return out
}

// authorSimilarity pairs every name of the shorter list with its best
// counterpart in the longer one and averages over the shorter list, so a
// reference that lists only its first author ("Vaswani et al.") still
// matches the full author list. Equal-length lists are scored in both
// directions and averaged, which keeps the result symmetric.
func authorSimilarity(a, b []parsedAuthor) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	switch {
	case len(a) < len(b):
		return bestMatchMean(a, b)
	case len(b) < len(a):
		return bestMatchMean(b, a)
	default:
		return (bestMatchMean(a, b) + bestMatchMean(b, a)) / 2
	}
}

// bestMatchMean averages, over query, each name's best similarity in pool.
func bestMatchMean(query, pool []parsedAuthor) float64 {
	var sum float64
	for _, q := range query {
		best := 0.0
		for _, p := range pool {
			best = math.Max(best, nameSimilarity(q, p))
		}
		sum += best
	}
	return sum / float64(len(query))
}

// nameSimilarity requires equal surnames. Matching first initials, or equal
// initials lists, earn full credit; a surname-only match on one side earns
// 0.7; conflicting first initials earn 0.3.
func nameSimilarity(a, b parsedAuthor) float64 {
	if a.surname != b.surname {
		return 0
	}
	switch {
	case len(a.initials) == 0 && len(b.initials) == 0:
		return 1.0
	case len(a.initials) == 0 || len(b.initials) == 0:
		return 0.7
	case a.initials[0] == b.initials[0]:
		return 1.0
	default:
		return 0.3
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

