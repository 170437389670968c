package citation

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attentionPaper() Citation {
	return Citation{
		Title:   "Attention Is All You Need",
		Authors: []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar", "Jakob Uszkoreit"},
		Year:    2017,
		Journal: "Advances in Neural Information Processing Systems",
	}
}

func TestMatcher_Reflexive(t *testing.T) {
	m := NewMatcher(DefaultWeights())
	cases := []Citation{
		attentionPaper(),
		{Title: "Deep Residual Learning for Image Recognition"},
		{Title: "x", Year: 1999},
		{Authors: []string{"Knuth, D. E."}, Journal: "Computer Journal"},
		{Title: "Ünïcödé tïtlé", Authors: []string{"Müller, J.", " Østergaard, K."}, Venue: "ICML"},
	}
	for _, c := range cases {
		score, exp := m.Score(c, c)
		assert.Equal(t, 1.0, score, "citation %+v", c)
		assert.Equal(t, score, exp.Score)
	}
}

func TestMatcher_Symmetric(t *testing.T) {
	m := NewMatcher(Weights{Title: 0.6, Authors: 0.2, Year: 0.15, Journal: 0.05})
	pairs := [][2]Citation{
		{attentionPaper(), {Title: "Attention is all you need", Authors: []string{"Vaswani"}, Year: 2017}},
		{attentionPaper(), {Title: "Attention Is All We Need", Authors: []string{"A. Vaswani", "N. Shazeer"}, Year: 2018}},
		{{Title: "Graph networks"}, {Title: "Graph neural networks", Venue: "NeurIPS"}},
		{{Authors: []string{"Smith, J", "Doe, A"}}, {Authors: []string{"Doe, B", "Smith, John"}}},
		{{Title: "a"}, {Year: 2001}},
	}
	for _, p := range pairs {
		ab, _ := m.Score(p[0], p[1])
		ba, _ := m.Score(p[1], p[0])
		assert.Equal(t, ab, ba, "%q vs %q", p[0].Title, p[1].Title)
	}
}

func TestCalculateFuzzyScore_Bounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcé -ÅΩ,.'xyz")
	randStr := func() string {
		n := rng.Intn(20)
		out := make([]rune, n)
		for i := range out {
			out[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(out)
	}
	randAuthors := func() []string {
		out := make([]string, rng.Intn(4))
		for i := range out {
			out[i] = randStr()
		}
		return out
	}
	for i := 0; i < 500; i++ {
		score, _ := CalculateFuzzyScore(randStr(), randStr(), randAuthors(), randAuthors(),
			rng.Intn(3)+2000*rng.Intn(2), rng.Intn(3)+2000*rng.Intn(2), randStr(), randStr())
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 1.0)
	}
}

func TestMatcher_CorruptionNeverRaisesScore(t *testing.T) {
	m := NewMatcher(DefaultWeights())
	ref := attentionPaper()
	query := Citation{Title: ref.Title, Authors: []string{"Vaswani"}, Year: 2017}
	base, _ := m.Score(query, ref)

	typoTitle := query
	typoTitle.Title = "Attention Is All You Nead"
	s, _ := m.Score(typoTitle, ref)
	assert.Less(t, s, base)

	wrongYear := query
	wrongYear.Year = 2016
	s, _ = m.Score(wrongYear, ref)
	assert.Less(t, s, base)

	wrongAuthor := query
	wrongAuthor.Authors = []string{"Vaswami"}
	s, _ = m.Score(wrongAuthor, ref)
	assert.Less(t, s, base)
}

func TestMatcher_PartialReferenceClearsConfidentThreshold(t *testing.T) {
	m := NewMatcher(DefaultWeights())
	query := Citation{Title: "Attention Is All You Need", Authors: []string{"Vaswani"}, Year: 2017}

	score, exp := m.Score(query, attentionPaper())

	assert.InDelta(t, 0.86, score, 1e-9)
	assert.GreaterOrEqual(t, score, 0.85)
	assert.Equal(t, FieldCompared, exp.Title.Outcome)
	assert.InDelta(t, 0.7, exp.Authors.Score, 1e-12)
	assert.Equal(t, FieldNeutral, exp.Journal.Outcome)
	assert.Equal(t, NeutralScore, exp.Journal.Score)
}

func TestCalculateFuzzyScore_MissingFields(t *testing.T) {
	t.Run("missing on both sides is skipped", func(t *testing.T) {
		score, exp := CalculateFuzzyScore("deep learning", "deep learning", nil, nil, 0, 0, "", "")
		assert.Equal(t, 1.0, score)
		assert.Equal(t, FieldSkipped, exp.Authors.Outcome)
		assert.Equal(t, FieldSkipped, exp.Year.Outcome)
	})
	t.Run("missing on one side is neutral", func(t *testing.T) {
		score, exp := CalculateFuzzyScore("deep learning", "deep learning", nil, nil, 2015, 0, "", "")
		assert.Equal(t, FieldNeutral, exp.Year.Outcome)
		assert.InDelta(t, (0.5+0.1*0.5)/0.6, score, 1e-9)
	})
	t.Run("nothing to compare", func(t *testing.T) {
		score, _ := CalculateFuzzyScore("", "", nil, nil, 0, 0, "", "")
		assert.Equal(t, 0.0, score)
	})
	t.Run("missing year alone does not make a match unmatchable", func(t *testing.T) {
		score, _ := CalculateFuzzyScore("Attention Is All You Need", "Attention is all you need",
			[]string{"Vaswani, A."}, []string{"Ashish Vaswani"}, 0, 2017, "", "")
		assert.Greater(t, score, 0.85)
	})
}

func TestYearSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, yearSimilarity(2017, 2017))
	assert.Equal(t, 0.5, yearSimilarity(2017, 2018))
	assert.Equal(t, 0.5, yearSimilarity(2018, 2017))
	assert.Equal(t, 0.0, yearSimilarity(2017, 2019))
}

func TestNameSimilarity(t *testing.T) {
	p := parseAuthor
	assert.Equal(t, 1.0, nameSimilarity(p("Vaswani, A."), p("Ashish Vaswani")))
	assert.Equal(t, 1.0, nameSimilarity(p("Vaswani"), p("vaswani")))
	assert.Equal(t, 0.7, nameSimilarity(p("Vaswani"), p("Ashish Vaswani")))
	assert.Equal(t, 0.3, nameSimilarity(p("B. Vaswani"), p("Ashish Vaswani")))
	assert.Equal(t, 0.0, nameSimilarity(p("Shazeer, N."), p("Ashish Vaswani")))
}

func TestAuthorSimilarity_Ordering(t *testing.T) {
	a := normalizeAuthors([]string{"Smith, J.", "Doe, A."})
	b := normalizeAuthors([]string{"Doe, Alice", "Smith, John"})
	assert.Equal(t, 1.0, authorSimilarity(a, b))

	short := normalizeAuthors([]string{"Doe"})
	assert.InDelta(t, 0.7, authorSimilarity(short, b), 1e-12)
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, stringSimilarity("abc", "abc"))
	assert.InDelta(t, 2.0/3.0, stringSimilarity("abc", "abd"), 1e-12)
	assert.InDelta(t, 0.75, stringSimilarity("café", "cafe"), 1e-12)
	assert.Equal(t, 0.0, stringSimilarity("abc", "xyz"))
}

func TestWeights(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Title: -1, Authors: 1}.Validate())
	assert.Error(t, Weights{}.Validate())

	n := Weights{Title: 2, Authors: 1, Year: 1}.Normalize()
	assert.InDelta(t, 0.5, n.Title, 1e-12)
	assert.InDelta(t, 0.25, n.Authors, 1e-12)
	assert.Equal(t, 0.0, n.Journal)

	assert.Equal(t, DefaultWeights(), Weights{}.Normalize())
}

func TestExplanation_String(t *testing.T) {
	_, exp := CalculateFuzzyScore("a b", "a b", nil, nil, 2000, 2001, "", "")
	s := exp.String()
	assert.True(t, strings.HasPrefix(s, "score="))
	assert.Contains(t, s, "year=0.500(compared)")
	assert.Contains(t, s, "authors=0.000(skipped)")
}

func TestMatcher_IdentifierMatchOutranksText(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	score, exp := m.Score(Citation{DOI: "https://doi.org/10.5555/ATTN"}, Citation{Title: "Attention Is All You Need", DOI: "10.5555/attn"})
	assert.Equal(t, 1.0, score)
	require.NotNil(t, exp.Identifier)
	assert.Equal(t, IdentifierCheck{Kind: IdentifierDOI, Match: true}, *exp.Identifier)

	garbled := attentionPaper()
	garbled.Title = "Atte ntion ls A11 Y0u Ne ed"
	garbled.DOI = "10.5555/attn"
	cand := attentionPaper()
	cand.DOI = "10.5555/ATTN"
	score, _ = m.Score(garbled, cand)
	assert.Equal(t, 1.0, score)
	assert.Contains(t, exp.String(), "doi_match=true")
}

func TestMatcher_ArXivMatchesAcrossForms(t *testing.T) {
	m := NewMatcher(DefaultWeights())

	score, exp := m.Score(Citation{ArXivID: "arXiv:1706.03762v5"}, Citation{DOI: "10.48550/arXiv.1706.03762"})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, IdentifierArXiv, exp.Identifier.Kind)

	// Preprint DOI against the journal DOI of the same arXiv record.
	a := Citation{Title: "Attention", DOI: "10.48550/arxiv.1706.03762"}
	b := Citation{Title: "Attention", DOI: "10.5555/attn", ArXivID: "1706.03762"}
	score, exp = m.Score(a, b)
	assert.Equal(t, 1.0, score)
	assert.True(t, exp.Identifier.Match)
}

func TestMatcher_IdentifierConflictCapsScore(t *testing.T) {
	a := attentionPaper()
	a.DOI = "10.5555/attn"
	b := attentionPaper()
	b.DOI = "10.5555/attn.erratum"

	score, exp := NewMatcher(DefaultWeights()).Score(a, b)
	assert.Equal(t, DefaultConflictCap, score)
	require.NotNil(t, exp.Identifier)
	assert.False(t, exp.Identifier.Match)

	score, _ = NewMatcher(DefaultWeights()).WithConflictCap(0.1).Score(b, a)
	assert.Equal(t, 0.1, score)

	low, _ := NewMatcher(DefaultWeights()).Score(Citation{Title: "x", DOI: "10.1/a"}, Citation{Title: "y", DOI: "10.1/b"})
	assert.LessOrEqual(t, low, DefaultConflictCap)
}

func TestMatcher_IdentifierOnOneSideIsIgnored(t *testing.T) {
	m := NewMatcher(DefaultWeights())
	a := attentionPaper()
	b := attentionPaper()
	b.DOI = "10.5555/attn"

	withID, exp := m.Score(a, b)
	without, _ := m.Score(a, attentionPaper())
	assert.Nil(t, exp.Identifier)
	assert.Equal(t, without, withID)
}
