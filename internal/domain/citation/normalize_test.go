package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"punctuation only", "!!! ...", ""},
		{"case and punctuation", "Attention Is All You Need!", "attention is all you need"},
		{"diacritics", "Café  Société", "cafe societe"},
		{"hyphen between letters", "State-of-the-Art", "state-of-the-art"},
		{"accented compound", "García-Márquez", "garcia-marquez"},
		{"dangling dash", " - leading dash", "leading dash"},
		{"dash between digits", "pp. 12-34", "pp 12 34"},
		{"apostrophe", "O'Brien", "obrien"},
		{"curly apostrophe", "O’Brien", "obrien"},
		{"whitespace", "Deep   learning:\tA survey\n", "deep learning a survey"},
		{"non latin", "Ωmega – Δelta", "ωmega δelta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeText_Idempotent(t *testing.T) {
	inputs := []string{
		"", " ", "Attention Is All You Need", "Ünïcödé—heavy “quotes” ‘and’ dashes – —",
		"a-b-c", "-a-", "x--y", "A . - . B", "日本語のタイトル", "Ελληνικά-κείμενο", "O'Brien-Smith",
		"́́", "é", "𝔘𝔫𝔦𝔠𝔬𝔡𝔢", "tab\tand\nnewline",
	}
	for _, in := range inputs {
		once := NormalizeText(in)
		assert.Equal(t, once, NormalizeText(once), "input %q", in)
	}
}

func TestNormalizeAuthor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Vaswani, Ashish", "a vaswani"},
		{"Ashish Vaswani", "a vaswani"},
		{"Vaswani A", "a vaswani"},
		{"Vaswani", "vaswani"},
		{"García-Márquez, G.", "g garcia-marquez"},
		{"Martin Luther King Jr", "m l king"},
		{"Ludwig van Beethoven", "l van beethoven"},
		{"Smith III", "smith"},
		{"Jean-Paul Sartre", "j p sartre"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAuthor(tt.in))
		})
	}
}

func TestAuthorSurname(t *testing.T) {
	assert.Equal(t, "vaswani", AuthorSurname("Vaswani, A."))
	assert.Equal(t, "vaswani", AuthorSurname(" Ashish Vaswani"))
	assert.Equal(t, "oconnor", AuthorSurname("Sinead O'Connor"))
	assert.Empty(t, AuthorSurname(""))
}

func TestNormalizeDOI(t *testing.T) {
	assert.Equal(t, "10.48550/arxiv.1706.03762", NormalizeDOI("https://doi.org/10.48550/ARXIV.1706.03762"))
	assert.Equal(t, "10.1000/xyz", NormalizeDOI("doi:10.1000/XYZ"))
	assert.Equal(t, "10.1000/xyz", NormalizeDOI(" http://dx.doi.org/10.1000/xyz "))
	assert.Equal(t, "10.1000/xyz", NormalizeDOI("10.1000/xyz"))
	assert.Empty(t, NormalizeDOI(""))
}

func TestNormalizeArXivID(t *testing.T) {
	assert.Equal(t, "1706.03762", NormalizeArXivID("https://arxiv.org/abs/1706.03762v5"))
	assert.Equal(t, "1706.03762", NormalizeArXivID("arXiv:1706.03762"))
	assert.Equal(t, "1706.03762", NormalizeArXivID("https://arxiv.org/pdf/1706.03762v1.pdf"))
	assert.Equal(t, "1706.03762", NormalizeArXivID("1706.03762"))
	assert.Empty(t, NormalizeArXivID("  "))
}
