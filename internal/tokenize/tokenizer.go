// Package tokenize breaks raw text into word tokens while preserving the
// character span each token came from, so alignment output can be mapped back
// to the source page.
package tokenize

import (
	"strings"
	"unicode"
)

// Tokenized holds a word sequence with per-token character offsets. Begin and
// End are byte offsets into the original text, half-open.
type Tokenized struct {
	Terms []string
	Begin []int
	End   []int
}

// Text splits text on non-alphanumeric boundaries and lower-cases each token.
// Unlike a search tokenizer it keeps stopwords and one-letter words: the
// enumerator filters features, not documents, and every token must stay
// addressable by position.
func Text(text string) Tokenized {
	var t Tokenized
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			t.append(text, start, i)
			start = -1
		}
	}
	if start >= 0 {
		t.append(text, start, len(text))
	}
	return t
}

func (t *Tokenized) append(text string, begin, end int) {
	t.Terms = append(t.Terms, strings.ToLower(text[begin:end]))
	t.Begin = append(t.Begin, begin)
	t.End = append(t.End, end)
}

// Ngrams joins every run of n successive terms with "~", producing the index
// key sequence of length len(terms)-n+1.
func Ngrams(terms []string, n int) []string {
	if n <= 0 || len(terms) < n {
		return nil
	}
	grams := make([]string, 0, len(terms)-n+1)
	for i := 0; i+n <= len(terms); i++ {
		grams = append(grams, strings.Join(terms[i:i+n], "~"))
	}
	return grams
}
