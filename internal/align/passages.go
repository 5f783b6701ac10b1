package align

import (
	"sort"

	"github.com/pverkind/passim/internal/tokenize"
)

// Match is one shared n-gram anchor between two token sequences.
type Match struct {
	Pos1 int
	Pos2 int
}

// Passage is a candidate reused span in token coordinates, half-open on both
// sides.
type Passage struct {
	Start1, End1 int
	Start2, End2 int
	Anchors      int
}

// MatchingNgrams intersects the n-gram sets of two token sequences and
// returns every positional pairing, sorted by (Pos1, Pos2).
func MatchingNgrams(w1, w2 []string, n int) []Match {
	grams1 := tokenize.Ngrams(w1, n)
	grams2 := tokenize.Ngrams(w2, n)
	byGram := make(map[string][]int)
	for pos, g := range grams1 {
		byGram[g] = append(byGram[g], pos)
	}
	var matches []Match
	for pos2, g := range grams2 {
		for _, pos1 := range byGram[g] {
			matches = append(matches, Match{Pos1: pos1, Pos2: pos2})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Pos1 != matches[j].Pos1 {
			return matches[i].Pos1 < matches[j].Pos1
		}
		return matches[i].Pos2 < matches[j].Pos2
	})
	return matches
}

// BestPassages chains anchor matches into locally dense passages. A chain
// breaks when either coordinate jumps more than maxGap or the second
// coordinate does not advance; surviving chains need at least minMatches
// anchors and an anchor density of at least minDensity over the first
// coordinate's gram span. Spans are widened by n-1 tokens on the right so
// they cover the full final n-gram.
func BestPassages(matches []Match, n, maxGap, minMatches int, minDensity float64) []Passage {
	if minMatches < 1 {
		minMatches = 1
	}
	var passages []Passage
	var chain []Match
	flush := func() {
		if len(chain) >= minMatches {
			first, last := chain[0], chain[len(chain)-1]
			span := last.Pos1 - first.Pos1 + 1
			if float64(len(chain))/float64(span) >= minDensity {
				passages = append(passages, Passage{
					Start1:  first.Pos1,
					End1:    last.Pos1 + n,
					Start2:  first.Pos2,
					End2:    last.Pos2 + n,
					Anchors: len(chain),
				})
			}
		}
		chain = chain[:0]
	}
	for _, m := range matches {
		if len(chain) > 0 {
			prev := chain[len(chain)-1]
			if m.Pos1 == prev.Pos1 {
				continue
			}
			if m.Pos1-prev.Pos1 > maxGap || m.Pos2 <= prev.Pos2 || m.Pos2-prev.Pos2 > maxGap {
				flush()
			}
		}
		chain = append(chain, m)
	}
	flush()
	return passages
}
