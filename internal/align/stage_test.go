package align

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
)

func alignConfig() config.AlignConfig {
	return config.Default().Align
}

// passage builds a deterministic sequence of distinct tokens.
func passage(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%03d", prefix, i)
	}
	return strings.Join(words, " ")
}

func runAligner(t *testing.T, store index.Store, cfg config.AlignConfig, input string) []string {
	t.Helper()
	a := NewAligner(store, nil, cfg, nil)
	var sb strings.Builder
	if err := a.Run(context.Background(), strings.NewReader(input), &sb); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestAlignerIdenticalPassage(t *testing.T) {
	shared := passage("w", 200)
	ms := index.NewMemStore()
	id1 := ms.AddDocument("gazette/1", shared, nil)
	id2 := ms.AddDocument("herald/7", passage("pre", 30)+" "+shared+" "+passage("post", 20), nil)
	ms.Build(5)

	input := fmt.Sprintf(`[[%d %d] [["" 2 1 1]]]`+"\n", id1, id2)
	lines := runAligner(t, ms, alignConfig(), input)
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 16 {
		t.Fatalf("got %d fields, want 16: %q", len(fields), lines[0])
	}
	if fields[0] != "200" {
		t.Errorf("matchLen1 = %s, want 200", fields[0])
	}
	if fields[4] != "0" {
		t.Errorf("gaps = %s, want 0", fields[4])
	}
	if fields[6] != fmt.Sprint(id1) || fields[7] != fmt.Sprint(id2) {
		t.Errorf("ids = %s,%s", fields[6], fields[7])
	}
	if fields[8] != "gazette/1" || fields[9] != "herald/7" {
		t.Errorf("names = %s,%s", fields[8], fields[9])
	}
	if fields[10] != "0" || fields[11] != "200" {
		t.Errorf("span1 = [%s,%s), want [0,200)", fields[10], fields[11])
	}
	if fields[12] != "30" || fields[13] != "230" {
		t.Errorf("span2 = [%s,%s), want [30,230)", fields[12], fields[13])
	}
	// matchLen2/|w2| with |w2| = 250
	if fields[2] != "0.8" {
		t.Errorf("frac2 = %s, want 0.8", fields[2])
	}
}

func TestAlignerSymmetry(t *testing.T) {
	shared := passage("w", 60)
	ms := index.NewMemStore()
	id1 := ms.AddDocument("gazette/1", passage("aa", 10)+" "+shared, nil)
	id2 := ms.AddDocument("herald/7", shared+" "+passage("bb", 15), nil)
	ms.Build(5)

	fwd := runAligner(t, ms, alignConfig(), fmt.Sprintf(`[[%d %d] [["" 2 1 1]]]`+"\n", id1, id2))
	rev := runAligner(t, ms, alignConfig(), fmt.Sprintf(`[[%d %d] [["" 2 1 1]]]`+"\n", id2, id1))
	if len(fwd) != 1 || len(rev) != 1 {
		t.Fatalf("records: fwd=%d rev=%d", len(fwd), len(rev))
	}
	f := strings.Split(fwd[0], "\t")
	r := strings.Split(rev[0], "\t")
	// matches, gaps, swscore invariant
	for _, i := range []int{3, 4, 5} {
		if f[i] != r[i] {
			t.Errorf("field %d not invariant: %s vs %s", i, f[i], r[i])
		}
	}
	// spans and names transpose
	if f[8] != r[9] || f[9] != r[8] {
		t.Error("names do not transpose")
	}
	if f[10] != r[12] || f[11] != r[13] || f[12] != r[10] || f[13] != r[11] {
		t.Error("spans do not transpose")
	}
	if f[14] != r[15] || f[15] != r[14] {
		t.Error("gapped sequences do not transpose")
	}
}

func TestAlignerNgramZero(t *testing.T) {
	shared := passage("w", 40)
	ms := index.NewMemStore()
	id1 := ms.AddDocument("gazette/1", shared, nil)
	id2 := ms.AddDocument("herald/7", shared, nil)
	ms.Build(5)

	cfg := alignConfig()
	cfg.Ngram = 0
	lines := runAligner(t, ms, cfg, fmt.Sprintf(`[[%d %d] [["" 2 1 1]]]`+"\n", id1, id2))
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1", len(lines))
	}
	fields := strings.Split(lines[0], "\t")
	if fields[0] != "40" {
		t.Errorf("matchLen1 = %s, want 40", fields[0])
	}
}

func TestAlignerNoSharedText(t *testing.T) {
	ms := index.NewMemStore()
	id1 := ms.AddDocument("gazette/1", passage("aa", 30), nil)
	id2 := ms.AddDocument("herald/7", passage("bb", 30), nil)
	ms.Build(5)

	// a zero-span record keeps one line per surviving pair... except the
	// ngram length gate drops spans shorter than ngram, so nothing comes out
	lines := runAligner(t, ms, alignConfig(), fmt.Sprintf(`[[%d %d] [["" 1 1 1]]]`+"\n", id1, id2))
	if len(lines) != 0 {
		t.Errorf("got %d records, want 0", len(lines))
	}
}

func TestAlignerSkipsUnknownDocuments(t *testing.T) {
	ms := index.NewMemStore()
	ms.AddDocument("gazette/1", passage("aa", 30), nil)
	ms.Build(5)
	// doc 99 is not in this index part: the pair is skipped, not fatal
	lines := runAligner(t, ms, alignConfig(), `[[1 99] [["" 2 1 1]]]`+"\n")
	if len(lines) != 0 {
		t.Errorf("got %d records, want 0", len(lines))
	}
}

func TestAlignerMalformedInput(t *testing.T) {
	ms := index.NewMemStore()
	ms.AddDocument("gazette/1", "some text", nil)
	ms.Build(5)
	a := NewAligner(ms, nil, alignConfig(), nil)
	var sb strings.Builder
	if err := a.Run(context.Background(), strings.NewReader("garbage line\n"), &sb); err == nil {
		t.Error("want error for malformed record")
	}
}

func TestBestPassagesGapSplit(t *testing.T) {
	var matches []Match
	for i := 0; i < 10; i++ {
		matches = append(matches, Match{Pos1: i, Pos2: i})
	}
	for i := 0; i < 10; i++ {
		matches = append(matches, Match{Pos1: 500 + i, Pos2: 500 + i})
	}
	got := BestPassages(matches, 5, 100, 2, 0.2)
	if len(got) != 2 {
		t.Fatalf("got %d passages, want 2", len(got))
	}
	if got[0].End1 != 9+5 {
		t.Errorf("End1 = %d, want %d", got[0].End1, 14)
	}
	if got[1].Start1 != 500 {
		t.Errorf("Start1 = %d, want 500", got[1].Start1)
	}
}

func TestBestPassagesDensity(t *testing.T) {
	// two anchors 90 apart: within maxGap but far too sparse
	matches := []Match{{0, 0}, {90, 90}}
	if got := BestPassages(matches, 5, 100, 2, 0.2); len(got) != 0 {
		t.Errorf("sparse chain survived: %v", got)
	}
}

func TestMatchingNgrams(t *testing.T) {
	w1 := strings.Fields("a b c d e f g h")
	w2 := strings.Fields("x x a b c d e y")
	got := MatchingNgrams(w1, w2, 5)
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1: %v", len(got), got)
	}
	if got[0].Pos1 != 0 || got[0].Pos2 != 2 {
		t.Errorf("match = %+v, want {0 2}", got[0])
	}
}
