package diffs

import (
	"strings"
	"testing"

	"github.com/pverkind/passim/internal/index"
)

func dict(words ...string) map[string]struct{} {
	d := make(map[string]struct{}, len(words))
	for _, w := range words {
		d[w] = struct{}{}
	}
	return d
}

func TestExtractSubstitution(t *testing.T) {
	seq1 := "the considerable hotel was large"
	seq2 := "the considerably hotel was large"
	got := Extract(seq1, seq2, 3, dict("considerable", "considerably"))
	if len(got) != 1 {
		t.Fatalf("got %d substitutions, want 1: %v", len(got), got)
	}
	if got[0] != [2]string{"considerable", "considerably"} {
		t.Errorf("substitution = %v", got[0])
	}
}

func TestExtractFilters(t *testing.T) {
	tests := []struct {
		name string
		seq1 string
		seq2 string
		dict map[string]struct{}
	}{
		{
			name: "short words",
			seq1: "the cat hotel was large",
			seq2: "the dog hotel was large",
			dict: dict("cat", "dog"),
		},
		{
			name: "not in dictionary",
			seq1: "the considerable hotel was large",
			seq2: "the considerably hotel was large",
			dict: dict("considerable"),
		},
		{
			name: "neighbor differs too",
			seq1: "our considerable hotel was large",
			seq2: "the considerably hotel was large",
			dict: dict("considerable", "considerably"),
		},
		{
			name: "identical",
			seq1: "the considerable hotel was large",
			seq2: "the considerable hotel was large",
			dict: dict("considerable"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.seq1, tt.seq2, 3, tt.dict); len(got) != 0 {
				t.Errorf("got %v, want none", got)
			}
		})
	}
}

func TestExtractWithGaps(t *testing.T) {
	// gap markers are stripped before comparing words
	seq1 := "the considerable- hotel was large"
	seq2 := "the considerably- hotel was large"
	got := Extract(seq1, seq2, 3, dict("considerable", "considerably"))
	if len(got) != 1 {
		t.Fatalf("got %d substitutions, want 1", len(got))
	}
}

func TestRunOrdersByDate(t *testing.T) {
	ms := index.NewMemStore()
	ms.AddDocument("s2/later", "filler", map[string]string{"date": "1870-01-01"})
	ms.AddDocument("s3/earlier", "filler", map[string]string{"date": "1860-01-01"})
	ms.Build(3)

	line := func(name2 string) string {
		return strings.Join([]string{
			"5", "0.5", "0.5", "10", "0", "42.5", "1", "2", "s1/x", name2,
			"0", "5", "0", "5",
			"the considerable hotel was large",
			"the considerably hotel was large",
		}, "\t")
	}
	input := line("s2/later") + "\n" + line("s3/earlier") + "\n"
	var sb strings.Builder
	err := Run(ms, 3, dict("considerable", "considerably"), strings.NewReader(input), &sb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "1860-01-01\t") {
		t.Errorf("first line should carry the earlier date: %q", lines[0])
	}
}
