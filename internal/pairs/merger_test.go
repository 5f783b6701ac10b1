package pairs

import (
	"sort"
	"strings"
	"testing"
)

func mergeString(t *testing.T, minMatches int, input string) string {
	t.Helper()
	var sb strings.Builder
	m := NewMerger(minMatches, nil)
	if err := m.Merge(strings.NewReader(input), &sb); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return sb.String()
}

func TestMergerGroups(t *testing.T) {
	input := `[[1 2] [["" 2 1 1]]]
[[1 2] [["" 3 1 2]]]
[[1 5] [["" 2 1 1]]]
`
	out := mergeString(t, 1, input)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	first, err := Parse(lines[0])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.DocA != 1 || first.DocB != 2 || len(first.Features) != 2 {
		t.Errorf("merged record = %+v", first)
	}
}

func TestMergerMinMatches(t *testing.T) {
	input := `[[1 2] [["" 2 1 1]]]
[[1 5] [["" 2 1 1]]]
[[1 5] [["" 4 2 1]]]
`
	out := mergeString(t, 2, input)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), out)
	}
	rec, _ := Parse(lines[0])
	if rec.DocA != 1 || rec.DocB != 5 {
		t.Errorf("kept the wrong pair: %+v", rec)
	}
}

func TestMergerDropsAll(t *testing.T) {
	out := mergeString(t, 2, `[[1 2] [["" 2 1 1]]]`+"\n")
	if strings.TrimSpace(out) != "" {
		t.Errorf("min-matches=2 should drop the single-feature pair, got %q", out)
	}
}

func TestMergerIdempotent(t *testing.T) {
	input := `[[1 2] [["" 2 1 1]]]
[[1 2] [["" 3 1 2]]]
[[3 4] [["" 2 1 1]]]
`
	once := mergeString(t, 1, input)
	twice := mergeString(t, 1, once)
	sorted := func(s string) []string {
		lines := strings.Split(strings.TrimSpace(s), "\n")
		sort.Strings(lines)
		return lines
	}
	a, b := sorted(once), sorted(twice)
	if strings.Join(a, "\n") != strings.Join(b, "\n") {
		t.Errorf("merge is not idempotent:\nonce  %v\ntwice %v", a, b)
	}
}

func TestMergerMalformed(t *testing.T) {
	var sb strings.Builder
	m := NewMerger(1, nil)
	if err := m.Merge(strings.NewReader("not a record\n"), &sb); err == nil {
		t.Error("want error for malformed input")
	}
}

func TestAccumulatorDrain(t *testing.T) {
	acc := &Accumulator{}
	acc.Add(Record{DocA: 3, DocB: 4, Features: []Feature{{Total: 2, TFA: 1, TFB: 1}}})
	acc.Add(Record{DocA: 1, DocB: 2, Features: []Feature{{Total: 2, TFA: 1, TFB: 1}}})
	acc.Add(Record{DocA: 1, DocB: 2, Features: []Feature{{Total: 5, TFA: 2, TFB: 2}}})
	var sb strings.Builder
	if err := acc.Drain(NewMerger(2, nil), &sb); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec, _ := Parse(lines[0])
	if rec.DocA != 1 || rec.DocB != 2 || len(rec.Features) != 2 {
		t.Errorf("drained record = %+v", rec)
	}
}
