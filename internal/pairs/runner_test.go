package pairs

import (
	"context"
	"strings"
	"testing"
)

func TestRunnerShardsCoverAllWindows(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	keys := 0
	for it := ms.Keys(); it.Next(); {
		keys++
	}
	cfg := pairsConfig()
	cfg.Stride = 1
	cfg.Step = 0
	cfg.Shards = keys
	var sb strings.Builder
	emitter := NewWriterEmitter(&sb)
	runner := NewRunner(ms, series, cfg, nil, nil)
	if err := runner.Run(context.Background(), emitter); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	var recs []Record
	for _, l := range lines {
		if l == "" {
			continue
		}
		rec, err := Parse(l)
		if err != nil {
			t.Fatalf("Parse(%q): %v", l, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 1 {
		t.Errorf("sharded run emitted %d records, want 1", len(recs))
	}
}

func TestRunnerMatchesSingleWindow(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	single := pairsConfig()
	var a strings.Builder
	if err := NewRunner(ms, series, single, nil, nil).Run(context.Background(), NewWriterEmitter(&a)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sharded := pairsConfig()
	sharded.Stride = 3
	sharded.Shards = 64
	var b strings.Builder
	if err := NewRunner(ms, series, sharded, nil, nil).Run(context.Background(), NewWriterEmitter(&b)); err != nil {
		t.Fatalf("Run sharded: %v", err)
	}
	if strings.TrimSpace(a.String()) != strings.TrimSpace(b.String()) {
		t.Errorf("sharded output differs:\nsingle  %q\nsharded %q", a.String(), b.String())
	}
}
