package pairs

import (
	"context"
	"strings"
	"testing"

	"github.com/pverkind/passim/internal/corpus"
	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
)

func pairsConfig() config.PairsConfig {
	cfg := config.Default().Pairs
	cfg.Stride = 100000
	return cfg
}

// twoSeriesStore builds the reference scenario: three documents per series
// with exactly one five-gram shared across series.
func twoSeriesStore(t *testing.T) (*index.MemStore, *corpus.SeriesMap, int, int) {
	t.Helper()
	shared := "the quick brown fox jumps"
	ms := index.NewMemStore()
	a1 := ms.AddDocument("seriesA/doc1", "alpha beta gamma delta epsilon zeta eta theta iota kappa "+shared+" lambda mu", nil)
	ms.AddDocument("seriesA/doc2", "nu xi omicron pi rho sigma tau upsilon", nil)
	ms.AddDocument("seriesA/doc3", "phi chi psi omega alef bet gimel dalet", nil)
	ms.AddDocument("seriesB/doc1", "one two three four five six seven eight", nil)
	b2 := ms.AddDocument("seriesB/doc2", "nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty "+shared+" done finish", nil)
	ms.AddDocument("seriesB/doc3", "red orange yellow green blue indigo violet mauve", nil)
	ms.Build(5)
	series, err := corpus.SeriesMapFromStore(ms)
	if err != nil {
		t.Fatalf("series map: %v", err)
	}
	return ms, series, a1, b2
}

func collect(t *testing.T, e *Enumerator) []Record {
	t.Helper()
	var recs []Record
	if err := e.Run(context.Background(), func(r Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return recs
}

func TestEnumeratorSingleSharedNgram(t *testing.T) {
	ms, series, a1, b2 := twoSeriesStore(t)
	e := NewEnumerator(ms, series, pairsConfig(), nil, nil)
	recs := collect(t, e)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1: %v", len(recs), recs)
	}
	rec := recs[0]
	if rec.DocA != a1 || rec.DocB != b2 {
		t.Errorf("pair = (%d,%d), want (%d,%d)", rec.DocA, rec.DocB, a1, b2)
	}
	if rec.DocA >= rec.DocB {
		t.Error("pair ordering must be strict")
	}
	if len(rec.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(rec.Features))
	}
	f := rec.Features[0]
	if f.Token != "" || f.Total != 2 || f.TFA != 1 || f.TFB != 1 {
		t.Errorf("feature = %+v, want {\"\" 2 1 1}", f)
	}
}

func TestEnumeratorInvariants(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	e := NewEnumerator(ms, series, pairsConfig(), nil, nil)
	for _, rec := range collect(t, e) {
		if rec.DocA >= rec.DocB {
			t.Errorf("pair (%d,%d) violates docA < docB", rec.DocA, rec.DocB)
		}
		if series.Series(rec.DocA) == series.Series(rec.DocB) {
			t.Errorf("pair (%d,%d) is intra-series", rec.DocA, rec.DocB)
		}
	}
}

func TestEnumeratorStopwords(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	stop := map[string]struct{}{"fox": {}}
	e := NewEnumerator(ms, series, pairsConfig(), stop, nil)
	if recs := collect(t, e); len(recs) != 0 {
		t.Errorf("stopword filter leaked %d records", len(recs))
	}
}

func TestEnumeratorWordLength(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	cfg := pairsConfig()
	// mean token length of the shared five-gram is 21/5 = 4.2
	cfg.WordLength = 4.5
	e := NewEnumerator(ms, series, cfg, nil, nil)
	if recs := collect(t, e); len(recs) != 0 {
		t.Errorf("word-length filter leaked %d records", len(recs))
	}
}

func TestEnumeratorMaxDF(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	cfg := pairsConfig()
	cfg.MaxDF = 0
	e := NewEnumerator(ms, series, cfg, nil, nil)
	if recs := collect(t, e); len(recs) != 0 {
		t.Errorf("max-df filter leaked %d records", len(recs))
	}
}

func TestEnumeratorMaxSeriesOne(t *testing.T) {
	// max-series 1 gives upper = 0, which excludes every feature; the
	// behavior is preserved rather than special-cased.
	ms, series, _, _ := twoSeriesStore(t)
	cfg := pairsConfig()
	cfg.MaxSeries = 1
	e := NewEnumerator(ms, series, cfg, nil, nil)
	if recs := collect(t, e); len(recs) != 0 {
		t.Errorf("max-series=1 leaked %d records", len(recs))
	}
}

func TestEnumeratorMaxSeriesTwo(t *testing.T) {
	// upper = 1: the single-representative-per-series feature still passes
	ms, series, _, _ := twoSeriesStore(t)
	cfg := pairsConfig()
	cfg.MaxSeries = 2
	e := NewEnumerator(ms, series, cfg, nil, nil)
	recs := collect(t, e)
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestEnumeratorCrossCount(t *testing.T) {
	// a gram shared by two docs in each of two series contributes 4
	// cross-series pairs; upper = 1 must exclude it
	shared := "alpha bravo charlie delta echo"
	ms := index.NewMemStore()
	ms.AddDocument("sA/d1", "x1 x2 x3 "+shared, nil)
	ms.AddDocument("sA/d2", "y1 y2 y3 "+shared, nil)
	ms.AddDocument("sB/d1", "z1 z2 z3 "+shared, nil)
	ms.AddDocument("sB/d2", "w1 w2 w3 "+shared, nil)
	ms.Build(5)
	series, _ := corpus.SeriesMapFromStore(ms)
	cfg := pairsConfig()
	cfg.MaxSeries = 2
	e := NewEnumerator(ms, series, cfg, nil, nil)
	if recs := collect(t, e); len(recs) != 0 {
		t.Errorf("cross-count bound leaked %d records", len(recs))
	}
}

func TestEnumeratorStride(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	cfg := pairsConfig()
	cfg.Stride = 1
	keys := 0
	for it := ms.Keys(); it.Next(); {
		keys++
	}
	// each window covers one key; the union over all windows must equal the
	// unsharded run
	total := 0
	for step := 0; step < keys; step++ {
		cfg.Step = step
		e := NewEnumerator(ms, series, cfg, nil, nil)
		total += len(collect(t, e))
	}
	if total != 1 {
		t.Errorf("union over strided windows has %d records, want 1", total)
	}
}

func TestCountsEmitter(t *testing.T) {
	ms, series, _, _ := twoSeriesStore(t)
	e := NewEnumerator(ms, series, pairsConfig(), nil, nil)
	emitter := NewCountsEmitter(series)
	if err := e.Run(context.Background(), emitter.Emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sb strings.Builder
	if err := emitter.WriteTo(&sb); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got := strings.TrimSpace(sb.String())
	if got != "seriesA\tseriesB\t1" {
		t.Errorf("histogram = %q", got)
	}
}
