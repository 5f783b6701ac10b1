package pairs

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"

	"github.com/dolthub/swiss"
	"github.com/pverkind/passim/internal/corpus"
	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
	"github.com/pverkind/passim/pkg/metrics"
)

// Enumerator walks an index part and emits candidate pair records. One
// Enumerator covers one (step, stride) key window; the Runner fans several
// windows out across goroutines.
type Enumerator struct {
	store   index.Store
	series  *corpus.SeriesMap
	cfg     config.PairsConfig
	stop    map[string]struct{}
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEnumerator creates an Enumerator. stop and m may be nil.
func NewEnumerator(store index.Store, series *corpus.SeriesMap, cfg config.PairsConfig, stop map[string]struct{}, m *metrics.Metrics) *Enumerator {
	return &Enumerator{
		store:   store,
		series:  series,
		cfg:     cfg,
		stop:    stop,
		metrics: m,
		logger:  slog.Default().With("component", "pair-enumerator", "step", cfg.Step),
	}
}

// LoadStopwords reads one stopword per line.
func LoadStopwords(r io.Reader) (map[string]struct{}, error) {
	stop := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			stop[word] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stopwords: %w", err)
	}
	return stop, nil
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Run walks the window and calls emit for every surviving pair record. It
// stops early when ctx is cancelled or emit returns an error.
func (e *Enumerator) Run(ctx context.Context, emit func(Record) error) error {
	skip := e.cfg.Step * e.cfg.Stride
	upper := e.cfg.Upper()
	it := e.store.Keys()
	pos := 0
	scanned := 0
	kept := 0
	emitted := 0
	for it.Next() {
		if pos < skip {
			pos++
			continue
		}
		if scanned >= e.cfg.Stride {
			break
		}
		scanned++
		pos++
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := it.Entry()
		if e.metrics != nil {
			e.metrics.KeysScanned.Inc()
		}
		if e.cfg.ModP > 1 && hashString(entry.Term)%uint32(e.cfg.ModP) != 0 {
			e.countFiltered("modp")
			continue
		}
		if !e.keepKey(entry.Term) {
			continue
		}
		if !e.keepPostings(entry, upper) {
			continue
		}
		kept++
		n, err := e.emitPairs(entry, emit)
		if err != nil {
			return err
		}
		emitted += n
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("scanning index keys: %w", err)
	}
	e.logger.Info("window done", "keys_scanned", scanned, "features_kept", kept, "pairs_emitted", emitted)
	return nil
}

// keepKey applies the stopword and mean-token-length filters.
func (e *Enumerator) keepKey(key string) bool {
	tokens := strings.Split(key, "~")
	chars := 0
	for _, tok := range tokens {
		if _, isStop := e.stop[tok]; isStop {
			e.countFiltered("stopword")
			return false
		}
		chars += len(tok)
	}
	if float64(chars)/float64(len(tokens)) < e.cfg.WordLength {
		e.countFiltered("word_length")
		return false
	}
	return true
}

// keepPostings applies the cross-series cross-count bound: the number of
// cross-series pairs the feature would contribute, summed over series-group
// size products, must not exceed maxSeries*(maxSeries-1)/2.
func (e *Enumerator) keepPostings(entry index.TermEntry, upper int) bool {
	// the stored frequency bounds the pair count from above, so this cheap
	// test runs before grouping the postings by series
	if entry.Total*(entry.Total-1)/2 > upper {
		e.countFiltered("cross_count")
		return false
	}
	groups := swiss.NewMap[int, int](8)
	for _, p := range entry.Postings {
		s := e.series.Series(p.DocID)
		n, _ := groups.Get(s)
		groups.Put(s, n+1)
	}
	total, sumSquares := 0, 0
	groups.Iter(func(_ int, g int) bool {
		total += g
		sumSquares += g * g
		return false
	})
	crossCount := (total*total - sumSquares) / 2
	if crossCount > upper {
		e.countFiltered("cross_count")
		return false
	}
	return true
}

// emitPairs walks the ordered posting pairs of one surviving feature.
func (e *Enumerator) emitPairs(entry index.TermEntry, emit func(Record) error) (int, error) {
	emitted := 0
	for i, a := range entry.Postings {
		if a.Frequency > e.cfg.MaxDF {
			continue
		}
		for _, b := range entry.Postings[i+1:] {
			if b.Frequency > e.cfg.MaxDF {
				continue
			}
			if e.series.Series(a.DocID) == e.series.Series(b.DocID) {
				continue
			}
			rec := Record{
				DocA:     a.DocID,
				DocB:     b.DocID,
				Features: []Feature{{Token: "", Total: entry.Total, TFA: a.Frequency, TFB: b.Frequency}},
			}
			if e.cfg.ModRec > 1 && hashString(rec.Key())%uint32(e.cfg.ModRec) != 0 {
				continue
			}
			if err := emit(rec); err != nil {
				return emitted, err
			}
			emitted++
			if e.metrics != nil {
				e.metrics.PairsEmitted.Inc()
			}
		}
	}
	return emitted, nil
}

func (e *Enumerator) countFiltered(reason string) {
	if e.metrics != nil {
		e.metrics.FeaturesFiltered.WithLabelValues(reason).Inc()
	}
}
