package pairs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/pverkind/passim/internal/corpus"
	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
	"github.com/pverkind/passim/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Emitter receives pair records from the enumerator shards. Implementations
// must be safe for concurrent use.
type Emitter interface {
	Emit(Record) error
}

// WriterEmitter serialises records to one line-oriented writer.
type WriterEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{w: w}
}

func (we *WriterEmitter) Emit(rec Record) error {
	we.mu.Lock()
	defer we.mu.Unlock()
	_, err := fmt.Fprintln(we.w, rec.String())
	return err
}

// CountsEmitter accumulates the seriesA\tseriesB\tcount histogram instead of
// forwarding records.
type CountsEmitter struct {
	mu     sync.Mutex
	series *corpus.SeriesMap
	counts map[[2]int]int
}

func NewCountsEmitter(series *corpus.SeriesMap) *CountsEmitter {
	return &CountsEmitter{series: series, counts: make(map[[2]int]int)}
}

func (ce *CountsEmitter) Emit(rec Record) error {
	a := ce.series.Series(rec.DocA)
	b := ce.series.Series(rec.DocB)
	if a > b {
		a, b = b, a
	}
	ce.mu.Lock()
	ce.counts[[2]int{a, b}]++
	ce.mu.Unlock()
	return nil
}

// WriteTo renders the histogram sorted by series pair.
func (ce *CountsEmitter) WriteTo(w io.Writer) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	keys := make([][2]int, 0, len(ce.counts))
	for k := range ce.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		_, err := fmt.Fprintf(w, "%s\t%s\t%d\n",
			ce.series.SeriesName(k[0]), ce.series.SeriesName(k[1]), ce.counts[k])
		if err != nil {
			return err
		}
	}
	return nil
}

// Runner fans cfg.Shards consecutive key windows out across goroutines, one
// Enumerator per window, all feeding one Emitter. With Shards == 1 this is a
// single (step, stride) window; with N shards the process covers windows
// step .. step+N-1.
type Runner struct {
	store   index.Store
	series  *corpus.SeriesMap
	cfg     config.PairsConfig
	stop    map[string]struct{}
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRunner(store index.Store, series *corpus.SeriesMap, cfg config.PairsConfig, stop map[string]struct{}, m *metrics.Metrics) *Runner {
	return &Runner{
		store:   store,
		series:  series,
		cfg:     cfg,
		stop:    stop,
		metrics: m,
		logger:  slog.Default().With("component", "pair-runner"),
	}
}

// Run executes all shard windows and waits for completion.
func (r *Runner) Run(ctx context.Context, emitter Emitter) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Shards; i++ {
		shardCfg := r.cfg
		shardCfg.Step = r.cfg.Step + i
		enum := NewEnumerator(r.store, r.series, shardCfg, r.stop, r.metrics)
		g.Go(func() error {
			return enum.Run(ctx, emitter.Emit)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running enumerator shards: %w", err)
	}
	r.logger.Info("all shards done", "shards", r.cfg.Shards)
	return nil
}
