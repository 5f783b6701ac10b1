package pairs

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"

	pkgerrors "github.com/pverkind/passim/pkg/errors"
	"github.com/pverkind/passim/pkg/metrics"
)

// Merger coalesces feature emissions for the same pair. Input must be
// pair-key contiguous (the enumerator emits contiguous runs per feature and
// an external sort between stages restores contiguity across features).
// Groups whose concatenated feature count is below MinMatches are dropped.
// Merging already-merged output is a no-op modulo ordering.
type Merger struct {
	MinMatches int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewMerger(minMatches int, m *metrics.Metrics) *Merger {
	return &Merger{
		MinMatches: minMatches,
		metrics:    m,
		logger:     slog.Default().With("component", "pair-merger"),
	}
}

// MergeState carries the pending group between Push calls.
type MergeState struct {
	cur   Record
	open  bool
	total int
	kept  int
}

// Merge streams records from r to w.
func (m *Merger) Merge(r io.Reader, w io.Writer) error {
	state := &MergeState{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		rec, err := Parse(text)
		if err != nil {
			return pkgerrors.NewRecordError(err, line, text)
		}
		if err := m.Push(state, rec, w); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pair records: %w", err)
	}
	if err := m.Flush(state, w); err != nil {
		return err
	}
	m.logger.Info("merge done", "groups", state.total, "kept", state.kept)
	return nil
}

// Push folds one parsed record into the state, emitting the previous group
// when the pair key changes.
func (m *Merger) Push(state *MergeState, rec Record, w io.Writer) error {
	if state.open && state.cur.DocA == rec.DocA && state.cur.DocB == rec.DocB {
		state.cur.Features = append(state.cur.Features, rec.Features...)
		return nil
	}
	if err := m.Flush(state, w); err != nil {
		return err
	}
	state.cur = rec
	state.open = true
	return nil
}

// Flush emits the pending group if it meets the feature quota.
func (m *Merger) Flush(state *MergeState, w io.Writer) error {
	if !state.open {
		return nil
	}
	state.total++
	state.open = false
	if len(state.cur.Features) < m.MinMatches {
		return nil
	}
	state.kept++
	if m.metrics != nil {
		m.metrics.PairsMerged.Inc()
	}
	_, err := fmt.Fprintln(w, state.cur.String())
	return err
}

// NewState returns an empty MergeState for callers that push records
// directly.
func NewState() *MergeState { return &MergeState{} }

// Accumulator buffers records arriving in arbitrary order (the Kafka
// consumer path, where partitioning keeps a pair on one partition but gives
// no global contiguity) and replays them key-sorted through a Merger.
type Accumulator struct {
	recs []Record
}

// Add buffers one record.
func (a *Accumulator) Add(rec Record) {
	a.recs = append(a.recs, rec)
}

// Drain sorts the buffered records by pair key and streams them through m.
func (a *Accumulator) Drain(m *Merger, w io.Writer) error {
	sort.Slice(a.recs, func(i, j int) bool {
		if a.recs[i].DocA != a.recs[j].DocA {
			return a.recs[i].DocA < a.recs[j].DocA
		}
		return a.recs[i].DocB < a.recs[j].DocB
	})
	state := NewState()
	for _, rec := range a.recs {
		if err := m.Push(state, rec, w); err != nil {
			return err
		}
	}
	return m.Flush(state, w)
}
