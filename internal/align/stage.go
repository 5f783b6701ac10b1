package align

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/internal/pairs"
	"github.com/pverkind/passim/pkg/config"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
	"github.com/pverkind/passim/pkg/metrics"
)

// Outcome tags how a pair's alignment was produced.
type Outcome int

const (
	// OutcomeOK means local alignment succeeded on the discovered passages.
	OutcomeOK Outcome = iota
	// OutcomeFallback means alignment failed on at least one passage and
	// that passage's raw anchor span was emitted in its place.
	OutcomeFallback
	// OutcomeEmpty means nothing worked; a single zero-span record stands in.
	// AlignPair drops it unless ngram is 0, since only spans at least ngram
	// tokens long are written.
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFallback:
		return "fallback"
	default:
		return "empty"
	}
}

// Alignment is one aligned passage in token coordinates with the gapped
// character strings.
type Alignment struct {
	Seq1, Seq2   string
	Start1, End1 int
	Start2, End2 int
	Stats        Stats
}

// PairResult is the tagged outcome of aligning one candidate pair.
type PairResult struct {
	Outcome    Outcome
	Alignments []Alignment
}

// Aligner is the scores stage: it reads merged pair records, recovers the
// reused spans, and emits one 16-field TSV line per passage.
type Aligner struct {
	store   index.Store
	cache   *DocCache
	cfg     config.AlignConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAligner creates an Aligner. cache may be nil to fetch straight from the
// store; m may be nil.
func NewAligner(store index.Store, cache *DocCache, cfg config.AlignConfig, m *metrics.Metrics) *Aligner {
	if cache == nil {
		cache = NewDocCache(store, nil, config.RedisConfig{}, m)
	}
	return &Aligner{
		store:   store,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "pair-aligner"),
	}
}

// Run streams merged records from r and writes alignment records to w.
func (a *Aligner) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	out := bufio.NewWriter(w)
	defer out.Flush()
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := pairs.Parse(text)
		if err != nil {
			return pkgerrors.NewRecordError(err, line, text)
		}
		if err := a.AlignPair(ctx, rec, out); err != nil {
			// pairs referencing documents absent from this index part are
			// skipped, like any other index miss
			if errors.Is(err, pkgerrors.ErrDocumentNotFound) {
				a.logger.Debug("skipping pair with unknown document", "id1", rec.DocA, "id2", rec.DocB)
				continue
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading merged records: %w", err)
	}
	return out.Flush()
}

// AlignPair aligns one merged pair and writes its records.
func (a *Aligner) AlignPair(ctx context.Context, rec pairs.Record, w io.Writer) error {
	name1, err := a.store.DocName(rec.DocA)
	if err != nil {
		return err
	}
	name2, err := a.store.DocName(rec.DocB)
	if err != nil {
		return err
	}
	toks1, err := a.cache.Tokens(ctx, rec.DocA)
	if err != nil {
		return err
	}
	toks2, err := a.cache.Tokens(ctx, rec.DocB)
	if err != nil {
		return err
	}

	start := time.Now()
	result := a.align(toks1, toks2)
	if a.metrics != nil {
		a.metrics.AlignmentDuration.Observe(time.Since(start).Seconds())
		a.metrics.AlignmentsTotal.WithLabelValues(result.Outcome.String()).Inc()
	}
	if result.Outcome != OutcomeOK {
		a.logger.Debug("alignment degraded",
			"outcome", result.Outcome.String(),
			"id1", rec.DocA,
			"id2", rec.DocB,
		)
	}

	for _, al := range result.Alignments {
		if al.End1-al.Start1 < a.cfg.Ngram {
			continue
		}
		if err := writeRecord(w, rec.DocA, rec.DocB, name1, name2, len(toks1.Terms), len(toks2.Terms), al); err != nil {
			return err
		}
	}
	return nil
}

// align runs passage discovery and local alignment with a degradation
// ladder: SWG on anchor passages, then the raw anchor passages, then a
// zero-span record.
func (a *Aligner) align(toks1, toks2 index.Tokens) PairResult {
	if a.cfg.Ngram == 0 {
		if al, err := a.alignSpan(toks1, toks2, span{0, len(toks1.Terms)}, span{0, len(toks2.Terms)}); err == nil {
			return PairResult{Outcome: OutcomeOK, Alignments: []Alignment{al}}
		}
		return PairResult{Outcome: OutcomeEmpty, Alignments: []Alignment{{}}}
	}

	matches := MatchingNgrams(toks1.Terms, toks2.Terms, a.cfg.Ngram)
	passages := BestPassages(matches, a.cfg.Ngram, a.cfg.MaxGap, a.cfg.MinMatches, a.cfg.MinDensity)
	if len(passages) == 0 {
		return PairResult{Outcome: OutcomeEmpty, Alignments: []Alignment{{}}}
	}

	aligned := make([]Alignment, 0, len(passages))
	degraded := false
	for _, p := range passages {
		al, err := a.alignSpan(toks1, toks2, span{p.Start1, p.End1}, span{p.Start2, p.End2})
		if err != nil {
			degraded = true
			aligned = append(aligned, anchorFallback(toks1, toks2, p))
			continue
		}
		aligned = append(aligned, al)
	}
	outcome := OutcomeOK
	if degraded {
		outcome = OutcomeFallback
	}
	return PairResult{Outcome: outcome, Alignments: aligned}
}

type span struct{ start, end int }

// alignSpan runs SWG on the character windows of two token spans and maps the
// aligned window back to token coordinates.
func (a *Aligner) alignSpan(toks1, toks2 index.Tokens, s1, s2 span) (Alignment, error) {
	text1, base1 := spanText(toks1, s1)
	text2, base2 := spanText(toks2, s2)
	res, err := SWG(text1, text2, a.cfg.GapOpen, a.cfg.GapExtend)
	if err != nil {
		return Alignment{}, err
	}
	t1s, t1e := tokenSpan(toks1, base1+res.CharStart1, base1+res.CharEnd1)
	t2s, t2e := tokenSpan(toks2, base2+res.CharStart2, base2+res.CharEnd2)
	return Alignment{
		Seq1:   res.Seq1,
		Seq2:   res.Seq2,
		Start1: t1s,
		End1:   t1e,
		Start2: t2s,
		End2:   t2e,
		Stats:  res.AlignmentStats(),
	}, nil
}

// anchorFallback turns a raw anchor passage into an alignment record with
// zero stats and the ungapped span texts.
func anchorFallback(toks1, toks2 index.Tokens, p Passage) Alignment {
	text1, _ := spanText(toks1, span{p.Start1, p.End1})
	text2, _ := spanText(toks2, span{p.Start2, p.End2})
	return Alignment{
		Seq1:   text1,
		Seq2:   text2,
		Start1: p.Start1,
		End1:   p.End1,
		Start2: p.Start2,
		End2:   p.End2,
	}
}

// spanText returns the raw text under a token span and its character base.
func spanText(toks index.Tokens, s span) (string, int) {
	if len(toks.Terms) == 0 || s.start >= s.end {
		return "", 0
	}
	end := s.end
	if end > len(toks.Terms) {
		end = len(toks.Terms)
	}
	cb := toks.Begin[s.start]
	ce := toks.End[end-1]
	return toks.Text[cb:ce], cb
}

// tokenSpan maps a character window to the half-open token range it covers.
func tokenSpan(toks index.Tokens, charStart, charEnd int) (int, int) {
	s := sort.Search(len(toks.Terms), func(i int) bool {
		return toks.End[i] > charStart
	})
	e := sort.Search(len(toks.Terms), func(i int) bool {
		return toks.Begin[i] >= charEnd
	})
	if e < s {
		e = s
	}
	return s, e
}

// writeRecord emits the 16 tab-separated fields of one alignment.
func writeRecord(w io.Writer, id1, id2 int, name1, name2 string, len1, len2 int, al Alignment) error {
	matchLen1 := al.End1 - al.Start1
	matchLen2 := al.End2 - al.Start2
	frac1, frac2 := 0.0, 0.0
	if len1 > 0 {
		frac1 = float64(matchLen1) / float64(len1)
	}
	if len2 > 0 {
		frac2 = float64(matchLen2) / float64(len2)
	}
	_, err := fmt.Fprintf(w, "%d\t%g\t%g\t%d\t%d\t%g\t%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
		matchLen1, frac1, frac2,
		al.Stats.Matches, al.Stats.Gaps, al.Stats.Score,
		id1, id2, name1, name2,
		al.Start1, al.End1, al.Start2, al.End2,
		flatten(al.Seq1), flatten(al.Seq2),
	)
	return err
}

// flatten keeps gapped sequences on one TSV line.
func flatten(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}
