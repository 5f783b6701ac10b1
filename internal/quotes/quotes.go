// Package quotes aligns reference texts against the corpus index: it probes
// the index with the reference's n-grams, chains the hits on each page into
// candidate spans, and locally aligns each span against the page.
package quotes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pverkind/passim/internal/align"
	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/internal/tokenize"
	"github.com/pverkind/passim/pkg/config"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
	"github.com/pverkind/passim/pkg/metrics"
)

// Hit is one emitted quote span.
type Hit struct {
	Date     string      `json:"date,omitempty"`
	Title    string      `json:"title,omitempty"`
	Language string      `json:"language,omitempty"`
	Score    float64     `json:"score"`
	LMScore  *float64    `json:"lmscore,omitempty"`
	Page     string      `json:"page"`
	Matches  int         `json:"matches"`
	Gaps     int         `json:"gaps"`
	SWScore  float64     `json:"swscore"`
	Start1   int         `json:"start1"`
	End1     int         `json:"end1"`
	Start2   int         `json:"start2"`
	End2     int         `json:"end2"`
	Text1    string      `json:"text1"`
	Align1   string      `json:"align1"`
	Align2   string      `json:"align2"`
	Cites    []string    `json:"cites"`
	Passage  string      `json:"passage"`
	URL      string      `json:"url,omitempty"`
	Words    []WordAlign `json:"words,omitempty"`
}

// refCorpus is the tokenized reference collection: one concatenated token
// stream with per-document boundaries, so any global position maps back to
// (refName, refPos).
type refCorpus struct {
	terms []string
	docOf []int
	names []string
}

func (rc *refCorpus) name(pos int) string {
	return rc.names[rc.docOf[pos]]
}

// hit is one n-gram probe result on one page.
type hit struct {
	refPos  int
	df      int
	pagePos []int
}

// Hunter is the quotes stage.
type Hunter struct {
	store   index.Store
	cfg     config.QuotesConfig
	bad     map[int]struct{}
	lm      map[string]float64
	metrics *metrics.Metrics
	logger  *slog.Logger
	langOf  func(string) string
}

// NewHunter creates a Hunter. badDocs holds external document names to
// exclude from probing (canonical texts that would echo the query); m may be
// nil.
func NewHunter(store index.Store, cfg config.QuotesConfig, badDocs []string, lm map[string]float64, m *metrics.Metrics) *Hunter {
	bad := make(map[int]struct{}, len(badDocs))
	for _, name := range badDocs {
		if id, ok := store.DocID(name); ok {
			bad[id] = struct{}{}
		}
	}
	h := &Hunter{
		store:   store,
		cfg:     cfg,
		bad:     bad,
		lm:      lm,
		metrics: m,
		logger:  slog.Default().With("component", "quote-hunter"),
	}
	if cfg.DetectLang {
		h.langOf = detectLanguage
	}
	return h
}

// LoadBadDocs reads one document name per line.
func LoadBadDocs(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading bad docs: %w", err)
	}
	return names, nil
}

// LoadLM reads a token\tlogprob TSV used for optional span scoring.
func LoadLM(r io.Reader) (map[string]float64, error) {
	lm := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, pkgerrors.NewRecordError(pkgerrors.ErrMalformedRecord, line, text)
		}
		p, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("language model line %d: %w", line, err)
		}
		lm[fields[0]] = p
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading language model: %w", err)
	}
	return lm, nil
}

// Run reads (name, text) TSV rows from r and emits one JSON hit per span.
func (h *Hunter) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	rc, err := readReferences(r)
	if err != nil {
		return err
	}
	if len(rc.terms) == 0 {
		return nil
	}
	pages := h.probe(ctx, rc)
	out := bufio.NewWriter(w)
	defer out.Flush()
	enc := json.NewEncoder(out)
	if h.cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	pageIDs := make([]int, 0, len(pages))
	for id := range pages {
		pageIDs = append(pageIDs, id)
	}
	sort.Ints(pageIDs)
	emitted := 0
	for _, pageID := range pageIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		hits, err := h.pageHits(rc, pageID, pages[pageID])
		if err != nil {
			return err
		}
		for _, ht := range hits {
			if err := enc.Encode(ht); err != nil {
				return fmt.Errorf("writing quote hit: %w", err)
			}
			emitted++
			if h.metrics != nil {
				h.metrics.QuoteHitsTotal.Inc()
			}
		}
	}
	h.logger.Info("quote hunt done", "pages", len(pages), "hits", emitted)
	return out.Flush()
}

// readReferences consumes name\ttext rows.
func readReferences(r io.Reader) (*refCorpus, error) {
	rc := &refCorpus{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		name, body, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, pkgerrors.NewRecordError(pkgerrors.ErrMalformedRecord, line, text)
		}
		doc := len(rc.names)
		rc.names = append(rc.names, name)
		tok := tokenize.Text(body)
		for _, term := range tok.Terms {
			rc.terms = append(rc.terms, term)
			rc.docOf = append(rc.docOf, doc)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading reference texts: %w", err)
	}
	return rc, nil
}

// probe queries the index once per distinct reference n-gram and inverts the
// postings into per-page hit lists. N-grams never straddle reference
// document boundaries.
func (h *Hunter) probe(ctx context.Context, rc *refCorpus) map[int][]hit {
	positions := make(map[string][]int)
	for pos := 0; pos+h.cfg.Gram <= len(rc.terms); pos++ {
		if rc.docOf[pos] != rc.docOf[pos+h.cfg.Gram-1] {
			continue
		}
		term := strings.Join(rc.terms[pos:pos+h.cfg.Gram], "~")
		positions[term] = append(positions[term], pos)
	}
	pages := make(map[int][]hit)
	for term, refPositions := range positions {
		if ctx.Err() != nil {
			break
		}
		entry, ok, err := h.store.Probe(term)
		if err != nil {
			h.logger.Error("index probe failed", "term", term, "error", err)
			continue
		}
		if !ok || entry.Total > h.cfg.MaxCount {
			continue
		}
		for _, p := range entry.Postings {
			if _, isBad := h.bad[p.DocID]; isBad {
				continue
			}
			for _, refPos := range refPositions {
				pages[p.DocID] = append(pages[p.DocID], hit{
					refPos:  refPos,
					df:      entry.Total,
					pagePos: p.Positions,
				})
			}
		}
	}
	return pages
}

// pageHits chains one page's hits into spans and aligns each surviving span.
func (h *Hunter) pageHits(rc *refCorpus, pageID int, hits []hit) ([]Hit, error) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].refPos < hits[j].refPos })
	var out []Hit
	var span []hit
	flush := func() error {
		if len(span) == 0 {
			return nil
		}
		ht, ok, err := h.alignSpan(rc, pageID, span)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, ht)
		}
		span = span[:0]
		return nil
	}
	for _, hi := range hits {
		if len(span) > 0 && hi.refPos-span[len(span)-1].refPos > h.cfg.MaxGap {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		span = append(span, hi)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// alignSpan scores one chained span, aligns it against the page, and builds
// the output record.
func (h *Hunter) alignSpan(rc *refCorpus, pageID int, span []hit) (Hit, bool, error) {
	score := 0.0
	start, end := span[0].refPos, span[0].refPos
	min2, max2 := -1, -1
	for _, hi := range span {
		score += math.Log1p(1 / float64(hi.df))
		if hi.refPos < start {
			start = hi.refPos
		}
		if hi.refPos > end {
			end = hi.refPos
		}
		for _, p := range hi.pagePos {
			if min2 < 0 || p < min2 {
				min2 = p
			}
			if p > max2 {
				max2 = p
			}
		}
	}
	if score < h.cfg.MinScore || min2 < 0 {
		return Hit{}, false, nil
	}
	end += h.cfg.Gram
	max2 += h.cfg.Gram

	pageName, err := h.store.DocName(pageID)
	if err != nil {
		return Hit{}, false, err
	}
	pageToks, err := h.store.Tokens(pageID)
	if err != nil {
		return Hit{}, false, err
	}
	meta, err := h.store.Metadata(pageID)
	if err != nil {
		meta = nil
	}

	ctx := h.cfg.Context
	refLo := clamp(start-ctx, 0, len(rc.terms))
	refHi := clamp(end+ctx, 0, len(rc.terms))
	pageLo := clamp(min2-ctx, 0, len(pageToks.Terms))
	pageHi := clamp(max2+ctx, 0, len(pageToks.Terms))

	refText := strings.Join(rc.terms[refLo:refHi], " ")
	pageText := strings.Join(pageToks.Terms[pageLo:pageHi], " ")
	res, err := align.SWG(refText, pageText, 5, 0.5)
	if err != nil {
		return Hit{}, false, nil
	}
	stats := res.AlignmentStats()

	// word-level bounds: spaces consumed before/inside the aligned window
	start1 := refLo + strings.Count(refText[:res.CharStart1], " ")
	end1 := refLo + strings.Count(refText[:res.CharEnd1], " ") + 1
	start2 := pageLo + strings.Count(pageText[:res.CharStart2], " ")
	end2 := pageLo + strings.Count(pageText[:res.CharEnd2], " ") + 1

	cites := []string{}
	seen := map[string]bool{}
	for pos := start; pos < end && pos < len(rc.terms); pos++ {
		name := rc.name(pos)
		if !seen[name] {
			seen[name] = true
			cites = append(cites, name)
		}
	}

	ht := Hit{
		Date:     meta["date"],
		Title:    meta["title"],
		Language: meta["language"],
		Score:    score,
		Page:     pageName,
		Matches:  stats.Matches,
		Gaps:     stats.Gaps,
		SWScore:  stats.Score,
		Start1:   start1,
		End1:     end1,
		Start2:   start2,
		End2:     end2,
		Text1:    strings.Join(rc.terms[clamp(start1, 0, len(rc.terms)):clamp(end1, 0, len(rc.terms))], " "),
		Align1:   res.Seq1,
		Align2:   res.Seq2,
		Cites:    cites,
		Passage:  passageText(pageToks, start2, end2),
		URL:      buildURL(h.cfg.URLTemplate, meta, pageToks, start2, end2),
	}
	if h.lm != nil {
		lmScore := h.lmScore(rc.terms[clamp(start1, 0, len(rc.terms)):clamp(end1, 0, len(rc.terms))])
		ht.LMScore = &lmScore
	}
	if ht.Language == "" && h.langOf != nil {
		ht.Language = h.langOf(ht.Text1)
	}
	if h.cfg.WordAligns {
		ht.Words = wordAligns(res.Seq1, res.Seq2, pageToks, start2)
	}
	return ht, true, nil
}

// lmScore sums token log probabilities, backing off to a small constant for
// unseen tokens.
func (h *Hunter) lmScore(terms []string) float64 {
	const unseen = -10.0
	s := 0.0
	for _, t := range terms {
		if p, ok := h.lm[t]; ok {
			s += p
		} else {
			s += unseen
		}
	}
	return s
}

// passageText returns the page's raw text under a token range.
func passageText(toks index.Tokens, start, end int) string {
	if len(toks.Terms) == 0 || start >= end {
		return ""
	}
	start = clamp(start, 0, len(toks.Terms)-1)
	end = clamp(end, start+1, len(toks.Terms))
	return toks.Text[toks.Begin[start]:toks.End[end-1]]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
