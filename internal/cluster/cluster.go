// Package cluster groups aligned passages into reprint families by greedy
// single-link clustering over span overlap, with quota filters that keep one
// publication's self-reprints from dominating a family.
package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/pverkind/passim/internal/corpus"
	"github.com/pverkind/passim/pkg/config"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
	"github.com/pverkind/passim/pkg/metrics"
)

// Member is one document's span inside a cluster.
type Member struct {
	DocID  int
	Name   string
	Series string
	Start  int
	End    int
	Score  float64
}

// Clusterer holds the single-link state. Cluster ids are assigned
// monotonically and never reused; merged clusters keep the smallest id among
// the merged set.
type Clusterer struct {
	cfg      config.ClusterConfig
	top      int
	members  map[int]map[int]Member
	clusters map[int][]int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClusterer creates an empty Clusterer. m may be nil.
func NewClusterer(cfg config.ClusterConfig, m *metrics.Metrics) *Clusterer {
	return &Clusterer{
		cfg:      cfg,
		top:      1,
		members:  make(map[int]map[int]Member),
		clusters: make(map[int][]int),
		metrics:  m,
		logger:   slog.Default().With("component", "clusterer"),
	}
}

// Run consumes alignment records from r, then filters and emits the clusters
// to w as JSON lines.
func (c *Clusterer) Run(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		r1, r2, err := parseAlignmentRecord(text)
		if err != nil {
			return pkgerrors.NewRecordError(err, line, text)
		}
		c.Add(r1, r2)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading alignment records: %w", err)
	}
	return c.Emit(w)
}

// parseAlignmentRecord extracts the two member records from one 16-field TSV
// line of the scores stage.
func parseAlignmentRecord(text string) (Member, Member, error) {
	fields := strings.Split(text, "\t")
	if len(fields) < 14 {
		return Member{}, Member{}, fmt.Errorf("%w: want at least 14 fields, got %d", pkgerrors.ErrMalformedRecord, len(fields))
	}
	score, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return Member{}, Member{}, fmt.Errorf("%w: bad score %q", pkgerrors.ErrMalformedRecord, fields[5])
	}
	ints := make([]int, 0, 6)
	for _, i := range []int{6, 7, 10, 11, 12, 13} {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return Member{}, Member{}, fmt.Errorf("%w: bad integer %q", pkgerrors.ErrMalformedRecord, fields[i])
		}
		ints = append(ints, v)
	}
	r1 := Member{
		DocID:  ints[0],
		Name:   fields[8],
		Series: corpus.SeriesName(fields[8]),
		Start:  ints[2],
		End:    ints[3],
		Score:  score,
	}
	r2 := Member{
		DocID:  ints[1],
		Name:   fields[9],
		Series: corpus.SeriesName(fields[9]),
		Start:  ints[4],
		End:    ints[5],
		Score:  score,
	}
	return r1, r2, nil
}

// Add links one alignment record into the cluster state.
func (c *Clusterer) Add(r1, r2 Member) {
	matches := c.linkable(r1)
	for _, cid := range c.linkable(r2) {
		if !containsInt(matches, cid) {
			matches = append(matches, cid)
		}
	}
	switch {
	case len(matches) >= 2:
		c.merge(matches, r1, r2)
	case len(matches) == 1:
		cid := matches[0]
		c.members[cid][r1.DocID] = r1
		c.members[cid][r2.DocID] = r2
		c.attach(r1.DocID, cid)
		c.attach(r2.DocID, cid)
	default:
		cid := c.top
		c.top++
		c.members[cid] = map[int]Member{r1.DocID: r1, r2.DocID: r2}
		c.attach(r1.DocID, cid)
		c.attach(r2.DocID, cid)
	}
}

// linkable returns the clusters the record's document already belongs to
// whose stored span overlaps the new span past the linkage threshold.
func (c *Clusterer) linkable(r Member) []int {
	var out []int
	for _, cid := range c.clusters[r.DocID] {
		prev, ok := c.members[cid][r.DocID]
		if !ok {
			continue
		}
		if c.overlaps(r, prev) {
			out = append(out, cid)
		}
	}
	return out
}

func (c *Clusterer) overlaps(a, b Member) bool {
	inter := minInt(a.End, b.End) - maxInt(a.Start, b.Start)
	if c.cfg.MinOverlap > 0 {
		return inter >= c.cfg.MinOverlap
	}
	if inter < 0 {
		inter = 0
	}
	longest := maxInt(a.End-a.Start, b.End-b.Start)
	if longest == 0 {
		return false
	}
	return float64(inter)/float64(longest) >= c.cfg.RelativeOverlap
}

// merge unifies the matched clusters into the smallest cid and rewrites the
// membership of every document that appeared in any of them.
func (c *Clusterer) merge(matches []int, r1, r2 Member) {
	sort.Ints(matches)
	survivor := matches[0]
	for _, cid := range matches[1:] {
		for docID, m := range c.members[cid] {
			c.members[survivor][docID] = m
		}
		delete(c.members, cid)
	}
	c.members[survivor][r1.DocID] = r1
	c.members[survivor][r2.DocID] = r2
	merged := make(map[int]bool, len(matches))
	for _, cid := range matches {
		merged[cid] = true
	}
	for docID := range c.members[survivor] {
		kept := c.clusters[docID][:0]
		seen := false
		for _, cid := range c.clusters[docID] {
			if merged[cid] {
				if !seen {
					kept = append(kept, survivor)
					seen = true
				}
				continue
			}
			kept = append(kept, cid)
		}
		if !seen {
			kept = append(kept, survivor)
		}
		c.clusters[docID] = kept
	}
}

func (c *Clusterer) attach(docID, cid int) {
	if !containsInt(c.clusters[docID], cid) {
		c.clusters[docID] = append(c.clusters[docID], cid)
	}
}

// outputCluster is the rendered form: members as [name, start, end] tuples.
type outputCluster struct {
	ID      int     `json:"id"`
	Size    int     `json:"size"`
	Members [][]any `json:"members"`
}

// Emit applies the quota filters, sorts by size descending, renumbers, and
// writes one JSON object per line.
func (c *Clusterer) Emit(w io.Writer) error {
	type pending struct {
		members []Member
		size    int
		key     string
	}
	var kept []pending
	for _, byDoc := range c.members {
		if c.metrics != nil {
			c.metrics.ClustersBuilt.Inc()
		}
		ms := make([]Member, 0, len(byDoc))
		for _, m := range byDoc {
			ms = append(ms, m)
		}
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].Name != ms[j].Name {
				return ms[i].Name < ms[j].Name
			}
			return ms[i].Start < ms[j].Start
		})
		topRep := topRepeats(ms)
		if c.cfg.MaxProportion < 1 && float64(topRep)/float64(len(ms)) > c.cfg.MaxProportion {
			c.drop("proportion")
			continue
		}
		if topRep > c.cfg.MaxRepeats {
			c.drop("repeats")
			continue
		}
		names := make(map[string]bool, len(ms))
		var key strings.Builder
		for _, m := range ms {
			names[m.Name] = true
			fmt.Fprintf(&key, "%s\x00%d\x00%d\x00", m.Name, m.Start, m.End)
		}
		kept = append(kept, pending{members: ms, size: len(names), key: key.String()})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].size != kept[j].size {
			return kept[i].size > kept[j].size
		}
		return kept[i].key < kept[j].key
	})
	enc := json.NewEncoder(w)
	for i, p := range kept {
		out := outputCluster{ID: i + 1, Size: p.size, Members: make([][]any, 0, len(p.members))}
		for _, m := range p.members {
			out.Members = append(out.Members, []any{m.Name, m.Start, m.End})
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("writing cluster: %w", err)
		}
	}
	c.logger.Info("clustering done", "clusters", len(kept))
	return nil
}

// topRepeats counts the most heavily repeated series within one cluster.
func topRepeats(ms []Member) int {
	counts := make(map[string]int)
	top := 0
	for _, m := range ms {
		counts[m.Series]++
		if counts[m.Series] > top {
			top = counts[m.Series]
		}
	}
	return top
}

func (c *Clusterer) drop(reason string) {
	if c.metrics != nil {
		c.metrics.ClustersDropped.WithLabelValues(reason).Inc()
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
