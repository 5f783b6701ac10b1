package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/pverkind/passim/pkg/config"
)

func clusterConfig() config.ClusterConfig {
	return config.Default().Cluster
}

// record renders a minimal 16-field alignment line linking two spans.
func record(id1, id2 int, name1, name2 string, s1, e1, s2, e2 int) string {
	return fmt.Sprintf("%d\t0.5\t0.5\t100\t0\t200\t%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\tseq1\tseq2",
		e1-s1, id1, id2, name1, name2, s1, e1, s2, e2)
}

type outLine struct {
	ID      int     `json:"id"`
	Size    int     `json:"size"`
	Members [][]any `json:"members"`
}

func runCluster(t *testing.T, cfg config.ClusterConfig, lines ...string) []outLine {
	t.Helper()
	c := NewClusterer(cfg, nil)
	var sb strings.Builder
	input := strings.Join(lines, "\n") + "\n"
	if err := c.Run(strings.NewReader(input), &sb); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var out []outLine
	for _, l := range strings.Split(strings.TrimSpace(sb.String()), "\n") {
		if l == "" {
			continue
		}
		var o outLine
		if err := json.Unmarshal([]byte(l), &o); err != nil {
			t.Fatalf("bad output line %q: %v", l, err)
		}
		out = append(out, o)
	}
	return out
}

func TestClusterTriangle(t *testing.T) {
	// three alignment records forming a triangle with full span overlap
	out := runCluster(t, clusterConfig(),
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(2, 3, "s2/b", "s3/c", 0, 100, 0, 100),
		record(1, 3, "s1/a", "s3/c", 0, 100, 0, 100),
	)
	if len(out) != 1 {
		t.Fatalf("got %d clusters, want 1", len(out))
	}
	if out[0].Size != 3 {
		t.Errorf("size = %d, want 3", out[0].Size)
	}
	if out[0].ID != 1 {
		t.Errorf("id = %d, want 1", out[0].ID)
	}
}

func TestClusterMaxRepeats(t *testing.T) {
	// A and C come from series s1; max-repeats 1 drops the cluster
	cfg := clusterConfig()
	cfg.MaxRepeats = 1
	out := runCluster(t, cfg,
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(2, 3, "s2/b", "s1/c", 0, 100, 0, 100),
		record(1, 3, "s1/a", "s1/c", 0, 100, 0, 100),
	)
	if len(out) != 0 {
		t.Errorf("got %d clusters, want 0", len(out))
	}
}

func TestClusterMaxProportion(t *testing.T) {
	cfg := clusterConfig()
	cfg.MaxProportion = 0.5
	out := runCluster(t, cfg,
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(2, 3, "s2/b", "s1/c", 0, 100, 0, 100),
	)
	// three members, two from s1: proportion 2/3 > 0.5
	if len(out) != 0 {
		t.Errorf("got %d clusters, want 0", len(out))
	}
}

func TestClusterMergeOrderIndependence(t *testing.T) {
	a := runCluster(t, clusterConfig(),
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(3, 4, "s3/c", "s4/d", 0, 100, 0, 100),
		record(2, 3, "s2/b", "s3/c", 0, 100, 0, 100),
	)
	b := runCluster(t, clusterConfig(),
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(2, 3, "s2/b", "s3/c", 0, 100, 0, 100),
		record(3, 4, "s3/c", "s4/d", 0, 100, 0, 100),
	)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("clusters: %d vs %d, want 1 each", len(a), len(b))
	}
	if a[0].Size != 4 || b[0].Size != 4 {
		t.Errorf("sizes = %d, %d, want 4", a[0].Size, b[0].Size)
	}
	names := func(o outLine) []string {
		var ns []string
		for _, m := range o.Members {
			ns = append(ns, m[0].(string))
		}
		return ns
	}
	if strings.Join(names(a[0]), ",") != strings.Join(names(b[0]), ",") {
		t.Errorf("member sets differ: %v vs %v", names(a[0]), names(b[0]))
	}
}

func TestClusterMergeKeepsSmallestCid(t *testing.T) {
	c := NewClusterer(clusterConfig(), nil)
	r := func(id1, id2 int, n1, n2 string) (Member, Member) {
		m1, m2, err := parseAlignmentRecord(record(id1, id2, n1, n2, 0, 100, 0, 100))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return m1, m2
	}
	m1, m2 := r(1, 2, "s1/a", "s2/b")
	c.Add(m1, m2)
	m3, m4 := r(3, 4, "s3/c", "s4/d")
	c.Add(m3, m4)
	m5, m6 := r(2, 3, "s2/b", "s3/c")
	c.Add(m5, m6)
	if len(c.members) != 1 {
		t.Fatalf("clusters in state = %d, want 1", len(c.members))
	}
	if _, ok := c.members[1]; !ok {
		t.Error("merged cluster should keep the smallest cid")
	}
	// every document's cluster list must point at the survivor only
	for docID, cids := range c.clusters {
		if len(cids) != 1 || cids[0] != 1 {
			t.Errorf("doc %d clusters = %v, want [1]", docID, cids)
		}
	}
	// cid counter never reuses
	if c.top != 3 {
		t.Errorf("top = %d, want 3", c.top)
	}
}

func TestClusterDisjointSpansStaySeparate(t *testing.T) {
	// the same document carries two disjoint reused spans; it belongs to two
	// clusters at once
	out := runCluster(t, clusterConfig(),
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(1, 3, "s1/a", "s3/c", 500, 600, 0, 100),
	)
	if len(out) != 2 {
		t.Fatalf("got %d clusters, want 2", len(out))
	}
}

func TestClusterAbsoluteOverlap(t *testing.T) {
	cfg := clusterConfig()
	cfg.MinOverlap = 50
	// spans overlap by 40 tokens: below the absolute threshold
	out := runCluster(t, cfg,
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(1, 3, "s1/a", "s3/c", 60, 160, 0, 100),
	)
	if len(out) != 2 {
		t.Fatalf("absolute overlap: got %d clusters, want 2", len(out))
	}
	cfg.MinOverlap = 30
	out = runCluster(t, cfg,
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(1, 3, "s1/a", "s3/c", 60, 160, 0, 100),
	)
	if len(out) != 1 {
		t.Fatalf("absolute overlap: got %d clusters, want 1", len(out))
	}
}

func TestClusterOutputOrder(t *testing.T) {
	out := runCluster(t, clusterConfig(),
		record(1, 2, "s1/a", "s2/b", 0, 100, 0, 100),
		record(3, 4, "s3/c", "s4/d", 0, 100, 0, 100),
		record(4, 5, "s4/d", "s5/e", 0, 100, 0, 100),
	)
	if len(out) != 2 {
		t.Fatalf("got %d clusters, want 2", len(out))
	}
	if out[0].Size < out[1].Size {
		t.Error("clusters must be sorted by size descending")
	}
	if out[0].ID != 1 || out[1].ID != 2 {
		t.Errorf("final ids = %d,%d, want 1,2", out[0].ID, out[1].ID)
	}
}

func TestClusterMalformed(t *testing.T) {
	c := NewClusterer(clusterConfig(), nil)
	var sb strings.Builder
	if err := c.Run(strings.NewReader("too\tfew\tfields\n"), &sb); err == nil {
		t.Error("want error for malformed record")
	}
}
