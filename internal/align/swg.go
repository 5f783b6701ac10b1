// Package align recovers the exact reused spans inside candidate document
// pairs: n-gram anchor chaining proposes locally dense passages, and
// Smith–Waterman–Gotoh local alignment with affine gaps recovers the
// character-level correspondence.
package align

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

const (
	matchScore    = 2
	mismatchScore = -1

	// maxCells bounds the dynamic-programming matrix. Oversized problems
	// return ErrAlignmentFailed so the caller can degrade to the anchor
	// passages instead of exhausting memory.
	maxCells = 16 << 20
)

// Aligned is the raw output of one local alignment: the gapped character
// strings ('-' marks a gap) and the character windows they cover in each
// input.
type Aligned struct {
	Seq1, Seq2 string
	CharStart1 int
	CharEnd1   int
	CharStart2 int
	CharEnd2   int
	Score      float64
}

// Stats are the derived alignment statistics.
type Stats struct {
	Matches int
	Gaps    int
	Score   float64
}

// substitution is the identity matrix over alphanumerics: equal characters
// reward, everything else penalises.
func substitution(a, b byte) float32 {
	if a == b {
		return matchScore
	}
	return mismatchScore
}

// SWG runs Smith–Waterman–Gotoh local alignment on two character strings.
func SWG(s1, s2 string, gapOpen, gapExtend float64) (Aligned, error) {
	n, m := len(s1), len(s2)
	if n == 0 || m == 0 {
		return Aligned{}, fmt.Errorf("empty sequence: %w", pkgerrors.ErrAlignmentFailed)
	}
	cells := (n + 1) * (m + 1)
	if cells > maxCells {
		return Aligned{}, fmt.Errorf("alignment matrix %dx%d too large: %w", n, m, pkgerrors.ErrAlignmentFailed)
	}
	open := float32(gapOpen)
	extend := float32(gapExtend)

	h := make([]float32, cells)
	e := make([]float32, cells)
	f := make([]float32, cells)
	idx := func(i, j int) int { return i*(m+1) + j }

	var best float32
	bestI, bestJ := 0, 0
	negInf := float32(-1e30)
	for j := 0; j <= m; j++ {
		e[idx(0, j)] = negInf
		f[idx(0, j)] = negInf
	}
	for i := 1; i <= n; i++ {
		e[idx(i, 0)] = negInf
		f[idx(i, 0)] = negInf
		for j := 1; j <= m; j++ {
			k := idx(i, j)
			eVal := h[idx(i, j-1)] - open
			if prev := e[idx(i, j-1)] - extend; prev > eVal {
				eVal = prev
			}
			e[k] = eVal
			fVal := h[idx(i-1, j)] - open
			if prev := f[idx(i-1, j)] - extend; prev > fVal {
				fVal = prev
			}
			f[k] = fVal
			hVal := h[idx(i-1, j-1)] + substitution(s1[i-1], s2[j-1])
			if eVal > hVal {
				hVal = eVal
			}
			if fVal > hVal {
				hVal = fVal
			}
			if hVal < 0 {
				hVal = 0
			}
			h[k] = hVal
			if hVal > best {
				best = hVal
				bestI, bestJ = i, j
			}
		}
	}
	if best <= 0 {
		return Aligned{}, fmt.Errorf("no positive-scoring window: %w", pkgerrors.ErrAlignmentFailed)
	}

	var b1, b2 strings.Builder
	i, j := bestI, bestJ
	for i > 0 && j > 0 && h[idx(i, j)] > 0 {
		k := idx(i, j)
		switch {
		case h[k] == h[idx(i-1, j-1)]+substitution(s1[i-1], s2[j-1]):
			b1.WriteByte(s1[i-1])
			b2.WriteByte(s2[j-1])
			i--
			j--
		case h[k] == e[k]:
			// gap run in sequence 1
			for j > 0 {
				b1.WriteByte('-')
				b2.WriteByte(s2[j-1])
				j--
				if e[idx(i, j+1)] != e[idx(i, j)]-extend {
					break
				}
			}
		case h[k] == f[k]:
			for i > 0 {
				b1.WriteByte(s1[i-1])
				b2.WriteByte('-')
				i--
				if f[idx(i+1, j)] != f[idx(i, j)]-extend {
					break
				}
			}
		default:
			// float ties resolved as a diagonal step
			b1.WriteByte(s1[i-1])
			b2.WriteByte(s2[j-1])
			i--
			j--
		}
	}
	return Aligned{
		Seq1:       reverse(b1.String()),
		Seq2:       reverse(b2.String()),
		CharStart1: i,
		CharEnd1:   bestI,
		CharStart2: j,
		CharEnd2:   bestJ,
		Score:      float64(best),
	}, nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// AlignmentStats reports matches (equal non-gap positions), gaps (gap run
// opens on either side), and the alignment score.
func (a Aligned) AlignmentStats() Stats {
	st := Stats{Score: a.Score}
	inGap := false
	for i := 0; i < len(a.Seq1) && i < len(a.Seq2); i++ {
		c1, c2 := a.Seq1[i], a.Seq2[i]
		if c1 == '-' || c2 == '-' {
			if !inGap {
				st.Gaps++
				inGap = true
			}
			continue
		}
		inGap = false
		if c1 == c2 {
			st.Matches++
		}
	}
	return st
}
