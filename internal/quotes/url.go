package quotes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pverkind/passim/internal/index"
)

// Box is an OCR bounding box in page-image coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// WordAlign is one aligned word pair, with the page word's bounding box when
// the OCR metadata carries one.
type WordAlign struct {
	Ref  string `json:"ref"`
	Page string `json:"page"`
	Box  *Box   `json:"box,omitempty"`
}

var (
	coordsAttr = regexp.MustCompile(`coords="(\d+),(\d+),(\d+),(\d+)"`)
	pageAnchor = regexp.MustCompile(`<w p=(?:")?(\d+)`)
)

// buildURL derives the best locator for a page passage. OCR coords in the
// raw token text yield an image URL for the enclosing bounding box; <w p=…>
// anchors yield a page-anchored URL; otherwise the document metadata URL
// stands.
func buildURL(template string, meta map[string]string, toks index.Tokens, start, end int) string {
	base := meta["url"]
	raw := rawWindow(toks, start, end)
	if box, ok := enclosingBox(raw); ok {
		if template != "" {
			return fmt.Sprintf(template, box.X, box.Y, box.W, box.H)
		}
		if base != "" {
			return fmt.Sprintf("%s#xywh=%d,%d,%d,%d", base, box.X, box.Y, box.W, box.H)
		}
		return ""
	}
	if m := pageAnchor.FindStringSubmatch(raw); m != nil && base != "" {
		return fmt.Sprintf("%s#page=%s", base, m[1])
	}
	return base
}

// rawWindow returns the raw text under a token range, padded so inline
// markup between tokens (coords attributes, page anchors) stays visible.
func rawWindow(toks index.Tokens, start, end int) string {
	if len(toks.Terms) == 0 || start >= end {
		return ""
	}
	if start < 0 {
		start = 0
	}
	if end > len(toks.Terms) {
		end = len(toks.Terms)
	}
	lo := toks.Begin[start] - 64
	if lo < 0 {
		lo = 0
	}
	hi := toks.End[end-1] + 64
	if hi > len(toks.Text) {
		hi = len(toks.Text)
	}
	return toks.Text[lo:hi]
}

// enclosingBox unions every coords attribute in the raw passage text.
func enclosingBox(raw string) (Box, bool) {
	matches := coordsAttr.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return Box{}, false
	}
	minX, minY := 1<<31, 1<<31
	maxX, maxY := 0, 0
	for _, m := range matches {
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		w, _ := strconv.Atoi(m[3])
		h, _ := strconv.Atoi(m[4])
		if x < minX {
			minX = x
		}
		if y < minY {
			minY = y
		}
		if x+w > maxX {
			maxX = x + w
		}
		if y+h > maxY {
			maxY = y + h
		}
	}
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// wordAligns splits the gapped alignment into word pairs at positions where
// both sequences carry a space, attaching page-side bounding boxes when the
// OCR text provides them.
func wordAligns(seq1, seq2 string, pageToks index.Tokens, pageStart int) []WordAlign {
	var out []WordAlign
	var w1, w2 strings.Builder
	wordIdx := pageStart
	flush := func() {
		ref := strings.ReplaceAll(w1.String(), "-", "")
		page := strings.ReplaceAll(w2.String(), "-", "")
		if ref != "" || page != "" {
			wa := WordAlign{Ref: ref, Page: page}
			if page != "" && wordIdx < len(pageToks.Terms) {
				if box, ok := enclosingBox(tokenContext(pageToks, wordIdx)); ok {
					wa.Box = &box
				}
			}
			out = append(out, wa)
			if page != "" {
				wordIdx++
			}
		}
		w1.Reset()
		w2.Reset()
	}
	for i := 0; i < len(seq1) && i < len(seq2); i++ {
		if seq1[i] == ' ' && seq2[i] == ' ' {
			flush()
			continue
		}
		w1.WriteByte(seq1[i])
		w2.WriteByte(seq2[i])
	}
	flush()
	return out
}

// tokenContext returns the raw text surrounding one page token, wide enough
// to cover an inline coords attribute.
func tokenContext(toks index.Tokens, i int) string {
	lo := toks.Begin[i] - 64
	if lo < 0 {
		lo = 0
	}
	hi := toks.End[i] + 64
	if hi > len(toks.Text) {
		hi = len(toks.Text)
	}
	return toks.Text[lo:hi]
}
