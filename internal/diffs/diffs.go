// Package diffs extracts word-level substitution pairs from aligned
// passages: windows where one central token pair differs while every
// neighbor matches, useful for tracking systematic rewordings across
// reprints.
package diffs

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pverkind/passim/internal/index"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// Substitution is one flagged word replacement.
type Substitution struct {
	Date  string
	Doc   string
	Word1 string
	Word2 string
}

// alignedWords splits two gapped strings into corresponding word pairs at
// positions where both sequences carry a space.
func alignedWords(seq1, seq2 string) (w1, w2 []string) {
	var b1, b2 strings.Builder
	flush := func() {
		w1 = append(w1, strings.ReplaceAll(b1.String(), "-", ""))
		w2 = append(w2, strings.ReplaceAll(b2.String(), "-", ""))
		b1.Reset()
		b2.Reset()
	}
	for i := 0; i < len(seq1) && i < len(seq2); i++ {
		if seq1[i] == ' ' && seq2[i] == ' ' {
			flush()
			continue
		}
		b1.WriteByte(seq1[i])
		b2.WriteByte(seq2[i])
	}
	if b1.Len() > 0 || b2.Len() > 0 {
		flush()
	}
	return w1, w2
}

// Extract flags central substitutions in windows of gram aligned word pairs.
// Both words must exceed 7 characters, appear in dict, and every neighbor
// pair in the window must match exactly.
func Extract(seq1, seq2 string, gram int, dict map[string]struct{}) [][2]string {
	if gram < 3 || gram%2 == 0 {
		gram = 3
	}
	w1, w2 := alignedWords(seq1, seq2)
	half := gram / 2
	var out [][2]string
	for c := half; c+half < len(w1); c++ {
		if w1[c] == w2[c] {
			continue
		}
		if len(w1[c]) <= 7 || len(w2[c]) <= 7 {
			continue
		}
		if _, ok := dict[w1[c]]; !ok {
			continue
		}
		if _, ok := dict[w2[c]]; !ok {
			continue
		}
		clean := true
		for off := -half; off <= half; off++ {
			if off == 0 {
				continue
			}
			if w1[c+off] != w2[c+off] || w1[c+off] == "" {
				clean = false
				break
			}
		}
		if clean {
			out = append(out, [2]string{w1[c], w2[c]})
		}
	}
	return out
}

// LoadDict reads one word per line.
func LoadDict(r io.Reader) (map[string]struct{}, error) {
	dict := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			dict[word] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	return dict, nil
}

// Run reads alignment TSV records, extracts substitutions, and writes them
// ordered by document date.
func Run(store index.Store, gram int, dict map[string]struct{}, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	var subs []Substitution
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 16 {
			return pkgerrors.NewRecordError(pkgerrors.ErrMalformedRecord, line, text)
		}
		name2 := fields[9]
		date := ""
		if id, ok := store.DocID(name2); ok {
			if meta, err := store.Metadata(id); err == nil {
				date = meta["date"]
			}
		}
		for _, pair := range Extract(fields[14], fields[15], gram, dict) {
			subs = append(subs, Substitution{Date: date, Doc: name2, Word1: pair[0], Word2: pair[1]})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading alignment records: %w", err)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Date != subs[j].Date {
			return subs[i].Date < subs[j].Date
		}
		return subs[i].Doc < subs[j].Doc
	})
	for _, s := range subs {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Date, s.Doc, s.Word1, s.Word2); err != nil {
			return err
		}
	}
	return nil
}
