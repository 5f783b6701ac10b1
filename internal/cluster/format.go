package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pverkind/passim/internal/index"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// formatted mirrors the cluster line with passage text resolved per member.
type formattedMember struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Date  string `json:"date,omitempty"`
	Text  string `json:"text,omitempty"`
}

type formattedCluster struct {
	ID      int               `json:"id"`
	Size    int               `json:"size"`
	Members []formattedMember `json:"members"`
}

// Format renders cluster JSON lines human-readably, pulling each member's
// passage text and date from the index.
func Format(store index.Store, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var in outputCluster
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			return pkgerrors.NewRecordError(pkgerrors.ErrMalformedRecord, line, text)
		}
		out := formattedCluster{ID: in.ID, Size: in.Size}
		for _, tuple := range in.Members {
			if len(tuple) != 3 {
				return pkgerrors.NewRecordError(pkgerrors.ErrMalformedRecord, line, text)
			}
			name, _ := tuple[0].(string)
			start := asInt(tuple[1])
			end := asInt(tuple[2])
			fm := formattedMember{Name: name, Start: start, End: end}
			if id, ok := store.DocID(name); ok {
				if toks, err := store.Tokens(id); err == nil && start < end && end <= len(toks.Terms) {
					fm.Text = toks.Text[toks.Begin[start]:toks.End[end-1]]
				}
				if meta, err := store.Metadata(id); err == nil {
					fm.Date = meta["date"]
				}
			}
			out.Members = append(out.Members, fm)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("writing formatted cluster: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading cluster lines: %w", err)
	}
	return nil
}

// asInt handles JSON numbers decoded as float64.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
