// Package pairs enumerates candidate document pairs from an n-gram index and
// merges their feature emissions. Records flow between stages as one textual
// tuple per line: [[docA docB] [[token totalFreq tfA tfB] ...]].
package pairs

import (
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// Feature is one shared n-gram observation for a pair.
type Feature struct {
	Token string `json:"token"`
	Total int    `json:"total"`
	TFA   int    `json:"tfa"`
	TFB   int    `json:"tfb"`
}

// Record is a candidate pair with its shared features. DocA < DocB always.
type Record struct {
	DocA     int       `json:"docA"`
	DocB     int       `json:"docB"`
	Features []Feature `json:"features"`
}

// Key returns the grouping key used for sorting and Kafka partitioning.
func (r Record) Key() string {
	return fmt.Sprintf("%d:%d", r.DocA, r.DocB)
}

// String renders the record in the line format.
func (r Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[[%d %d] [", r.DocA, r.DocB)
	for i, f := range r.Features {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "[%q %d %d %d]", f.Token, f.Total, f.TFA, f.TFB)
	}
	b.WriteString("]]")
	return b.String()
}

// Parse reads one record line.
func Parse(line string) (Record, error) {
	p := &parser{s: line}
	rec, err := p.record()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", pkgerrors.ErrMalformedRecord, err)
	}
	p.ws()
	if p.pos != len(p.s) {
		return Record{}, fmt.Errorf("%w: trailing input at %d", pkgerrors.ErrMalformedRecord, p.pos)
	}
	return rec, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) ws() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.ws()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) int() (int, error) {
	p.ws()
	start := p.pos
	for p.pos < len(p.s) && (p.s[p.pos] == '-' || (p.s[p.pos] >= '0' && p.s[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected integer at %d", start)
	}
	return strconv.Atoi(p.s[start:p.pos])
}

func (p *parser) str() (string, error) {
	p.ws()
	if p.pos >= len(p.s) || p.s[p.pos] != '"' {
		return "", fmt.Errorf("expected string at %d", p.pos)
	}
	start := p.pos
	p.pos++
	for p.pos < len(p.s) {
		if p.s[p.pos] == '\\' {
			p.pos += 2
			continue
		}
		if p.s[p.pos] == '"' {
			p.pos++
			return strconv.Unquote(p.s[start:p.pos])
		}
		p.pos++
	}
	return "", fmt.Errorf("unterminated string at %d", start)
}

func (p *parser) record() (Record, error) {
	var rec Record
	if err := p.expect('['); err != nil {
		return rec, err
	}
	if err := p.expect('['); err != nil {
		return rec, err
	}
	var err error
	if rec.DocA, err = p.int(); err != nil {
		return rec, err
	}
	if rec.DocB, err = p.int(); err != nil {
		return rec, err
	}
	if err := p.expect(']'); err != nil {
		return rec, err
	}
	if err := p.expect('['); err != nil {
		return rec, err
	}
	for {
		p.ws()
		if p.pos < len(p.s) && p.s[p.pos] == ']' {
			p.pos++
			break
		}
		if err := p.expect('['); err != nil {
			return rec, err
		}
		var f Feature
		if f.Token, err = p.str(); err != nil {
			return rec, err
		}
		if f.Total, err = p.int(); err != nil {
			return rec, err
		}
		if f.TFA, err = p.int(); err != nil {
			return rec, err
		}
		if f.TFB, err = p.int(); err != nil {
			return rec, err
		}
		if err := p.expect(']'); err != nil {
			return rec, err
		}
		rec.Features = append(rec.Features, f)
	}
	if err := p.expect(']'); err != nil {
		return rec, err
	}
	return rec, nil
}
