// Package corpus holds the document and series model shared by the stages.
// A document name decomposes into (series, issue) on the first "/": the
// series identifies the source publication, and pairs within one series are
// never emitted.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pverkind/passim/internal/index"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// SeriesName returns the series prefix of a document name.
func SeriesName(docName string) string {
	if i := strings.IndexByte(docName, '/'); i >= 0 {
		return docName[:i]
	}
	return docName
}

// SeriesMap is a dense docID -> seriesID lookup. Series ids are assigned in
// first-seen order starting at 1; 0 means unknown and only ever compares
// unequal to real ids.
type SeriesMap struct {
	ids      []int
	names    []string
	bySeries map[string]int
}

func newSeriesMap(maxDocID int) *SeriesMap {
	return &SeriesMap{
		ids:      make([]int, maxDocID+1),
		names:    []string{""},
		bySeries: make(map[string]int),
	}
}

func (m *SeriesMap) intern(series string) int {
	if id, ok := m.bySeries[series]; ok {
		return id
	}
	id := len(m.names)
	m.names = append(m.names, series)
	m.bySeries[series] = id
	return id
}

func (m *SeriesMap) set(docID, seriesID int) {
	for docID >= len(m.ids) {
		m.ids = append(m.ids, 0)
	}
	m.ids[docID] = seriesID
}

// Series returns the series id for a document, or 0 when unknown.
func (m *SeriesMap) Series(docID int) int {
	if docID < 0 || docID >= len(m.ids) {
		return 0
	}
	return m.ids[docID]
}

// SeriesName returns the series name for a series id, or "" when unknown.
func (m *SeriesMap) SeriesName(seriesID int) string {
	if seriesID < 0 || seriesID >= len(m.names) {
		return ""
	}
	return m.names[seriesID]
}

// Len returns the size of the dense table (maxDocID+1).
func (m *SeriesMap) Len() int { return len(m.ids) }

// SeriesMapFromStore scans the index's name table and groups documents by the
// series prefix of each name.
func SeriesMapFromStore(st index.Store) (*SeriesMap, error) {
	m := newSeriesMap(st.MaxDocID())
	for id := 0; id <= st.MaxDocID(); id++ {
		name, err := st.DocName(id)
		if err != nil {
			continue
		}
		m.set(id, m.intern(SeriesName(name)))
	}
	return m, nil
}

// LoadSeriesMap reads a precomputed docId\tseriesId TSV. The max id equals
// the last line's id.
func LoadSeriesMap(r io.Reader) (*SeriesMap, error) {
	m := newSeriesMap(0)
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
		docID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("series map line %d: %w", line, err)
		}
		seriesID, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("series map line %d: %w", line, err)
		}
		for seriesID >= len(m.names) {
			m.names = append(m.names, strconv.Itoa(len(m.names)))
		}
		m.set(docID, seriesID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading series map: %w", err)
	}
	return m, nil
}
