package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// An index part is a directory holding two segment files: terms.pidx with the
// n-gram dictionary and posting lists, and docs.pidx with the per-document
// records (name, tokens, offsets, raw text, metadata). Both share the same
// binary layout: fixed header, JSON-encoded value blobs, JSON dictionary.
const (
	termsFile = "terms.pidx"
	docsFile  = "docs.pidx"

	magicBytes    uint32 = 0x50534d58
	formatVersion uint32 = 1
	headerSize    int    = 48
)

type segmentHeader struct {
	Magic      uint32
	Version    uint32
	EntryCount uint32
	DictOffset int64
	DictSize   int64
	ValOffset  int64
	ValSize    int64
}

type termDictEntry struct {
	Term      string `json:"t"`
	Total     int    `json:"n"`
	ValOffset int64  `json:"o"`
	ValLen    int    `json:"l"`
}

type docDictEntry struct {
	ID        int    `json:"i"`
	Name      string `json:"m"`
	ValOffset int64  `json:"o"`
	ValLen    int    `json:"l"`
}

// DocRecord is the stored form of one document.
type DocRecord struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Terms    []string          `json:"terms"`
	Begin    []int             `json:"begin"`
	End      []int             `json:"end"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"meta,omitempty"`
}

// SegmentStore reads an index part from disk.
type SegmentStore struct {
	termsF   *os.File
	docsF    *os.File
	termDict []termDictEntry
	docDict  []docDictEntry
	names    map[string]int
	byID     map[int]int
	maxDocID int
}

// Open opens the index part in dir.
func Open(dir string) (*SegmentStore, error) {
	tf, tdict, err := openSegment(filepath.Join(dir, termsFile))
	if err != nil {
		return nil, err
	}
	var termDict []termDictEntry
	if err := json.Unmarshal(tdict, &termDict); err != nil {
		tf.Close()
		return nil, fmt.Errorf("parsing term dictionary: %w", err)
	}
	df, ddict, err := openSegment(filepath.Join(dir, docsFile))
	if err != nil {
		tf.Close()
		return nil, err
	}
	var docDict []docDictEntry
	if err := json.Unmarshal(ddict, &docDict); err != nil {
		tf.Close()
		df.Close()
		return nil, fmt.Errorf("parsing doc dictionary: %w", err)
	}
	s := &SegmentStore{
		termsF:   tf,
		docsF:    df,
		termDict: termDict,
		docDict:  docDict,
		names:    make(map[string]int, len(docDict)),
		byID:     make(map[int]int, len(docDict)),
	}
	for i, d := range docDict {
		s.names[d.Name] = d.ID
		s.byID[d.ID] = i
		if d.ID > s.maxDocID {
			s.maxDocID = d.ID
		}
	}
	return s, nil
}

func openSegment(path string) (*os.File, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading segment header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != magicBytes {
		f.Close()
		return nil, nil, fmt.Errorf("invalid segment file %s: bad magic bytes %x", path, magic)
	}
	header := segmentHeader{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		EntryCount: binary.LittleEndian.Uint32(headerBytes[8:12]),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		ValOffset:  int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		ValSize:    int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading dictionary: %w", err)
	}
	return f, dictBytes, nil
}

func (s *SegmentStore) readPostings(e termDictEntry) (PostingList, error) {
	buf := make([]byte, e.ValLen)
	if _, err := s.termsF.ReadAt(buf, e.ValOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %q: %w", e.Term, err)
	}
	var postings PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for %q: %w", e.Term, err)
	}
	return postings, nil
}

// Probe returns the entry for an exact key.
func (s *SegmentStore) Probe(term string) (TermEntry, bool, error) {
	idx := sort.Search(len(s.termDict), func(i int) bool {
		return s.termDict[i].Term >= term
	})
	if idx >= len(s.termDict) || s.termDict[idx].Term != term {
		return TermEntry{}, false, nil
	}
	e := s.termDict[idx]
	postings, err := s.readPostings(e)
	if err != nil {
		return TermEntry{}, false, err
	}
	return TermEntry{Term: e.Term, Total: e.Total, Postings: postings}, true, nil
}

// Keys returns an iterator over all term entries in key order.
func (s *SegmentStore) Keys() KeyIterator {
	return &segmentKeyIterator{store: s, pos: -1}
}

type segmentKeyIterator struct {
	store *SegmentStore
	pos   int
	cur   TermEntry
	err   error
}

func (it *segmentKeyIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos >= len(it.store.termDict) {
		return false
	}
	e := it.store.termDict[it.pos]
	postings, err := it.store.readPostings(e)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = TermEntry{Term: e.Term, Total: e.Total, Postings: postings}
	return true
}

func (it *segmentKeyIterator) Entry() TermEntry { return it.cur }
func (it *segmentKeyIterator) Err() error       { return it.err }

func (s *SegmentStore) docRecord(id int) (DocRecord, error) {
	i, ok := s.byID[id]
	if !ok {
		return DocRecord{}, fmt.Errorf("doc %d: %w", id, pkgerrors.ErrDocumentNotFound)
	}
	e := s.docDict[i]
	buf := make([]byte, e.ValLen)
	if _, err := s.docsF.ReadAt(buf, e.ValOffset); err != nil {
		return DocRecord{}, fmt.Errorf("reading doc %d: %w", id, err)
	}
	var rec DocRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return DocRecord{}, fmt.Errorf("parsing doc %d: %w", id, err)
	}
	return rec, nil
}

// DocName resolves an internal id to the document's external name.
func (s *SegmentStore) DocName(id int) (string, error) {
	i, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("doc %d: %w", id, pkgerrors.ErrDocumentNotFound)
	}
	return s.docDict[i].Name, nil
}

// DocID resolves an external name.
func (s *SegmentStore) DocID(name string) (int, bool) {
	id, ok := s.names[name]
	return id, ok
}

// MaxDocID is the largest internal id present.
func (s *SegmentStore) MaxDocID() int { return s.maxDocID }

// Tokens fetches a document's word sequence and character offsets.
func (s *SegmentStore) Tokens(id int) (Tokens, error) {
	rec, err := s.docRecord(id)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Terms: rec.Terms, Begin: rec.Begin, End: rec.End, Text: rec.Text}, nil
}

// Metadata returns the document's metadata map.
func (s *SegmentStore) Metadata(id int) (map[string]string, error) {
	rec, err := s.docRecord(id)
	if err != nil {
		return nil, err
	}
	return rec.Metadata, nil
}

// Close closes both segment files.
func (s *SegmentStore) Close() error {
	err1 := s.termsF.Close()
	err2 := s.docsF.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
