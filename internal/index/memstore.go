package index

import (
	"fmt"
	"sort"

	"github.com/pverkind/passim/internal/tokenize"
	pkgerrors "github.com/pverkind/passim/pkg/errors"
)

// MemStore is an in-memory Store. Tests and small corpora build one directly
// from raw documents; it is also the staging structure the fixture Writer
// serialises from.
type MemStore struct {
	docs     map[int]DocRecord
	names    map[string]int
	terms    map[string]*TermEntry
	sorted   []string
	maxDocID int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:  make(map[int]DocRecord),
		names: make(map[string]int),
		terms: make(map[string]*TermEntry),
	}
}

// AddDocument tokenizes text and assigns the next internal id.
func (m *MemStore) AddDocument(name, text string, metadata map[string]string) int {
	id := m.maxDocID + 1
	tok := tokenize.Text(text)
	m.docs[id] = DocRecord{
		ID:       id,
		Name:     name,
		Terms:    tok.Terms,
		Begin:    tok.Begin,
		End:      tok.End,
		Text:     text,
		Metadata: metadata,
	}
	m.names[name] = id
	if id > m.maxDocID {
		m.maxDocID = id
	}
	return id
}

// Build computes the n-gram posting lists for all added documents. It must be
// called before any probe or scan; calling it again rebuilds from scratch.
func (m *MemStore) Build(gram int) {
	m.terms = make(map[string]*TermEntry)
	ids := make([]int, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		doc := m.docs[id]
		grams := tokenize.Ngrams(doc.Terms, gram)
		byGram := make(map[string][]int)
		for pos, g := range grams {
			byGram[g] = append(byGram[g], pos)
		}
		for g, positions := range byGram {
			entry, ok := m.terms[g]
			if !ok {
				entry = &TermEntry{Term: g}
				m.terms[g] = entry
			}
			entry.Postings = append(entry.Postings, Posting{
				DocID:     id,
				Frequency: len(positions),
				Positions: positions,
			})
		}
	}
	m.sorted = m.sorted[:0]
	for g, entry := range m.terms {
		entry.Total = len(entry.Postings)
		sort.Slice(entry.Postings, func(i, j int) bool {
			return entry.Postings[i].DocID < entry.Postings[j].DocID
		})
		m.sorted = append(m.sorted, g)
	}
	sort.Strings(m.sorted)
}

// Keys returns an iterator over all term entries in key order.
func (m *MemStore) Keys() KeyIterator {
	return &memKeyIterator{store: m, pos: -1}
}

type memKeyIterator struct {
	store *MemStore
	pos   int
}

func (it *memKeyIterator) Next() bool {
	it.pos++
	return it.pos < len(it.store.sorted)
}

func (it *memKeyIterator) Entry() TermEntry {
	return *it.store.terms[it.store.sorted[it.pos]]
}

func (it *memKeyIterator) Err() error { return nil }

// Probe returns the entry for an exact key.
func (m *MemStore) Probe(term string) (TermEntry, bool, error) {
	entry, ok := m.terms[term]
	if !ok {
		return TermEntry{}, false, nil
	}
	return *entry, true, nil
}

// DocName resolves an internal id to the document's external name.
func (m *MemStore) DocName(id int) (string, error) {
	doc, ok := m.docs[id]
	if !ok {
		return "", fmt.Errorf("doc %d: %w", id, pkgerrors.ErrDocumentNotFound)
	}
	return doc.Name, nil
}

// DocID resolves an external name.
func (m *MemStore) DocID(name string) (int, bool) {
	id, ok := m.names[name]
	return id, ok
}

// MaxDocID is the largest internal id present.
func (m *MemStore) MaxDocID() int { return m.maxDocID }

// Tokens fetches a document's word sequence and character offsets.
func (m *MemStore) Tokens(id int) (Tokens, error) {
	doc, ok := m.docs[id]
	if !ok {
		return Tokens{}, fmt.Errorf("doc %d: %w", id, pkgerrors.ErrDocumentNotFound)
	}
	return Tokens{Terms: doc.Terms, Begin: doc.Begin, End: doc.End, Text: doc.Text}, nil
}

// Metadata returns the document's metadata map.
func (m *MemStore) Metadata(id int) (map[string]string, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("doc %d: %w", id, pkgerrors.ErrDocumentNotFound)
	}
	return doc.Metadata, nil
}

// Close is a no-op for the memory store.
func (m *MemStore) Close() error { return nil }

// Records returns all documents in id order, for serialisation by the Writer.
func (m *MemStore) Records() []DocRecord {
	out := make([]DocRecord, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entries returns all term entries in key order, for the Writer.
func (m *MemStore) Entries() []TermEntry {
	out := make([]TermEntry, 0, len(m.sorted))
	for _, g := range m.sorted {
		out = append(out, *m.terms[g])
	}
	return out
}
