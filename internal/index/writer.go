package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Writer serialises an index part to disk. Production indexes are built by
// the external indexing toolchain; this writer exists so tests and small
// tooling can materialise fixture parts in the same on-disk format.
type Writer struct {
	dir string
}

// NewWriter creates a Writer targeting the given part directory.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write atomically creates the terms and docs segment files. Entries are
// sorted by key and postings by DocID before writing.
func (w *Writer) Write(entries []TermEntry, docs []DocRecord) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating index part directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	for i := range entries {
		sort.Slice(entries[i].Postings, func(a, b int) bool {
			return entries[i].Postings[a].DocID < entries[i].Postings[b].DocID
		})
	}
	termDict := make([]termDictEntry, 0, len(entries))
	err := writeSegment(filepath.Join(w.dir, termsFile), len(entries),
		func(emit func([]byte) (int64, int, error)) (any, error) {
			for _, e := range entries {
				data, err := json.Marshal(e.Postings)
				if err != nil {
					return nil, fmt.Errorf("marshaling postings for %q: %w", e.Term, err)
				}
				off, n, err := emit(data)
				if err != nil {
					return nil, err
				}
				termDict = append(termDict, termDictEntry{Term: e.Term, Total: e.Total, ValOffset: off, ValLen: n})
			}
			return termDict, nil
		})
	if err != nil {
		return err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	docDict := make([]docDictEntry, 0, len(docs))
	return writeSegment(filepath.Join(w.dir, docsFile), len(docs),
		func(emit func([]byte) (int64, int, error)) (any, error) {
			for _, d := range docs {
				data, err := json.Marshal(d)
				if err != nil {
					return nil, fmt.Errorf("marshaling doc %d: %w", d.ID, err)
				}
				off, n, err := emit(data)
				if err != nil {
					return nil, err
				}
				docDict = append(docDict, docDictEntry{ID: d.ID, Name: d.Name, ValOffset: off, ValLen: n})
			}
			return docDict, nil
		})
}

// writeSegment writes one segment file: header, value blobs, dictionary. It
// writes to a .tmp file first and renames on success.
func writeSegment(path string, entryCount int, body func(emit func([]byte) (int64, int, error)) (any, error)) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], magicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], formatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(entryCount))
	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	valStart, _ := f.Seek(0, 1)
	emit := func(data []byte) (int64, int, error) {
		offset, _ := f.Seek(0, 1)
		if _, err := f.Write(data); err != nil {
			return 0, 0, fmt.Errorf("writing value blob: %w", err)
		}
		return offset, len(data), nil
	}
	dict, err := body(emit)
	if err != nil {
		return err
	}
	valEnd, _ := f.Seek(0, 1)

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}

	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(valEnd))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(valStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(valEnd-valStart))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}
