// Package diskio implements positional, fixed-size block read/write against
// one file per segment. It has no knowledge of page headers, node shapes,
// or the tree above it — the buffer manager is the only caller.
package diskio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// Store owns one backing file per segment, named by decimal segment id: the
// file holds the segment's pages back-to-back with no file header and no
// metadata page.
type Store struct {
	dir      string
	pageSize int

	mu    sync.Mutex
	files map[uint16]*os.File
}

// Open returns a Store rooted at dir, creating dir if it does not exist.
func Open(dir string, pageSize int) (*Store, error) {
	if !page.ValidPageSize(pageSize) {
		return nil, fmt.Errorf("diskio: invalid page size %d", pageSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskio: create dir %q: %w", dir, err)
	}
	return &Store{
		dir:      dir,
		pageSize: pageSize,
		files:    make(map[uint16]*os.File),
	}, nil
}

func (s *Store) fileFor(segment uint16) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[segment]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%d", segment))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open segment %d: %w", segment, err)
	}
	s.files[segment] = f
	return f, nil
}

// ReadPage reads page_size bytes for id into buf, which must have length
// page_size. Reading a page past the current end of the segment file (a page
// never written) yields a zero-filled buffer, matching a freshly allocated
// page.
func (s *Store) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("diskio: buffer length %d != page size %d", len(buf), s.pageSize)
	}
	f, err := s.fileFor(id.Segment())
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	_, err = f.ReadAt(buf, id.ByteOffset(s.pageSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("diskio: read %v: %w", id, err)
	}
	return nil
}

// WritePage writes buf (length page_size) to id's position in its segment
// file.
func (s *Store) WritePage(id page.ID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("diskio: buffer length %d != page size %d", len(buf), s.pageSize)
	}
	f, err := s.fileFor(id.Segment())
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, id.ByteOffset(s.pageSize)); err != nil {
		return fmt.Errorf("diskio: write %v: %w", id, err)
	}
	return nil
}

// Close closes every open segment file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for seg, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("diskio: close segment %d: %w", seg, err)
		}
	}
	s.files = make(map[uint16]*os.File)
	return first
}
