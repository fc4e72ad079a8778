// Package segment provides a thin facade binding one segment id to the
// shared buffer manager, used as the base any on-disk structure (here, the
// B+ tree) builds on.
package segment

import (
	"sync"

	"github.com/SimonWaldherr/tinykv/internal/storage/buffer"
	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// Segment binds a segment id to a *buffer.Manager. It owns no state of its
// own beyond that binding and a monotonically increasing next-page counter,
// which is segment-local and kept in memory only — never persisted. nextMu
// guards next so concurrent callers never observe or hand out the same
// page id twice.
type Segment struct {
	id      uint16
	manager *buffer.Manager

	nextMu sync.Mutex
	next   uint64
}

// New binds id to manager. next is the first unallocated intra-segment page
// offset (0 if the segment is new).
func New(id uint16, manager *buffer.Manager, next uint64) *Segment {
	return &Segment{id: id, manager: manager, next: next}
}

// ID returns the bound segment id.
func (s *Segment) ID() uint16 { return s.id }

// Manager returns the shared buffer manager this segment reads and writes
// pages through.
func (s *Segment) Manager() *buffer.Manager { return s.manager }

// Alloc returns the next unused page id in this segment and advances the
// counter.
func (s *Segment) Alloc() page.ID {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	id := page.Make(s.id, s.next)
	s.next++
	return id
}

// Fix pins the page holding id via the bound manager.
func (s *Segment) Fix(id page.ID, exclusive bool) (buffer.Ref, error) {
	return s.manager.Fix(id, exclusive)
}

// Unfix releases a reference obtained from Fix.
func (s *Segment) Unfix(ref buffer.Ref, dirty bool) {
	s.manager.Unfix(ref, dirty)
}
