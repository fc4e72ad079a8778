// Package buffer implements a paged buffer manager: a bounded pool of
// frames serviced by a two-queue (FIFO + LRU) replacement policy, backed by
// intrusive doubly-linked lists with a page-id index for O(1) lookup and
// promotion. Eviction scans from the FIFO head, then the LRU head, for the
// first unpinned frame.
package buffer

import (
	"sync"

	"github.com/SimonWaldherr/tinykv/internal/storage/diskio"
	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// slot is one pool-index entry: a page id, its frame, and its position in
// whichever of the two intrusive lists currently holds it.
type slot struct {
	id         page.ID
	frame      *Frame
	inLRU      bool
	prev, next *slot
}

// Manager owns a bounded pool of Frames, fixed for its lifetime.
type Manager struct {
	pageSize  int
	pageCount int
	store     *diskio.Store

	mu        sync.Mutex // pool index: the two lists + slot table. Fix and Unfix never wait on a frame lock or do disk I/O while holding it; Close holds it while flushing.
	slots     map[page.ID]*slot
	fifoHead  *slot
	fifoTail  *slot
	fifoLen   int
	lruHead   *slot
	lruTail   *slot
	lruLen    int
}

// New constructs a Manager backed by store, holding at most pageCount
// resident frames of pageSize bytes each. pageSize must be a power of two
// >= page.MinPageSize and pageCount must be >= 1.
func New(store *diskio.Store, pageSize, pageCount int) (*Manager, error) {
	if !page.ValidPageSize(pageSize) {
		return nil, ErrInvariantViolated
	}
	if pageCount < 1 {
		return nil, ErrInvariantViolated
	}
	return &Manager{
		pageSize:  pageSize,
		pageCount: pageCount,
		store:     store,
		slots:     make(map[page.ID]*slot, pageCount),
	}, nil
}

// PageSize returns the fixed page size this manager was constructed with.
func (m *Manager) PageSize() int { return m.pageSize }

// list removal/insertion helpers. All are called with m.mu held.

func (m *Manager) unlink(s *slot) {
	if s.inLRU {
		if s.prev != nil {
			s.prev.next = s.next
		} else {
			m.lruHead = s.next
		}
		if s.next != nil {
			s.next.prev = s.prev
		} else {
			m.lruTail = s.prev
		}
		m.lruLen--
	} else {
		if s.prev != nil {
			s.prev.next = s.next
		} else {
			m.fifoHead = s.next
		}
		if s.next != nil {
			s.next.prev = s.prev
		} else {
			m.fifoTail = s.prev
		}
		m.fifoLen--
	}
	s.prev, s.next = nil, nil
}

func (m *Manager) pushFIFOTail(s *slot) {
	s.inLRU = false
	s.prev, s.next = m.fifoTail, nil
	if m.fifoTail != nil {
		m.fifoTail.next = s
	} else {
		m.fifoHead = s
	}
	m.fifoTail = s
	m.fifoLen++
}

func (m *Manager) pushLRUTail(s *slot) {
	s.inLRU = true
	s.prev, s.next = m.lruTail, nil
	if m.lruTail != nil {
		m.lruTail.next = s
	} else {
		m.lruHead = s
	}
	m.lruTail = s
	m.lruLen++
}

// promote moves a resident slot found in FIFO to the LRU tail: a second
// fix is what earns a page a place in the recency-tracked queue.
func (m *Manager) promote(s *slot) {
	m.unlink(s)
	m.pushLRUTail(s)
}

// touch moves a resident slot already in LRU back to the LRU tail.
func (m *Manager) touch(s *slot) {
	m.unlink(s)
	m.pushLRUTail(s)
}

// evictVictim scans FIFO head-to-tail then LRU head-to-tail for the first
// unpinned frame, and unlinks + removes it from the slot table so no other
// fixer can observe a half-evicted slot once we release m.mu. Returns nil
// if no unpinned frame exists anywhere in the pool.
func (m *Manager) evictVictim() *slot {
	for s := m.fifoHead; s != nil; s = s.next {
		if s.frame.pinCount == 0 {
			m.unlink(s)
			delete(m.slots, s.id)
			return s
		}
	}
	for s := m.lruHead; s != nil; s = s.next {
		if s.frame.pinCount == 0 {
			m.unlink(s)
			delete(m.slots, s.id)
			return s
		}
	}
	return nil
}

// Fix returns a Ref to the frame holding id, loading it from disk if
// necessary. If exclusive, the caller obtains unique write access;
// otherwise shared read access. Returns ErrBufferFull when the pool is at
// capacity and every resident frame is pinned, and ErrIoFailed when the
// underlying block read fails.
func (m *Manager) Fix(id page.ID, exclusive bool) (Ref, error) {
	m.mu.Lock()

	if s, ok := m.slots[id]; ok {
		if s.inLRU {
			m.touch(s)
		} else {
			m.promote(s)
		}
		s.frame.pinCount++
		frame := s.frame
		m.mu.Unlock()

		lockFrame(frame, exclusive)
		if frame.loadErr != nil {
			err := frame.loadErr
			if exclusive {
				frame.rw.Unlock()
			} else {
				frame.rw.RUnlock()
			}
			m.mu.Lock()
			frame.pinCount--
			m.mu.Unlock()
			return Ref{}, ioFailed(id, err)
		}
		return Ref{frame: frame, exclusive: exclusive}, nil
	}

	if len(m.slots) < m.pageCount {
		frame := &Frame{id: id, data: make([]byte, m.pageSize), pinCount: 1}
		s := &slot{id: id, frame: frame}

		// Lock the frame before publishing it so any concurrent Fix(id)
		// that finds the slot resident blocks on frame.rw until this load
		// finishes, rather than racing the read.
		frame.rw.Lock()
		m.pushFIFOTail(s)
		m.slots[id] = s
		m.mu.Unlock()

		if err := m.store.ReadPage(id, frame.data); err != nil {
			frame.loadErr = err
			frame.rw.Unlock()
			m.mu.Lock()
			if s2, ok := m.slots[id]; ok && s2 == s {
				m.unlink(s2)
				delete(m.slots, id)
			}
			m.mu.Unlock()
			return Ref{}, ioFailed(id, err)
		}
		return m.finishLoad(frame, exclusive), nil
	}

	victim := m.evictVictim()
	if victim == nil {
		m.mu.Unlock()
		return Ref{}, ErrBufferFull
	}
	m.mu.Unlock()

	frame := victim.frame
	frame.rw.Lock()
	if frame.dirty {
		if err := m.store.WritePage(frame.id, frame.data); err != nil {
			frame.rw.Unlock()
			return Ref{}, ioFailed(frame.id, err)
		}
	}
	frame.id = id
	frame.dirty = false
	if err := m.store.ReadPage(id, frame.data); err != nil {
		frame.rw.Unlock()
		return Ref{}, ioFailed(id, err)
	}
	frame.pinCount = 1

	m.mu.Lock()
	newSlot := &slot{id: id, frame: frame}
	m.pushFIFOTail(newSlot)
	m.slots[id] = newSlot
	m.mu.Unlock()

	return m.finishLoad(frame, exclusive), nil
}

// finishLoad downgrades a just-loaded frame (locked exclusive while its
// bytes were read from disk) to the caller's requested mode.
func (m *Manager) finishLoad(frame *Frame, exclusive bool) Ref {
	if !exclusive {
		frame.rw.Unlock()
		frame.rw.RLock()
	}
	return Ref{frame: frame, exclusive: exclusive}
}

func lockFrame(frame *Frame, exclusive bool) {
	if exclusive {
		frame.rw.Lock()
	} else {
		frame.rw.RLock()
	}
}

// Unfix releases the access mode obtained by a matching Fix. If dirty,
// marks the frame dirty (sticky until flushed).
func (m *Manager) Unfix(ref Ref, dirty bool) {
	frame := ref.frame
	if dirty {
		frame.dirty = true
	}
	if ref.exclusive {
		frame.rw.Unlock()
	} else {
		frame.rw.RUnlock()
	}

	m.mu.Lock()
	frame.pinCount--
	m.mu.Unlock()
}

// FIFOIDs returns the page ids currently in the FIFO list, head to tail.
// Snapshot introspection for tests only.
func (m *Manager) FIFOIDs() []page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]page.ID, 0, m.fifoLen)
	for s := m.fifoHead; s != nil; s = s.next {
		ids = append(ids, s.id)
	}
	return ids
}

// LRUIDs returns the page ids currently in the LRU list, head to tail.
func (m *Manager) LRUIDs() []page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]page.ID, 0, m.lruLen)
	for s := m.lruHead; s != nil; s = s.next {
		ids = append(ids, s.id)
	}
	return ids
}

// Close flushes every resident dirty frame to disk, then closes the
// backing store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := m.fifoHead; s != nil; s = s.next {
		if err := m.flushLocked(s.frame); err != nil {
			return err
		}
	}
	for s := m.lruHead; s != nil; s = s.next {
		if err := m.flushLocked(s.frame); err != nil {
			return err
		}
	}
	return m.store.Close()
}

func (m *Manager) flushLocked(frame *Frame) error {
	if !frame.dirty {
		return nil
	}
	if err := m.store.WritePage(frame.id, frame.data); err != nil {
		return ioFailed(frame.id, err)
	}
	frame.dirty = false
	return nil
}
