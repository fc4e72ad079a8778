package buffer

import (
	"sync"

	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// Frame is a fixed-size in-memory slot holding one page's bytes. pinCount
// is guarded by the pool index mutex (Manager.mu); data is guarded by rw,
// the frame's own reader/writer lock, acquired shared for a non-exclusive
// fix and exclusive otherwise. Unfix sets dirty while the caller still
// holds rw. A loader holds rw exclusive across the disk read (and, on
// eviction, the write-back) that fills the frame.
type Frame struct {
	id   page.ID
	data []byte

	rw sync.RWMutex

	pinCount int
	dirty    bool

	// loadErr is set, while rw is still held by the loader, when the disk
	// read that was meant to populate this frame failed. A waiter that
	// fixed the frame before the failure (it was already resident in the
	// index) must check this once it acquires rw and propagate it instead
	// of returning a Ref over never-loaded bytes.
	loadErr error
}

// ID is the page currently resident in this frame.
func (f *Frame) ID() page.ID { return f.id }

// Data returns the frame's byte buffer. The caller must hold the frame
// locked (via a Ref returned from Manager.Fix) for the duration of any read
// or write.
func (f *Frame) Data() []byte { return f.data }

// Dirty reports whether this frame's contents differ from the on-disk page.
func (f *Frame) Dirty() bool { return f.dirty }

// Ref is the handle returned by Fix; it must be passed back to Unfix exactly
// once.
type Ref struct {
	frame     *Frame
	exclusive bool
}

// Page returns the page id this reference pins.
func (r Ref) Page() page.ID { return r.frame.ID() }

// Data returns the frame's byte buffer for reading or (if fixed exclusive)
// writing.
func (r Ref) Data() []byte { return r.frame.Data() }

// Exclusive reports whether this reference holds the frame's write lock.
func (r Ref) Exclusive() bool { return r.exclusive }
