package buffer

import (
	"errors"
	"fmt"

	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// ErrBufferFull is returned by Fix when the pool holds page_count resident
// frames, all pinned, and the requested page is not already resident.
// It is transient: the caller may retry once some frame is unfixed.
var ErrBufferFull = errors.New("buffer: pool full, no frame to evict")

// ErrIoFailed wraps an underlying block read/write failure. It is fatal to
// the operation in progress but pool invariants are preserved: the page
// that failed to load is never inserted into the pool index.
var ErrIoFailed = errors.New("buffer: io failed")

// ErrInvariantViolated signals a debug-mode assertion failure — a bug, not a
// recoverable condition.
var ErrInvariantViolated = errors.New("buffer: invariant violated")

func ioFailed(id page.ID, cause error) error {
	return fmt.Errorf("%w: page %v: %v", ErrIoFailed, id, cause)
}
