package btree

import "errors"

// ErrInvariantViolated signals an assertion failure in the tree — e.g. a
// descent reaches a child id absent from its parent's child array. It
// indicates a bug, not a recoverable condition.
var ErrInvariantViolated = errors.New("btree: invariant violated")
