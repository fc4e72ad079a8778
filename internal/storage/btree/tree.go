// Package btree implements a fixed-arity B+ tree index: an ordered map of
// fixed-width numeric keys to fixed-width numeric values, each node stored
// in one page of a segment. Nodes keep no on-disk parent back-pointer; the
// descent path from root to current node is threaded through explicitly
// instead. Leaf inserts always check for an existing key before ever
// consulting capacity, so an overwrite never triggers a spurious split.
package btree

import (
	"fmt"
	"sync"

	"github.com/SimonWaldherr/tinykv/internal/storage/buffer"
	"github.com/SimonWaldherr/tinykv/internal/storage/page"
	"github.com/SimonWaldherr/tinykv/internal/storage/segment"
)

// Tree is an ordered K→V map backed by one segment's worth of pages.
// Concurrent Insert/Lookup/Erase calls are not serialized against each
// other at the tree level: correctness comes from crab-latching down the
// page tree (each descent step fixes the next page before unfixing the
// current one, so locks are only ever acquired top-down and never released
// out of order) plus the buffer manager's own per-frame locks. mu is a
// short-lived lock guarding only root/hasRoot — the one piece of shared
// state that sits outside any page — the way Manager.mu guards just the
// pool index and never page contents.
type Tree[K Numeric, V Numeric] struct {
	seg *segment.Segment
	kc  Codec[K]
	vc  Codec[V]

	leafCap  int
	innerCap int

	mu      sync.RWMutex
	root    page.ID
	hasRoot bool

	tombMu     sync.Mutex
	tombstones map[K]struct{}
}

type splitResult[K Numeric] struct {
	sep     K
	rightID page.ID
}

// New constructs an empty tree over seg, whose pages are pageSize bytes.
// The tree begins with no root page; the first insert materialises it.
func New[K Numeric, V Numeric](seg *segment.Segment, pageSize int, kc Codec[K], vc Codec[V]) (*Tree[K, V], error) {
	if seg.Manager().PageSize() != pageSize {
		return nil, fmt.Errorf("btree: page size %d does not match manager page size %d", pageSize, seg.Manager().PageSize())
	}
	lc := leafCapacity(pageSize, kc.Size, vc.Size)
	ic := innerCapacity(pageSize, kc.Size)
	if lc < 2 {
		return nil, fmt.Errorf("btree: page size %d too small to hold any leaf entries for key/value sizes %d/%d", pageSize, kc.Size, vc.Size)
	}
	if ic < 2 {
		return nil, fmt.Errorf("btree: page size %d too small to hold any inner entries for key size %d", pageSize, kc.Size)
	}
	return &Tree[K, V]{
		seg:        seg,
		kc:         kc,
		vc:         vc,
		leafCap:    lc,
		innerCap:   ic,
		tombstones: make(map[K]struct{}),
	}, nil
}

// LeafCapacity returns K_leaf for this tree's page size and codecs.
func (t *Tree[K, V]) LeafCapacity() int { return t.leafCap }

// InnerCapacity returns K_inner for this tree's page size and codec.
func (t *Tree[K, V]) InnerCapacity() int { return t.innerCap }

// getRoot returns the current root page id and whether one exists yet.
func (t *Tree[K, V]) getRoot() (page.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root, t.hasRoot
}

// setRoot installs id as the tree's root.
func (t *Tree[K, V]) setRoot(id page.ID) {
	t.mu.Lock()
	t.root = id
	t.hasRoot = true
	t.mu.Unlock()
}

func (t *Tree[K, V]) isTombstoned(key K) bool {
	t.tombMu.Lock()
	defer t.tombMu.Unlock()
	_, ok := t.tombstones[key]
	return ok
}

func (t *Tree[K, V]) tombstoneAdd(key K) {
	t.tombMu.Lock()
	t.tombstones[key] = struct{}{}
	t.tombMu.Unlock()
}

func (t *Tree[K, V]) tombstoneClear(key K) {
	t.tombMu.Lock()
	delete(t.tombstones, key)
	t.tombMu.Unlock()
}

// Lookup returns the value for key, or (zero, false) if absent or erased.
func (t *Tree[K, V]) Lookup(key K) (V, bool, error) {
	var zero V
	root, hasRoot := t.getRoot()
	if !hasRoot {
		return zero, false, nil
	}
	if t.isTombstoned(key) {
		return zero, false, nil
	}

	ref, err := t.seg.Fix(root, false)
	if err != nil {
		return zero, false, err
	}
	for {
		data := ref.Data()
		if peekLevel(data) == 0 {
			leaf := decodeLeaf[K, V](data, t.kc, t.vc, t.leafCap)
			idx, exact := leaf.lowerBound(key)
			t.seg.Unfix(ref, false)
			if !exact {
				return zero, false, nil
			}
			return leaf.values[idx], true, nil
		}
		inner := decodeInner[K](data, t.kc, t.innerCap)
		next := inner.children[inner.childFor(key)]

		// Fix the child before unfixing the current page: locks are taken
		// top-down and a page is never released until its successor is
		// already held.
		nextRef, err := t.seg.Fix(next, false)
		if err != nil {
			t.seg.Unfix(ref, false)
			return zero, false, err
		}
		t.seg.Unfix(ref, false)
		ref = nextRef
	}
}

// Insert inserts key→val, overwriting any existing value for key.
func (t *Tree[K, V]) Insert(key K, val V) error {
	root, hasRoot := t.getRoot()
	if !hasRoot {
		id := t.seg.Alloc()
		ref, err := t.seg.Fix(id, true)
		if err != nil {
			return err
		}
		leaf := &leafNode[K, V]{keys: []K{key}, values: []V{val}}
		leaf.encode(ref.Data(), t.kc, t.vc, t.leafCap)
		t.seg.Unfix(ref, true)
		t.setRoot(id)
		t.tombstoneClear(key)
		return nil
	}

	// path holds the root-to-current ancestor chain, threaded explicitly
	// rather than stored in any node.
	var path []page.ID
	cur := root
	ref, err := t.seg.Fix(cur, true)
	if err != nil {
		return err
	}

	for {
		data := ref.Data()

		if peekLevel(data) == 0 {
			split, err := t.insertLeaf(ref, key, val)
			if err != nil {
				return err
			}
			t.tombstoneClear(key)
			if split == nil {
				return nil
			}
			return t.attachSplit(path, cur, split.sep, split.rightID)
		}

		inner := decodeInner[K](data, t.kc, t.innerCap)

		// An inner node left overfull by a prior operation's propagation
		// is split here, before this descent continues past it.
		if len(inner.children) == t.innerCap+1 {
			sep, rightID, leftNode, rightNode, err := t.splitInner(ref, inner)
			if err != nil {
				return err
			}
			if err := t.attachSplit(path, cur, sep, rightID); err != nil {
				return err
			}
			var next page.ID
			if key <= sep {
				path = append(path, cur)
				next = leftNode.children[leftNode.childFor(key)]
			} else {
				path = append(path, rightID)
				next = rightNode.children[rightNode.childFor(key)]
			}
			// splitInner already unfixed ref after rewriting both halves, so
			// the chosen child is fixed fresh rather than carried
			// forward from a still-held reference.
			cur = next
			ref, err = t.seg.Fix(cur, true)
			if err != nil {
				return err
			}
			continue
		}

		next := inner.children[inner.childFor(key)]

		// Fix the child before unfixing the current page: a page is never
		// released until its successor down the path is already held.
		nextRef, err := t.seg.Fix(next, true)
		if err != nil {
			t.seg.Unfix(ref, false)
			return err
		}
		t.seg.Unfix(ref, false)
		path = append(path, cur)
		cur = next
		ref = nextRef
	}
}

// insertLeaf applies the leaf-insert rule to the page already fixed
// exclusive in ref: an existing key is always detected and overwritten
// before capacity is even consulted, and only a genuinely new key that
// does not fit triggers a split.
func (t *Tree[K, V]) insertLeaf(ref buffer.Ref, key K, val V) (*splitResult[K], error) {
	data := ref.Data()
	leaf := decodeLeaf[K, V](data, t.kc, t.vc, t.leafCap)

	idx, exact := leaf.lowerBound(key)
	if exact {
		leaf.values[idx] = val
		leaf.encode(data, t.kc, t.vc, t.leafCap)
		t.seg.Unfix(ref, true)
		return nil, nil
	}

	if len(leaf.keys) < t.leafCap {
		leaf.keys = insertAt(leaf.keys, idx, key)
		leaf.values = insertAt(leaf.values, idx, val)
		leaf.encode(data, t.kc, t.vc, t.leafCap)
		t.seg.Unfix(ref, true)
		return nil, nil
	}

	return t.splitLeaf(ref, leaf, key, val)
}

// splitLeaf implements the leaf split: mid = (K_leaf+1)/2, the separator
// is the largest key remaining in the left half, and the new key lands in
// the left leaf iff it is <= that separator.
func (t *Tree[K, V]) splitLeaf(ref buffer.Ref, leaf *leafNode[K, V], key K, val V) (*splitResult[K], error) {
	mid := (t.leafCap + 1) / 2

	leftKeys := append([]K{}, leaf.keys[:mid]...)
	leftVals := append([]V{}, leaf.values[:mid]...)
	rightKeys := append([]K{}, leaf.keys[mid:]...)
	rightVals := append([]V{}, leaf.values[mid:]...)
	sep := leftKeys[len(leftKeys)-1]

	if key <= sep {
		pos, _ := lowerBoundSlice(leftKeys, key)
		leftKeys = insertAt(leftKeys, pos, key)
		leftVals = insertAt(leftVals, pos, val)
	} else {
		pos, _ := lowerBoundSlice(rightKeys, key)
		rightKeys = insertAt(rightKeys, pos, key)
		rightVals = insertAt(rightVals, pos, val)
	}

	left := &leafNode[K, V]{keys: leftKeys, values: leftVals}
	left.encode(ref.Data(), t.kc, t.vc, t.leafCap)
	t.seg.Unfix(ref, true)

	rightID := t.seg.Alloc()
	rref, err := t.seg.Fix(rightID, true)
	if err != nil {
		return nil, err
	}
	right := &leafNode[K, V]{keys: rightKeys, values: rightVals}
	right.encode(rref.Data(), t.kc, t.vc, t.leafCap)
	t.seg.Unfix(rref, true)

	return &splitResult[K]{sep: sep, rightID: rightID}, nil
}

// splitInner implements the inner split: mid = 1 + (K_inner-1)/2, and the
// promoted separator is the arithmetic midpoint of the two keys
// surrounding the split position. ref (fixed exclusive on entry) is
// unfixed by this call after the left half is rewritten in place; the
// returned leftNode/rightNode let the caller pick which half to continue
// descending into without re-reading from disk.
func (t *Tree[K, V]) splitInner(ref buffer.Ref, inner *innerNode[K]) (K, page.ID, *innerNode[K], *innerNode[K], error) {
	var zero K
	level := peekLevel(ref.Data())
	mid := 1 + (t.innerCap-1)/2

	sep := midpoint(inner.keys[mid-1], inner.keys[mid])

	left := &innerNode[K]{
		keys:     append([]K{}, inner.keys[:mid-1]...),
		children: append([]page.ID{}, inner.children[:mid]...),
	}
	right := &innerNode[K]{
		keys:     append([]K{}, inner.keys[mid:]...),
		children: append([]page.ID{}, inner.children[mid:]...),
	}

	left.encode(ref.Data(), level, t.kc, t.innerCap)
	t.seg.Unfix(ref, true)

	rightID := t.seg.Alloc()
	rref, err := t.seg.Fix(rightID, true)
	if err != nil {
		return zero, 0, nil, nil, err
	}
	right.encode(rref.Data(), level, t.kc, t.innerCap)
	t.seg.Unfix(rref, true)

	return sep, rightID, left, right, nil
}

// attachSplit inserts (sep, rightID) as a new separator/child pair into the
// parent of leftID — the last entry of path — or grows a new root if leftID
// had no parent. It does not itself check whether the parent becomes
// overfull: that check happens lazily, the next time a descent passes
// through the parent.
func (t *Tree[K, V]) attachSplit(path []page.ID, leftID page.ID, sep K, rightID page.ID) error {
	if len(path) == 0 {
		return t.growRoot(leftID, sep, rightID)
	}

	parentID := path[len(path)-1]
	ref, err := t.seg.Fix(parentID, true)
	if err != nil {
		return err
	}
	data := ref.Data()
	level := peekLevel(data)
	inner := decodeInner[K](data, t.kc, t.innerCap)

	pos := childIndex(inner.children, leftID)
	if pos < 0 {
		t.seg.Unfix(ref, false)
		return fmt.Errorf("%w: child %v not found in parent %v", ErrInvariantViolated, leftID, parentID)
	}

	inner.keys = insertAt(inner.keys, pos, sep)
	inner.children = insertAt(inner.children, pos+1, rightID)
	inner.encode(data, level, t.kc, t.innerCap)
	t.seg.Unfix(ref, true)
	return nil
}

// growRoot allocates a new root: an inner page with
// two children (the old root on the left, the new split page on the
// right), level = old root's level + 1.
func (t *Tree[K, V]) growRoot(leftID page.ID, sep K, rightID page.ID) error {
	lref, err := t.seg.Fix(leftID, false)
	if err != nil {
		return err
	}
	childLevel := peekLevel(lref.Data())
	t.seg.Unfix(lref, false)

	newRootID := t.seg.Alloc()
	ref, err := t.seg.Fix(newRootID, true)
	if err != nil {
		return err
	}
	root := &innerNode[K]{keys: []K{sep}, children: []page.ID{leftID, rightID}}
	root.encode(ref.Data(), childLevel+1, t.kc, t.innerCap)
	t.seg.Unfix(ref, true)

	t.setRoot(newRootID)
	return nil
}

// Erase removes key's mapping: the leaf entry is physically shifted out,
// but no merge or rebalance happens; a tombstone is recorded so Lookup
// treats the key as absent even where a leaf still physically holds it.
// Erasing an absent key is a no-op, so repeated erasure is idempotent.
func (t *Tree[K, V]) Erase(key K) error {
	root, hasRoot := t.getRoot()
	if !hasRoot {
		t.tombstoneAdd(key)
		return nil
	}

	cur := root
	ref, err := t.seg.Fix(cur, true)
	if err != nil {
		return err
	}
	for {
		data := ref.Data()

		if peekLevel(data) == 0 {
			leaf := decodeLeaf[K, V](data, t.kc, t.vc, t.leafCap)
			idx, exact := leaf.lowerBound(key)
			if exact {
				leaf.keys = append(leaf.keys[:idx], leaf.keys[idx+1:]...)
				leaf.values = append(leaf.values[:idx], leaf.values[idx+1:]...)
				leaf.encode(data, t.kc, t.vc, t.leafCap)
				t.seg.Unfix(ref, true)
			} else {
				t.seg.Unfix(ref, false)
			}
			t.tombstoneAdd(key)
			return nil
		}

		inner := decodeInner[K](data, t.kc, t.innerCap)
		next := inner.children[inner.childFor(key)]

		// Fix the child before unfixing the current page, same ordering
		// Insert relies on.
		nextRef, err := t.seg.Fix(next, true)
		if err != nil {
			t.seg.Unfix(ref, false)
			return err
		}
		t.seg.Unfix(ref, false)
		cur = next
		ref = nextRef
	}
}

// RootLevel reports the current root's level (0 if it is a leaf) and
// whether a root exists at all.
func (t *Tree[K, V]) RootLevel() (int, bool, error) {
	root, hasRoot := t.getRoot()
	if !hasRoot {
		return 0, false, nil
	}
	ref, err := t.seg.Fix(root, false)
	if err != nil {
		return 0, false, err
	}
	level := int(peekLevel(ref.Data()))
	t.seg.Unfix(ref, false)
	return level, true, nil
}
