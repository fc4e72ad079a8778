package btree

import "github.com/SimonWaldherr/tinykv/internal/storage/page"

// insertAt inserts v at position idx in s, shifting the tail right by one.
func insertAt[T any](s []T, idx int, v T) []T {
	s = append(s, v)
	copy(s[idx+1:], s[idx:len(s)-1])
	s[idx] = v
	return s
}

// lowerBoundSlice returns the index of the first element >= target in a
// plain ascending slice, and whether it equals target exactly. Used by the
// leaf-split path, which works against freshly sliced key copies rather
// than a decoded leafNode.
func lowerBoundSlice[K Numeric](s []K, target K) (int, bool) {
	for i, k := range s {
		if k == target {
			return i, true
		}
		if k > target {
			return i, false
		}
	}
	return len(s), false
}

// childIndex returns the position of id within children, or -1.
func childIndex(children []page.ID, id page.ID) int {
	for i, c := range children {
		if c == id {
			return i
		}
	}
	return -1
}

// midpoint computes the arithmetic mean of two keys with integer/float
// division, the inner-split separator rule for numeric keys.
func midpoint[K Numeric](a, b K) K {
	return (a + b) / 2
}
