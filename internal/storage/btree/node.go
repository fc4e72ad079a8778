package btree

import (
	"encoding/binary"

	"github.com/SimonWaldherr/tinykv/internal/storage/page"
)

// Page layout: a 4-byte common header -- level: u16 little-endian, count:
// u16 little-endian -- followed by either a leaf body (parallel key and
// value arrays) or an inner body (a key array followed by a child page id
// array). There is deliberately no on-disk parent back-reference: the
// parent id is threaded through the descent stack instead, so the header
// here is two fields, not three.
const (
	headerSize = 4
	pageIDSize = 8 // page.ID is a uint64
)

func peekLevel(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf[0:2])
}

func peekCount(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[2:4]))
}

func putHeader(buf []byte, level uint16, count int) {
	binary.LittleEndian.PutUint16(buf[0:2], level)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(count))
}

// leafCapacity computes K_leaf: floor(page_size / (sizeof(K)+sizeof(V))) - 2.
func leafCapacity(pageSize, keySize, valSize int) int {
	return pageSize/(keySize+valSize) - 2
}

// innerCapacity computes K_inner, reserving room in the page budget for
// the one extra, transient child slot an inner node carries between an
// insert that fills it to count == K_inner+1 and the preemptive split that
// follows, since the declared array shape is keys[K_inner], children[K_inner+1].
func innerCapacity(pageSize, keySize int) int {
	return (pageSize - headerSize - pageIDSize) / (keySize + pageIDSize)
}

// leafNode is the parsed, in-memory shape of a leaf page: two parallel
// arrays in ascending key order.
type leafNode[K Numeric, V Numeric] struct {
	keys   []K
	values []V
}

func decodeLeaf[K Numeric, V Numeric](buf []byte, kc Codec[K], vc Codec[V], capacity int) *leafNode[K, V] {
	count := peekCount(buf)
	n := &leafNode[K, V]{keys: make([]K, count), values: make([]V, count)}
	koff := headerSize
	voff := headerSize + capacity*kc.Size
	for i := 0; i < count; i++ {
		n.keys[i] = kc.Get(buf[koff+i*kc.Size:])
		n.values[i] = vc.Get(buf[voff+i*vc.Size:])
	}
	return n
}

func (n *leafNode[K, V]) encode(buf []byte, kc Codec[K], vc Codec[V], capacity int) {
	putHeader(buf, 0, len(n.keys))
	koff := headerSize
	voff := headerSize + capacity*kc.Size
	for i, k := range n.keys {
		kc.Put(buf[koff+i*kc.Size:], k)
	}
	for i, v := range n.values {
		vc.Put(buf[voff+i*vc.Size:], v)
	}
}

// lowerBound returns the index of the first key >= target, and whether that
// key equals target exactly. A plain linear scan: K_leaf is small enough --
// tens to low hundreds of entries for realistic page sizes -- that it costs
// about the same as a binary search in practice.
func (n *leafNode[K, V]) lowerBound(target K) (int, bool) {
	for i, k := range n.keys {
		if k == target {
			return i, true
		}
		if k > target {
			return i, false
		}
	}
	return len(n.keys), false
}

// innerNode is the parsed, in-memory shape of an inner page: count-1
// separator keys and count children.
type innerNode[K Numeric] struct {
	keys     []K
	children []page.ID
}

func decodeInner[K Numeric](buf []byte, kc Codec[K], keyCapacity int) *innerNode[K] {
	count := peekCount(buf)
	n := &innerNode[K]{keys: make([]K, count-1), children: make([]page.ID, count)}
	koff := headerSize
	coff := headerSize + keyCapacity*kc.Size
	for i := range n.keys {
		n.keys[i] = kc.Get(buf[koff+i*kc.Size:])
	}
	for i := range n.children {
		n.children[i] = page.ID(binary.LittleEndian.Uint64(buf[coff+i*pageIDSize:]))
	}
	return n
}

func (n *innerNode[K]) encode(buf []byte, level uint16, kc Codec[K], keyCapacity int) {
	putHeader(buf, level, len(n.children))
	koff := headerSize
	coff := headerSize + keyCapacity*kc.Size
	for i, k := range n.keys {
		kc.Put(buf[koff+i*kc.Size:], k)
	}
	for i, c := range n.children {
		binary.LittleEndian.PutUint64(buf[coff+i*pageIDSize:], uint64(c))
	}
}

// childFor finds the child index a descent for target should follow: the
// next child is children[i] when a separator key >= target exists, else
// children[count-1] (the rightmost child).
func (n *innerNode[K]) childFor(target K) int {
	for i, k := range n.keys {
		if k >= target {
			return i
		}
	}
	return len(n.children) - 1
}
