package btree

import (
	"encoding/binary"
	"math"
)

// Numeric constrains keys and values to the fixed-width numeric types this
// tree supports: the arithmetic-midpoint inner-split separator needs
// ordered, divisible keys, so rather than support arbitrary comparable
// types via reflection or unsafe, this tree is restricted to the numeric
// family and driven by an explicit Codec[T], the standard reflection-free
// idiom for fixed-width generic (de)serialization.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Codec packs and unpacks a fixed-width value of type T to and from a
// little-endian byte slice of exactly Size bytes.
type Codec[T any] struct {
	Size int
	Put  func(buf []byte, v T)
	Get  func(buf []byte) T
}

// Uint64Codec packs a uint64 into 8 little-endian bytes.
var Uint64Codec = Codec[uint64]{
	Size: 8,
	Put:  func(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) },
	Get:  func(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) },
}

// Int64Codec packs an int64 into 8 little-endian bytes via its unsigned bit
// pattern.
var Int64Codec = Codec[int64]{
	Size: 8,
	Put:  func(buf []byte, v int64) { binary.LittleEndian.PutUint64(buf, uint64(v)) },
	Get:  func(buf []byte) int64 { return int64(binary.LittleEndian.Uint64(buf)) },
}

// Uint32Codec packs a uint32 into 4 little-endian bytes.
var Uint32Codec = Codec[uint32]{
	Size: 4,
	Put:  func(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) },
	Get:  func(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) },
}

// Int32Codec packs an int32 into 4 little-endian bytes via its unsigned bit
// pattern.
var Int32Codec = Codec[int32]{
	Size: 4,
	Put:  func(buf []byte, v int32) { binary.LittleEndian.PutUint32(buf, uint32(v)) },
	Get:  func(buf []byte) int32 { return int32(binary.LittleEndian.Uint32(buf)) },
}

// Float64Codec packs a float64 into 8 little-endian bytes via its IEEE 754
// bit pattern.
var Float64Codec = Codec[float64]{
	Size: 8,
	Put:  func(buf []byte, v float64) { binary.LittleEndian.PutUint64(buf, math.Float64bits(v)) },
	Get:  func(buf []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(buf)) },
}
