// Package bitmap implements the packed bit-vector layout shared with Redis
// bitmaps: index i lives in byte i/8, bit 0 of a byte is its most significant bit.
package bitmap

import (
	"fmt"

	"github.com/mrtnsch/checkboxes/internal/domain"
)

// MaxBits is the largest bit-vector Redis can address (512 MiB string).
const MaxBits = 1 << 32

// ByteLen returns the number of bytes needed to hold n bits.
func ByteLen(n int) int {
	return (n + 7) / 8
}

// CheckIndex reports whether index is a valid position in a vector of n bits.
func CheckIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: index %d, size %d", domain.ErrOutOfRange, index, n)
	}
	return nil
}

// Decode partitions the first n bits of raw into true and false indices.
// raw may be shorter than ByteLen(n) (Redis drops trailing zero bytes, a
// missing key yields nothing); absent bits read as false. Bits at or past n
// are ignored.
func Decode(raw []byte, n int) domain.Snapshot {
	snap := domain.Snapshot{
		TrueIndices:  make([]int, 0),
		FalseIndices: make([]int, 0, n),
	}
	for i := 0; i < n; i++ {
		if Bit(raw, i) {
			snap.TrueIndices = append(snap.TrueIndices, i)
		} else {
			snap.FalseIndices = append(snap.FalseIndices, i)
		}
	}
	return snap
}

// Encode packs a snapshot back into bytes of length ByteLen(n).
func Encode(snap domain.Snapshot, n int) []byte {
	raw := make([]byte, ByteLen(n))
	for _, i := range snap.TrueIndices {
		if i >= 0 && i < n {
			raw = Set(raw, i, true)
		}
	}
	return raw
}

// Bit returns bit index of raw, treating missing bytes as zero.
func Bit(raw []byte, index int) bool {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(raw) {
		return false
	}
	return raw[byteIndex]>>(7-uint(index%8))&1 == 1
}

// Set sets bit index of raw to value, growing raw with zero bytes if needed,
// and returns the (possibly reallocated) slice.
func Set(raw []byte, index int, value bool) []byte {
	byteIndex := index / 8
	if byteIndex >= len(raw) {
		if !value {
			return raw
		}
		grown := make([]byte, byteIndex+1)
		copy(grown, raw)
		raw = grown
	}
	mask := byte(1) << (7 - uint(index%8))
	if value {
		raw[byteIndex] |= mask
	} else {
		raw[byteIndex] &^= mask
	}
	return raw
}

// Count returns the number of set bits among the first n.
func Count(raw []byte, n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if Bit(raw, i) {
			count++
		}
	}
	return count
}
