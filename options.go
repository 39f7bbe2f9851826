// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

import (
	"fmt"
	"math/bits"
	"unsafe"

	"code.hybscloud.com/chunkpool/internal"
)

// Options describes a block pool's fixed shape: block_size, block_align and
// block_count. Values are validated with Valid and brought into normal form
// with Normalize before being handed to New.
type Options struct {
	BlockSize  uint64
	BlockAlign uint64
	BlockCount uint64
}

// Valid reports whether o's raw constraints hold: block_size and
// block_count are positive, block_align is a power of two, and
// block_size*block_count is representable without overflow.
func (o Options) Valid() bool {
	if o.BlockSize == 0 || o.BlockCount == 0 {
		return false
	}
	if !isPowerOfTwo(o.BlockAlign) {
		return false
	}
	_, overflow := mulOverflows(o.BlockSize, o.BlockCount)
	return !overflow
}

// Normalize returns o with its padding/alignment rules applied: BlockSize
// is rounded up to the next multiple of BlockAlign, and BlockAlign
// is raised to the largest power of two dividing the padded size, capped at
// internal.MaxDefaultAlign unless the caller's original BlockAlign already
// exceeded that cap. BlockCount is never changed. Normalize is idempotent.
//
// Precondition: o.Valid().
func (o Options) Normalize() Options {
	align := o.BlockAlign
	if align == 0 {
		align = 1
	}
	size := roundUp(o.BlockSize, align)

	effAlign := largestPowerOfTwoDividing(size)
	alignCap := uint64(internal.MaxDefaultAlign)
	if align > alignCap {
		alignCap = align
	}
	if effAlign > alignCap {
		effAlign = alignCap
	}
	if effAlign < align {
		effAlign = align
	}

	return Options{
		BlockSize:  size,
		BlockAlign: effAlign,
		BlockCount: o.BlockCount,
	}
}

// Fits reports whether n elements of T fit in a block described by o: the
// array n*sizeof(T) does not overflow, fits within o.BlockSize, and T's
// natural alignment does not exceed o.BlockAlign.
func Fits[T any](o Options, n uint64) bool {
	var zero T
	elemSize := uint64(unsafe.Sizeof(zero))
	elemAlign := uint64(unsafe.Alignof(zero))

	total, overflow := mulOverflows(elemSize, n)
	if overflow {
		return false
	}
	return total <= o.BlockSize && elemAlign <= o.BlockAlign
}

// Compare orders Options lexicographically on (BlockSize, BlockAlign,
// BlockCount), returning a negative, zero, or positive value as o is less
// than, equal to, or greater than other.
func (o Options) Compare(other Options) int {
	if c := compareUint64(o.BlockSize, other.BlockSize); c != 0 {
		return c
	}
	if c := compareUint64(o.BlockAlign, other.BlockAlign); c != 0 {
		return c
	}
	return compareUint64(o.BlockCount, other.BlockCount)
}

// String renders the stable textual contract:
// "{.block_size=S, .block_align=A, .block_count=C}".
func (o Options) String() string {
	return fmt.Sprintf("{.block_size=%d, .block_align=%d, .block_count=%d}",
		o.BlockSize, o.BlockAlign, o.BlockCount)
}

func isPowerOfTwo(v uint64) bool {
	return v > 0 && v&(v-1) == 0
}

func roundUp(n, m uint64) uint64 {
	if m == 0 {
		return n
	}
	return (n + m - 1) / m * m
}

func largestPowerOfTwoDividing(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	return 1 << bits.TrailingZeros64(n)
}

// mulOverflows multiplies a*b, reporting the product and whether it
// overflowed a uint64 (and therefore also the signed offset type callers
// need room in).
func mulOverflows(a, b uint64) (product uint64, overflow bool) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 || lo > uint64(1<<63-1) {
		return lo, true
	}
	return lo, false
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
