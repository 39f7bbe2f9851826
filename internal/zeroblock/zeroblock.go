// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package zeroblock interns the zero-byte-allocation sentinel pointer: a
// distinct, never-dereferenced address shared by every Resource constructed
// with the same normalised Options.
//
// Go has no static-storage-duration template instantiation to key this per
// compile-time type, so the sentinel is kept in a per-process table keyed
// by the normalised (size, align) pair instead. Only pointer identity
// matters; contents are never read or written through the public API.
package zeroblock

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/chunkpool/internal"
)

type key struct {
	size  uint64
	align uint64
}

var (
	mu    sync.Mutex
	table = map[key][]byte{}
)

// Get returns the interned zero-block byte slice for (size, align),
// allocating and aligning it on first use. The backing buffer is
// over-allocated by align-1 bytes so the returned slice's first byte sits at
// an align-aligned address and has exactly `size` bytes after that address —
// callers only need its address, never its length.
func Get(size, align uint64) []byte {
	k := key{size: size, align: align}

	mu.Lock()
	defer mu.Unlock()

	if b, ok := table[k]; ok {
		return b
	}
	b := internal.AlignedAlloc(size, align)
	table[k] = b
	return b
}

// Ptr returns the interned zero block's address as an unsafe.Pointer,
// derived directly from its backing slice.
func Ptr(size, align uint64) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(Get(size, align)))
}

// Addr returns the address of the interned zero block as a uintptr,
// suitable for pointer-identity comparisons against pool block addresses.
func Addr(size, align uint64) uintptr {
	return uintptr(Ptr(size, align))
}
