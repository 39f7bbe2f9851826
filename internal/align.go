// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package internal

import "unsafe"

// MaxDefaultAlign is the platform's default over-alignment cap used by
// Options.Normalize: alignment is never raised above this value unless the
// caller explicitly requested a larger BlockAlign. It reuses the per-arch
// L1 cache line size table (cacheline_*.go) since that is the platform's
// natural "this is as aligned as you get for free" boundary.
const MaxDefaultAlign = CacheLineSize

// AlignedAlloc returns a byte slice of exactly size bytes whose first byte
// sits at an address divisible by align. It over-allocates by align-1 bytes
// and returns the aligned sub-slice.
//
// align must be a power of two; size and align must both be at least 1.
func AlignedAlloc(size, align uint64) []byte {
	if align < 1 {
		align = 1
	}
	if size < 1 {
		size = 1
	}
	raw := make([]byte, size+align-1)
	base := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(raw))))
	offset := (base+align-1)/align*align - base
	return raw[offset : offset+size]
}
