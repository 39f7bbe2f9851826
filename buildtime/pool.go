// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buildtime is the parallel registry a Resource falls back to
// when it is opted into configuration-time evaluation: typed multi-element
// allocations cannot be served by reinterpreting raw pool bytes in that
// mode, so they are instead served by the host allocator and recorded here
// so they can be matched back on release.
//
// Go has no distinct compile-time evaluation phase for user code, so
// unlike the run-time RuntimePool this path is opt-in and explicit
// (Resource.SetBuildTimeEval) rather than implicitly detected.
package buildtime

import "unsafe"

// record is one outstanding allocation made through the pool: the
// address handed to the caller and the element count it was sized for.
type record struct {
	ptr  unsafe.Pointer
	size uint64
}

// Pool is a dynamically-sized ordered list of {ptr, size} records. Its
// backing storage is allocated lazily on first use and released once the
// list drains back to empty.
type Pool struct {
	records []record
}

// IsMaybeAllocated reports whether p matches some outstanding record's
// pointer, by pointer equality alone.
func (b *Pool) IsMaybeAllocated(p unsafe.Pointer) bool {
	for _, r := range b.records {
		if r.ptr == p {
			return true
		}
	}
	return false
}

// IsAllocated returns the list index of the record matching {p, n}
// exactly, or -1 if there is no such record.
func (b *Pool) IsAllocated(p unsafe.Pointer, n uint64) int {
	for i, r := range b.records {
		if r.ptr == p && r.size == n {
			return i
		}
	}
	return -1
}

// AllocationCount returns the number of outstanding records.
func (b *Pool) AllocationCount() int {
	return len(b.records)
}

// Obtain acquires n elements of T from the host allocator, appends a
// record describing the allocation, and returns its address.
func Obtain[T any](b *Pool, n uint64) unsafe.Pointer {
	items := make([]T, n)
	var ptr unsafe.Pointer
	if n > 0 {
		ptr = unsafe.Pointer(unsafe.SliceData(items))
	}
	if b.records == nil {
		b.records = make([]record, 0, 1)
	}
	b.records = append(b.records, record{ptr: ptr, size: n})
	return ptr
}

// Return verifies that token names a record matching {p, n} exactly,
// removes it, and releases the list storage if the pool has become
// empty. token is the index previously returned by IsAllocated; a
// mismatch is a programming error and panics (the host-side allocation
// itself is reclaimed by the garbage collector once unreferenced).
func (b *Pool) Return(p unsafe.Pointer, n uint64, token int) {
	if token < 0 || token >= len(b.records) {
		panic("chunkpool/buildtime: return precondition violated: invalid token")
	}
	r := b.records[token]
	if r.ptr != p || r.size != n {
		panic("chunkpool/buildtime: return precondition violated: size mismatch")
	}
	b.records = append(b.records[:token], b.records[token+1:]...)
	if len(b.records) == 0 {
		b.records = nil
	}
}
