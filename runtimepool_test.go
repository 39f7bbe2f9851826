// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

import (
	"testing"
	"unsafe"
)

func mustNormalize(t *testing.T, o Options) Options {
	t.Helper()
	if !o.Valid() {
		t.Fatalf("options %v not valid", o)
	}
	return o.Normalize()
}

// TestRuntimePool_AllocateExhaustFreeReuseDrain allocates every block, checks out-of-memory on the
// next request, frees one and re-obtains it, then drains the pool.
func TestRuntimePool_AllocateExhaustFreeReuseDrain(t *testing.T) {
	opts := mustNormalize(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 4})
	p := newRuntimePool(opts)

	var ptrs []unsafe.Pointer
	for i := 0; i < 4; i++ {
		if p.AvailableCount() == 0 {
			t.Fatalf("unexpected exhaustion at iteration %d", i)
		}
		ptr := p.ObtainUnchecked()
		if uintptr(ptr)%uintptr(opts.BlockAlign) != 0 {
			t.Fatalf("pointer %v not %d-aligned", ptr, opts.BlockAlign)
		}
		ptrs = append(ptrs, ptr)
	}
	if p.AvailableCount() != 0 {
		t.Fatalf("expected pool exhausted, available=%d", p.AvailableCount())
	}

	seen := map[unsafe.Pointer]bool{}
	for _, ptr := range ptrs {
		if seen[ptr] {
			t.Fatalf("duplicate pointer %v", ptr)
		}
		seen[ptr] = true
	}

	freed := ptrs[2]
	token := p.IsAllocated(freed)
	if token < 0 {
		t.Fatalf("expected freed block to be currently allocated")
	}
	p.ReturnUnchecked(token)

	reobtained := p.ObtainUnchecked()
	if reobtained != freed {
		t.Fatalf("expected re-obtained pointer %v to equal freed pointer %v", reobtained, freed)
	}

	p.ReturnUnchecked(p.IsAllocated(ptrs[0]))
	p.ReturnUnchecked(p.IsAllocated(ptrs[1]))
	p.ReturnUnchecked(p.IsAllocated(ptrs[3]))
	p.ReturnUnchecked(p.IsAllocated(reobtained))

	if p.AvailableCount() != opts.BlockCount {
		t.Fatalf("expected available=%d after draining, got %d", opts.BlockCount, p.AvailableCount())
	}
}

// TestRuntimePool_ReverseOrderDeallocationIsLIFO allocates then immediately deallocates in reverse
// order, the LIFO fast path where is_allocated always finds the
// just-obtained block at the top of the allocated suffix.
func TestRuntimePool_ReverseOrderDeallocationIsLIFO(t *testing.T) {
	opts := mustNormalize(t, Options{BlockSize: 64, BlockAlign: 8, BlockCount: 8})
	p := newRuntimePool(opts)

	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		ptrs = append(ptrs, p.ObtainUnchecked())
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		token := p.IsAllocated(ptrs[i])
		if token != int64(p.AvailableCount()) {
			t.Fatalf("expected LIFO token %d at top of allocated suffix, got %d", p.AvailableCount(), token)
		}
		p.ReturnUnchecked(token)
	}
	if p.AvailableCount() != opts.BlockCount {
		t.Fatalf("expected full pool after reverse-order drain, got %d", p.AvailableCount())
	}
}

// TestRuntimePool_DefragRestoresAddressOrder allocates all blocks, frees them out of order, then
// checks defrag restores descending order in the free prefix so the next
// four allocations proceed low-to-high by address.
func TestRuntimePool_DefragRestoresAddressOrder(t *testing.T) {
	opts := mustNormalize(t, Options{BlockSize: 32, BlockAlign: 8, BlockCount: 4})
	p := newRuntimePool(opts)

	var ptrs []unsafe.Pointer
	for i := 0; i < 4; i++ {
		ptrs = append(ptrs, p.ObtainUnchecked())
	}
	for _, i := range []int{0, 2, 1, 3} {
		p.ReturnUnchecked(p.IsAllocated(ptrs[i]))
	}

	p.Defrag()

	for i := 0; i < 4; i++ {
		got := p.ObtainUnchecked()
		if got != ptrs[i] {
			t.Fatalf("after defrag, allocation %d: expected %v, got %v", i, ptrs[i], got)
		}
	}
}

// TestRuntimePool_DefragOptimisticMatchesDefrag checks that the insertion-
// sort variant reaches the same post-defrag allocation order as Defrag.
func TestRuntimePool_DefragOptimisticMatchesDefrag(t *testing.T) {
	opts := mustNormalize(t, Options{BlockSize: 8, BlockAlign: 8, BlockCount: 6})

	pA := newRuntimePool(opts)
	pB := newRuntimePool(opts)

	var aPtrs, bPtrs []unsafe.Pointer
	for i := 0; i < 6; i++ {
		aPtrs = append(aPtrs, pA.ObtainUnchecked())
		bPtrs = append(bPtrs, pB.ObtainUnchecked())
	}
	order := []int{4, 1, 5, 0, 2, 3}
	for _, i := range order {
		pA.ReturnUnchecked(pA.IsAllocated(aPtrs[i]))
		pB.ReturnUnchecked(pB.IsAllocated(bPtrs[i]))
	}

	pA.Defrag()
	pB.DefragOptimistic()

	for i := 0; i < 6; i++ {
		gotA := pA.ObtainUnchecked()
		gotB := pB.ObtainUnchecked()
		if gotA != aPtrs[i] || gotB != bPtrs[i] {
			t.Fatalf("defrag and defrag_optimistic disagree at allocation %d", i)
		}
	}
}

// TestRuntimePool_OwnershipRejectsForeignPointers checks IsMaybeOwned and
// IsOwned both reject an address outside the block array.
func TestRuntimePool_OwnershipRejectsForeignPointers(t *testing.T) {
	opts := mustNormalize(t, Options{BlockSize: 16, BlockAlign: 8, BlockCount: 2})
	p := newRuntimePool(opts)

	var foreign int
	foreignPtr := unsafe.Pointer(&foreign)

	if p.IsMaybeOwned(foreignPtr) {
		t.Fatalf("expected foreign pointer to be rejected by IsMaybeOwned")
	}
	if p.IsOwned(foreignPtr) {
		t.Fatalf("expected foreign pointer to be rejected by IsOwned")
	}
}

// TestRuntimePool_WidthSelection checks newRuntimePool dispatches to the
// narrowest index width for a handful of representative block counts.
func TestRuntimePool_WidthSelection(t *testing.T) {
	cases := []struct {
		count uint64
		typ   string
	}{
		{1, "*chunkpool.pool[uint8]"},
		{255, "*chunkpool.pool[uint8]"},
		{256, "*chunkpool.pool[uint16]"},
		{1 << 20, "*chunkpool.pool[uint32]"},
	}
	for _, c := range cases {
		opts := mustNormalize(t, Options{BlockSize: 8, BlockAlign: 8, BlockCount: c.count})
		p := newRuntimePool(opts)
		if got := typeName(p); got != c.typ {
			t.Errorf("count=%d: expected width %s, got %s", c.count, c.typ, got)
		}
	}
}

func typeName(p runtimePool) string {
	switch p.(type) {
	case *pool[uint8]:
		return "*chunkpool.pool[uint8]"
	case *pool[uint16]:
		return "*chunkpool.pool[uint16]"
	case *pool[uint32]:
		return "*chunkpool.pool[uint32]"
	case *pool[uint64]:
		return "*chunkpool.pool[uint64]"
	default:
		return "unknown"
	}
}
