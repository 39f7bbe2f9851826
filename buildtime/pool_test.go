// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package buildtime_test

import (
	"testing"

	"code.hybscloud.com/chunkpool/buildtime"
)

func TestPool_ObtainAndReturn(t *testing.T) {
	var p buildtime.Pool

	ptr := buildtime.Obtain[int64](&p, 4)
	if ptr == nil {
		t.Fatalf("expected non-nil pointer for n=4")
	}
	if p.AllocationCount() != 1 {
		t.Fatalf("expected 1 outstanding allocation, got %d", p.AllocationCount())
	}
	if !p.IsMaybeAllocated(ptr) {
		t.Fatalf("expected IsMaybeAllocated to find the recorded pointer")
	}
	token := p.IsAllocated(ptr, 4)
	if token < 0 {
		t.Fatalf("expected IsAllocated to find {ptr, 4}")
	}
	if p.IsAllocated(ptr, 5) != -1 {
		t.Fatalf("expected IsAllocated to reject a size mismatch")
	}

	p.Return(ptr, 4, token)
	if p.AllocationCount() != 0 {
		t.Fatalf("expected 0 outstanding allocations after return, got %d", p.AllocationCount())
	}
	if p.IsMaybeAllocated(ptr) {
		t.Fatalf("expected IsMaybeAllocated to forget the returned pointer")
	}
}

func TestPool_MultipleOutstandingAllocations(t *testing.T) {
	var p buildtime.Pool

	a := buildtime.Obtain[int32](&p, 2)
	b := buildtime.Obtain[int32](&p, 8)
	if p.AllocationCount() != 2 {
		t.Fatalf("expected 2 outstanding allocations, got %d", p.AllocationCount())
	}

	tokenA := p.IsAllocated(a, 2)
	p.Return(a, 2, tokenA)
	if p.AllocationCount() != 1 {
		t.Fatalf("expected 1 outstanding allocation after first return, got %d", p.AllocationCount())
	}
	if !p.IsMaybeAllocated(b) {
		t.Fatalf("expected second allocation to survive the first's return")
	}

	tokenB := p.IsAllocated(b, 8)
	p.Return(b, 8, tokenB)
	if p.AllocationCount() != 0 {
		t.Fatalf("expected 0 outstanding allocations, got %d", p.AllocationCount())
	}
}

func TestPool_ReturnRejectsMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Return to panic on a size mismatch")
		}
	}()

	var p buildtime.Pool
	ptr := buildtime.Obtain[int64](&p, 4)
	token := p.IsAllocated(ptr, 4)
	p.Return(ptr, 3, token)
}

func TestPool_ZeroElementAllocationDoesNotPanic(t *testing.T) {
	var p buildtime.Pool
	ptr := buildtime.Obtain[int64](&p, 0)
	if ptr != nil {
		t.Fatalf("expected nil pointer for a zero-element allocation, got %v", ptr)
	}
	token := p.IsAllocated(ptr, 0)
	if token < 0 {
		t.Fatalf("expected IsAllocated to find the zero-element record")
	}
	p.Return(ptr, 0, token)
}
