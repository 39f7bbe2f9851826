// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

import (
	"sort"
	"unsafe"

	"code.hybscloud.com/chunkpool/internal"
	"code.hybscloud.com/chunkpool/internal/indexwidth"
	"code.hybscloud.com/chunkpool/internal/zeroblock"
)

// indexConstraint is the set of unsigned integer widths a pool's index
// stack can be instantiated with. The operations over pool[I] are methods of
// the generic type; runtimePool is the non-generic interface Resource
// programs against.
type indexConstraint interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// runtimePool is the width-erased surface RuntimePool exposes to Resource.
// Apart from the Capacity/BlockSize/BlockAlign accessors, every method here
// corresponds 1:1 to a public-contract operation; the index-width-specific
// work happens in pool[I]'s methods below.
type runtimePool interface {
	AvailableCount() uint64
	Capacity() uint64
	BlockSize() uint64
	BlockAlign() uint64
	IsMaybeOwned(p unsafe.Pointer) bool
	IsOwned(p unsafe.Pointer) bool
	BlockIndex(p unsafe.Pointer) uint64
	IsAllocated(p unsafe.Pointer) int64
	ObtainUnchecked() unsafe.Pointer
	ReturnUnchecked(token int64)
	Defrag()
	DefragOptimistic()
}

// newRuntimePool constructs the narrowest pool[I] instantiation that can
// index opts.BlockCount, per the width-selection rule in
// internal/indexwidth. opts must already be normalised.
func newRuntimePool(opts Options) runtimePool {
	switch indexwidth.For(opts.BlockCount) {
	case indexwidth.Width8:
		return newPool[uint8](opts)
	case indexwidth.Width16:
		return newPool[uint16](opts)
	case indexwidth.Width32:
		return newPool[uint32](opts)
	default:
		return newPool[uint64](opts)
	}
}

// pool is the block array plus index-stack free-list: the prefix
// indexStack[0:available] enumerates free blocks, the suffix
// indexStack[available:] enumerates allocated blocks in allocation order.
type pool[I indexConstraint] struct {
	blocks     []byte
	indexStack []I
	available  I

	blockSize  uint64
	blockAlign uint64
	blockCount uint64

	zeroAddr uintptr
}

func newPool[I indexConstraint](opts Options) *pool[I] {
	n := opts.BlockCount
	p := &pool[I]{
		blocks:     internal.AlignedAlloc(opts.BlockSize*n, opts.BlockAlign),
		indexStack: make([]I, n),
		available:  I(n),
		blockSize:  opts.BlockSize,
		blockAlign: opts.BlockAlign,
		blockCount: n,
		zeroAddr:   zeroblock.Addr(opts.BlockSize, opts.BlockAlign),
	}
	// index_stack[i] = N-1-i on construction, so the first allocation
	// returns block index 0.
	for i := range p.indexStack {
		p.indexStack[i] = I(n - 1 - uint64(i))
	}
	return p
}

func (p *pool[I]) AvailableCount() uint64 { return uint64(p.available) }
func (p *pool[I]) Capacity() uint64       { return p.blockCount }
func (p *pool[I]) BlockSize() uint64      { return p.blockSize }
func (p *pool[I]) BlockAlign() uint64     { return p.blockAlign }

func (p *pool[I]) basePtr() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(p.blocks))
}

func (p *pool[I]) baseAddr() uintptr {
	return uintptr(p.basePtr())
}

// IsMaybeOwned is the cheap rejection test: p lies in [blocks, blocks+N)
// by address and is neither nil nor the zero-block sentinel. No alignment
// check — see IsOwned for that.
func (p *pool[I]) IsMaybeOwned(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	addr := uintptr(ptr)
	if addr == p.zeroAddr {
		return false
	}
	base := p.baseAddr()
	end := base + p.blockSize*p.blockCount
	return addr >= base && addr < end
}

// IsOwned additionally requires block alignment: (p - blocks) mod
// block_size == 0.
func (p *pool[I]) IsOwned(ptr unsafe.Pointer) bool {
	if !p.IsMaybeOwned(ptr) {
		return false
	}
	return (uintptr(ptr)-p.baseAddr())%uintptr(p.blockSize) == 0
}

// BlockIndex returns ptr's block index. Precondition: IsOwned(ptr).
func (p *pool[I]) BlockIndex(ptr unsafe.Pointer) uint64 {
	if !p.IsOwned(ptr) {
		panic("chunkpool: block_index precondition violated: pointer not owned by this pool")
	}
	diff := uint64(uintptr(ptr) - p.baseAddr())
	return diff / p.blockSize
}

// IsAllocated returns the index_stack position of ptr's block within the
// allocated suffix, or -1 if the block is currently free. Precondition:
// IsOwned(ptr). The scan walks the allocated half starting from its most
// recently pushed end, since a freshly deallocated pointer is
// overwhelmingly the most recently allocated one.
func (p *pool[I]) IsAllocated(ptr unsafe.Pointer) int64 {
	idx := I(p.BlockIndex(ptr))
	n := uint64(len(p.indexStack))
	for pos := uint64(p.available); pos < n; pos++ {
		if p.indexStack[pos] == idx {
			return int64(pos)
		}
	}
	return -1
}

// ObtainUnchecked pops the top of the free prefix. Precondition:
// AvailableCount() > 0.
func (p *pool[I]) ObtainUnchecked() unsafe.Pointer {
	if p.available == 0 {
		panic("chunkpool: obtain_unchecked precondition violated: pool exhausted")
	}
	p.available--
	i := uint64(p.indexStack[p.available])
	return unsafe.Add(p.basePtr(), i*p.blockSize)
}

// ReturnUnchecked swaps indexStack[token] with indexStack[available], then
// grows the free prefix by one. The swap (instead of a shift) keeps the
// operation O(1) at the cost of LIFO order, which defrag restores.
// Preconditions: token >= available and token < N.
func (p *pool[I]) ReturnUnchecked(token int64) {
	n := int64(len(p.indexStack))
	if token < int64(p.available) || token >= n {
		panic("chunkpool: return_unchecked precondition violated: stale or out-of-range token")
	}
	p.indexStack[token], p.indexStack[p.available] = p.indexStack[p.available], p.indexStack[token]
	p.available++
}

// Defrag sorts the free prefix in descending order so the next
// allocations proceed from low indices upward, restoring spatial
// locality after scrambled deallocation.
func (p *pool[I]) Defrag() {
	free := p.indexStack[:p.available]
	sort.Slice(free, func(i, j int) bool { return free[i] > free[j] })
}

// DefragOptimistic reaches the same postcondition as Defrag but with an
// insertion sort: O(n) when the free prefix is already (nearly) sorted,
// which is the common case when deallocation has mostly followed a
// stack-like pattern.
func (p *pool[I]) DefragOptimistic() {
	free := p.indexStack[:p.available]
	for i := 1; i < len(free); i++ {
		v := free[i]
		j := i - 1
		for j >= 0 && free[j] < v {
			free[j+1] = free[j]
			j--
		}
		free[j+1] = v
	}
}
