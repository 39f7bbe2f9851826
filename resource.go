// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"code.hybscloud.com/chunkpool/buildtime"
	"code.hybscloud.com/chunkpool/internal/zeroblock"
)

// Resource is the allocator façade: it composes Options, a RuntimePool and
// an opt-in BuildTimePool, and enforces the size/align/availability gating
// every allocate/deallocate call goes through.
//
// A Resource is non-copyable (see noCopy), non-movable by convention, and
// must be constructed with New. Distinct Resources never share storage or
// compare equal, even when built from identical Options.
type Resource struct {
	_ noCopy

	opts Options
	rt   runtimePool
	bt   *buildtime.Pool

	buildTimeEval bool

	log zerolog.Logger
}

// New constructs a Resource from opts, validating and normalising it
// first. opts.Valid() must hold; an invalid Options is a programmer error
// and returns an *AllocError wrapping ErrUnsupportedSize as the closest
// taxonomy fit (construction sits outside the per-call allocation-time
// error taxonomy, which only covers per-call domain errors).
func New(opts Options) (*Resource, error) {
	if !opts.Valid() {
		return nil, &AllocError{Kind: ErrUnsupportedSize, Requested: opts.BlockSize, Limit: opts.BlockCount}
	}
	norm := opts.Normalize()
	r := &Resource{
		opts: norm,
		rt:   newRuntimePool(norm),
		log:  zerolog.Nop(),
	}
	r.log.Debug().
		Uint64("block_size", norm.BlockSize).
		Uint64("block_align", norm.BlockAlign).
		Uint64("block_count", norm.BlockCount).
		Msg("chunkpool: resource constructed")
	return r, nil
}

// SetLogger installs a non-nop zerolog.Logger for construction, defrag and
// leak-diagnostic events. Never called from AllocateBytes/DeallocateBytes.
func (r *Resource) SetLogger(log zerolog.Logger) {
	r.log = log
}

// SetBuildTimeEval toggles the opt-in configuration-time evaluation mode:
// when enabled, AllocateObject[T] is served by a host-allocator-backed
// buildtime.Pool instead of the block array, and AvailableBlocks/MaybeOwns
// account for both substrates. Go has no compile-time user-code evaluation
// phase to auto-detect this from, so the mode is explicit and opt-in
// rather than implicit.
func (r *Resource) SetBuildTimeEval(enabled bool) {
	r.buildTimeEval = enabled
	if enabled && r.bt == nil {
		r.bt = &buildtime.Pool{}
	}
}

// Options returns the normalised Options this Resource was built from.
func (r *Resource) Options() Options {
	return r.opts
}

// AvailableBlocks returns the runtime free-block count, reduced by any
// outstanding build-time-eval allocations so the figure reflects a
// consistent view regardless of which substrate serves the next request.
func (r *Resource) AvailableBlocks() uint64 {
	avail := r.rt.AvailableCount()
	if r.buildTimeEval && r.bt != nil {
		n := uint64(r.bt.AllocationCount())
		if n > avail {
			return 0
		}
		return avail - n
	}
	return avail
}

// MaybeOwns reports whether p could have come from this Resource: the
// runtime predicate alone at run time, or its OR with the build-time
// registry's predicate when build-time-eval is active.
func (r *Resource) MaybeOwns(p unsafe.Pointer) bool {
	if r.rt.IsMaybeOwned(p) {
		return true
	}
	if r.buildTimeEval && r.bt != nil {
		return r.bt.IsMaybeAllocated(p)
	}
	return false
}

// Equal reports identity, not structural, equality: two distinct Resources
// never compare equal even when built from identical Options.
func (r *Resource) Equal(other *Resource) bool {
	return r == other
}

// String renders the stable textual contract: "chunk_resource<" + Options +
// ">" using the normalised values.
func (r *Resource) String() string {
	return fmt.Sprintf("chunk_resource<%s>", r.opts.String())
}

// Defrag restores descending free-prefix order in the runtime pool. No-op
// under build-time-eval (the build-time registry has no spatial layout to
// restore).
func (r *Resource) Defrag() {
	if r.buildTimeEval {
		return
	}
	r.rt.Defrag()
	r.log.Debug().Str("resource", r.String()).Msg("chunkpool: defrag")
}

// DefragOptimistic is the O(n)-on-near-sorted-input variant of Defrag.
func (r *Resource) DefragOptimistic() {
	if r.buildTimeEval {
		return
	}
	r.rt.DefragOptimistic()
	r.log.Debug().Str("resource", r.String()).Msg("chunkpool: defrag_optimistic")
}

// Close reports a leak if the build-time-eval registry is non-empty,
// wrapped with a stack trace for debugging (a non-hot-path diagnostic
// call, never invoked from allocate/deallocate). The runtime pool's
// allocated count is not required to be zero: teardown order of runtime
// allocations is the caller's own responsibility.
func (r *Resource) Close() error {
	if r.bt != nil && r.bt.AllocationCount() > 0 {
		err := fmt.Errorf("chunkpool: %d build-time-eval allocation(s) leaked from %s", r.bt.AllocationCount(), r.String())
		r.log.Warn().Err(err).Msg("chunkpool: build-time-eval leak")
		return errors.WithStack(err)
	}
	return nil
}

func (r *Resource) zeroPtr() unsafe.Pointer {
	return zeroblock.Ptr(r.opts.BlockSize, r.opts.BlockAlign)
}

// checkAlign validates an explicit align argument: it must be a positive
// power of two and must not exceed the pool's block alignment.
func checkAlign(align, blockAlign uint64) *AllocError {
	if align == 0 || align&(align-1) != 0 {
		return &AllocError{Kind: ErrInvalidAlign, Requested: align, Limit: blockAlign}
	}
	if align > blockAlign {
		return &AllocError{Kind: ErrUnsupportedAlign, Requested: align, Limit: blockAlign}
	}
	return nil
}

// allocateBytes is the shared implementation behind the four byte-
// allocation overloads. hasAlign/align implement the with-align variants.
func (r *Resource) allocateBytes(n uint64, hasAlign bool, align uint64) (unsafe.Pointer, *AllocError) {
	if hasAlign {
		if err := checkAlign(align, r.opts.BlockAlign); err != nil {
			return nil, err
		}
	}
	if n > r.opts.BlockSize {
		return nil, &AllocError{Kind: ErrUnsupportedSize, Requested: n, Limit: r.opts.BlockSize}
	}
	if n == 0 {
		return r.zeroPtr(), nil
	}
	if r.AvailableBlocks() == 0 {
		return nil, &AllocError{Kind: ErrOutOfMemory, Requested: n, Limit: r.opts.BlockCount}
	}
	return r.rt.ObtainUnchecked(), nil
}

// AllocateBytes allocates n bytes, returning an *AllocError on failure.
func (r *Resource) AllocateBytes(n uint64) (unsafe.Pointer, error) {
	p, err := r.allocateBytes(n, false, 0)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AllocateBytesAligned allocates n bytes at the given alignment, returning
// an *AllocError on failure.
func (r *Resource) AllocateBytesAligned(n, align uint64) (unsafe.Pointer, error) {
	p, err := r.allocateBytes(n, true, align)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TryAllocateBytes is the nothrow overload: nil instead of an error.
func (r *Resource) TryAllocateBytes(n uint64) unsafe.Pointer {
	p, _ := r.allocateBytes(n, false, 0)
	return p
}

// TryAllocateBytesAligned is the nothrow, aligned overload.
func (r *Resource) TryAllocateBytesAligned(n, align uint64) unsafe.Pointer {
	p, _ := r.allocateBytes(n, true, align)
	return p
}

// DeallocateBytes returns p to the pool. It is a no-op for a nil or
// sentinel pointer. Preconditions (owned, currently allocated) are
// programmer errors and panic rather than returning an error.
func (r *Resource) DeallocateBytes(p unsafe.Pointer, n uint64) {
	if p == nil || p == r.zeroPtr() {
		return
	}
	if !r.rt.IsOwned(p) {
		panic("chunkpool: deallocate_bytes precondition violated: pointer not owned by this pool")
	}
	token := r.rt.IsAllocated(p)
	if token < 0 {
		panic("chunkpool: deallocate_bytes precondition violated: double free")
	}
	r.rt.ReturnUnchecked(token)
}

// elemLayout returns sizeof(T) and alignof(T) without requiring a live
// value of T.
func elemLayout[T any]() (size, align uint64) {
	var zero T
	return uint64(unsafe.Sizeof(zero)), uint64(unsafe.Alignof(zero))
}

// allocateObject is the shared implementation behind the four typed-
// allocation overloads.
func allocateObject[T any](r *Resource, n uint64, hasAlign bool, align uint64) (*T, *AllocError) {
	elemSize, elemAlign := elemLayout[T]()

	total, overflow := mulOverflows(elemSize, n)
	if overflow {
		return nil, &AllocError{Kind: ErrArrayLength, Requested: n, Limit: r.opts.BlockSize}
	}
	// An explicit align that is valid but weaker than T's natural alignment
	// is ignored: the stronger alignment always wins.
	if hasAlign && align > elemAlign {
		if err := checkAlign(align, r.opts.BlockAlign); err != nil {
			return nil, err
		}
	}
	if elemAlign > r.opts.BlockAlign {
		return nil, &AllocError{Kind: ErrUnsupportedAlign, Requested: elemAlign, Limit: r.opts.BlockAlign}
	}
	if total > r.opts.BlockSize {
		return nil, &AllocError{Kind: ErrUnsupportedSize, Requested: total, Limit: r.opts.BlockSize}
	}
	if n == 0 {
		// A zero-element allocation never touches the host allocator, build-
		// time-eval or not: the sentinel has nothing for DeallocateObject to
		// book-keep, since it returns early on the sentinel address.
		return (*T)(r.zeroPtr()), nil
	}
	if r.AvailableBlocks() == 0 {
		return nil, &AllocError{Kind: ErrOutOfMemory, Requested: n, Limit: r.opts.BlockCount}
	}
	if r.buildTimeEval && r.bt != nil {
		return (*T)(buildtime.Obtain[T](r.bt, n)), nil
	}
	return (*T)(r.rt.ObtainUnchecked()), nil
}

// AllocateObject allocates n contiguous T's, returning an *AllocError on
// failure.
func AllocateObject[T any](r *Resource, n uint64) (*T, error) {
	p, err := allocateObject[T](r, n, false, 0)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AllocateObjectAligned allocates n contiguous T's at the given alignment
// (ignored if weaker than T's natural alignment), returning an *AllocError
// on failure.
func AllocateObjectAligned[T any](r *Resource, n, align uint64) (*T, error) {
	p, err := allocateObject[T](r, n, true, align)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TryAllocateObject is the nothrow overload: nil instead of an error.
func TryAllocateObject[T any](r *Resource, n uint64) *T {
	p, _ := allocateObject[T](r, n, false, 0)
	return p
}

// TryAllocateObjectAligned is the nothrow, aligned overload.
func TryAllocateObjectAligned[T any](r *Resource, n, align uint64) *T {
	p, _ := allocateObject[T](r, n, true, align)
	return p
}

// DeallocateObject returns a typed allocation to the substrate that served
// it. A nil p is a no-op. Presenting a build-time-eval allocation at run
// time (or vice versa) is a programmer error and panics.
func DeallocateObject[T any](r *Resource, p *T, n uint64) {
	if p == nil {
		return
	}
	ptr := unsafe.Pointer(p)

	if r.buildTimeEval && r.bt != nil && ptr != r.zeroPtr() {
		if !r.bt.IsMaybeAllocated(ptr) {
			panic("chunkpool: deallocate_object precondition violated: pointer not allocated under build-time-eval")
		}
		token := r.bt.IsAllocated(ptr, n)
		if token < 0 {
			panic("chunkpool: deallocate_object precondition violated: size mismatch")
		}
		r.bt.Return(ptr, n, token)
		return
	}

	if ptr == r.zeroPtr() {
		return
	}
	if !r.rt.IsOwned(ptr) {
		panic("chunkpool: deallocate_object precondition violated: pointer not owned by this resource")
	}
	token := r.rt.IsAllocated(ptr)
	if token < 0 {
		panic("chunkpool: deallocate_object precondition violated: double free")
	}
	r.rt.ReturnUnchecked(token)
}
