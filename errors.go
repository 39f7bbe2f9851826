// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package chunkpool

import "fmt"

// ErrorKind identifies one of the domain-error rows in the allocation-time
// error taxonomy (the caller-visible half; the deallocation-time half is
// programmer error and is reported via panic, not ErrorKind).
type ErrorKind int

const (
	// ErrInvalidAlign: an explicit align argument was not a positive power
	// of two.
	ErrInvalidAlign ErrorKind = iota
	// ErrUnsupportedAlign: a valid align exceeds the pool's block alignment.
	ErrUnsupportedAlign
	// ErrUnsupportedSize: the requested size exceeds the block size.
	ErrUnsupportedSize
	// ErrArrayLength: n*sizeof(T) overflows the platform size/offset type.
	ErrArrayLength
	// ErrOutOfMemory: every block is currently allocated.
	ErrOutOfMemory
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidAlign:
		return "invalid align"
	case ErrUnsupportedAlign:
		return "unsupported align"
	case ErrUnsupportedSize:
		return "unsupported size"
	case ErrArrayLength:
		return "array length"
	case ErrOutOfMemory:
		return "out of memory"
	default:
		return "unknown chunkpool error"
	}
}

// AllocError is the error type returned by the throwing allocation
// overloads. It carries the numeric offenders behind each kind and formats
// them lazily: constructing an AllocError never formats a string, only
// Error() does.
type AllocError struct {
	Kind      ErrorKind
	Requested uint64
	Limit     uint64
}

func (e *AllocError) Error() string {
	switch e.Kind {
	case ErrOutOfMemory:
		return "chunkpool: out of memory"
	default:
		return fmt.Sprintf("chunkpool: %s: requested=%d limit=%d", e.Kind, e.Requested, e.Limit)
	}
}

// Is makes AllocError comparable with errors.Is by Kind alone, so callers
// can write errors.Is(err, &AllocError{Kind: ErrOutOfMemory}) without
// needing to know the numeric offenders.
func (e *AllocError) Is(target error) bool {
	t, ok := target.(*AllocError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
