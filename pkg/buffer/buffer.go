// Package buffer implements growable, ownership-aware byte buffers.
//
// A Buffer owns or borrows one contiguous block of bytes. Len is the number
// of valid bytes and Cap the number of bytes backed by storage. A Buffer with
// no storage at all is in the null state: Bytes returns nil and both Len and
// Cap are zero. Every failure path that loses storage ends in the null state.
//
// Four growth policies share the Buffer contract:
//
//   - PolicyLegacy never grows implicitly. Append and Insert require slack
//     reserved up front with Reallocate or Reserve, and Reallocate only ever
//     grows the storage; it does not change Len.
//   - PolicyAmortized tracks capacity and only reallocates when a size
//     exceeds it, to exactly the size requested.
//   - PolicyExactFit keeps Cap == Len and reallocates on every size change.
//   - PolicyFixed lives in one slot of a SlotPool and can never outgrow it.
//
// Insert and Remove share one index algebra. An index of -k addresses the
// k-th byte counted from the end. Out-of-range indexes and zero-length
// operations are successful no-ops rather than errors.
//
// Buffers are not safe for concurrent use. Hand a buffer to another goroutine
// with Move.
package buffer

import (
	"fmt"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/alloc"
)

// Errors returned by buffer operations.
var (
	ErrAllocationFailure    = core.ErrAllocationFailure
	ErrInvalidArgument      = core.ErrInvalidArgument
	ErrInsufficientCapacity = core.ErrInsufficientCapacity
	ErrCapacityExceeded     = core.ErrCapacityExceeded
)

// Buffer is the contract shared by every growth policy.
type Buffer interface {
	// Bytes returns the valid bytes, or nil in the null state. The slice
	// aliases the buffer storage and is invalidated by any growth.
	Bytes() []byte
	Len() int
	Cap() int
	IsOwning() bool
	IsNull() bool
	Policy() Policy
	Allocator() alloc.Allocator

	// Release detaches the storage without deallocating it and returns the
	// valid bytes. The buffer is left in the null state.
	Release() []byte
	// Reset frees owned storage and adopts data[:length]. A nil data with a
	// zero length puts the buffer in the null state.
	Reset(data []byte, length int, owns bool) error
	// Reallocate resizes the buffer to n bytes, filling new bytes with fill.
	// PolicyLegacy only grows the storage and leaves Len untouched.
	Reallocate(n int, fill byte) error
	// Reserve makes room for at least n bytes without changing Len.
	Reserve(n int) error
	// Clear drops the contents; it is equivalent to Reallocate(0, 0).
	Clear() error

	AppendFill(n int, fill byte) error
	Append(src []byte, n int) error
	InsertFill(at, n int, fill byte) error
	Insert(at int, src []byte, n int) error
	Remove(at, n int) error

	// Clone returns an owned, independent copy allocated from the same
	// allocator, or a null buffer when there is nothing to copy.
	Clone() (Buffer, error)
	// Move transfers storage and ownership to a new Buffer of the same
	// policy and leaves the receiver in the null state.
	Move() Buffer
	// Free deallocates owned storage and leaves the buffer in the null state.
	Free()
}

// Policy selects a growth policy.
type Policy int

// Growth policies.
const (
	PolicyLegacy Policy = iota
	PolicyAmortized
	PolicyExactFit
	PolicyFixed
)

func (p Policy) String() string {
	switch p {
	case PolicyLegacy:
		return "legacy"
	case PolicyAmortized:
		return "amortized"
	case PolicyExactFit:
		return "exact"
	case PolicyFixed:
		return "fixed"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configured policy name.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "legacy", "strict":
		return PolicyLegacy, nil
	case "amortized":
		return PolicyAmortized, nil
	case "exact", "exact-fit":
		return PolicyExactFit, nil
	case "fixed":
		return PolicyFixed, nil
	default:
		return 0, fmt.Errorf("unknown buffer policy %q: %w", name, ErrInvalidArgument)
	}
}

type options struct {
	allocator alloc.Allocator
}

// Option configures a new Buffer.
type Option func(*options)

// WithAllocator injects the allocator used for every allocation and
// deallocation of the buffer. PolicyFixed requires a *SlotPool.
func WithAllocator(a alloc.Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// New returns a null-state buffer using policy.
func New(policy Policy, opts ...Option) Buffer {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.allocator == nil {
		o.allocator = alloc.Default()
	}
	b := base{alloc: o.allocator}

	switch policy {
	case PolicyLegacy:
		return &legacyBuffer{base: b}
	case PolicyAmortized:
		return &amortizedBuffer{base: b}
	case PolicyExactFit:
		return &exactBuffer{base: b}
	case PolicyFixed:
		pool, ok := o.allocator.(*SlotPool)
		if !ok {
			panic("buffer: PolicyFixed requires a *SlotPool allocator")
		}
		return &fixedBuffer{base: b, pool: pool}
	default:
		panic(fmt.Sprintf("buffer: unknown policy %v", policy))
	}
}

// NewFrom returns a buffer of policy adopting data[:length] (see Reset).
func NewFrom(policy Policy, data []byte, length int, owns bool, opts ...Option) (Buffer, error) {
	b := New(policy, opts...)
	if err := b.Reset(data, length, owns); err != nil {
		return nil, err
	}
	return b, nil
}
