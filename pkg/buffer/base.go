package buffer

import (
	"fmt"
	"unsafe"

	"firestige.xyz/pktedit/pkg/alloc"
)

// base holds the state and the index algebra shared by every policy.
//
// block is the storage exactly as obtained from the allocator or the caller;
// capacity is the policy's view of how much of it is usable.
type base struct {
	block    []byte
	length   int
	capacity int
	owns     bool
	alloc    alloc.Allocator
}

func (b *base) Bytes() []byte {
	if b.block == nil {
		return nil
	}
	return b.block[:b.length]
}

func (b *base) Len() int                   { return b.length }
func (b *base) Cap() int                   { return b.capacity }
func (b *base) IsOwning() bool             { return b.owns }
func (b *base) IsNull() bool               { return b.block == nil }
func (b *base) Allocator() alloc.Allocator { return b.alloc }

func (b *base) Release() []byte {
	data := b.Bytes()
	b.setNull()
	return data
}

func (b *base) Free() {
	b.deallocate()
	b.setNull()
}

// deallocate returns owned storage to the allocator. It is the only place
// that calls Allocator.Deallocate.
func (b *base) deallocate() {
	if b.owns && b.block != nil {
		b.alloc.Deallocate(b.block)
	}
}

func (b *base) setNull() {
	b.block = nil
	b.length = 0
	b.capacity = 0
	b.owns = false
}

// fail drops the storage after an allocation failure.
func (b *base) fail(op string, n int) error {
	b.deallocate()
	b.setNull()
	return fmt.Errorf("%s %d bytes: %w", op, n, ErrAllocationFailure)
}

// allocate obtains a block of exactly n bytes.
func (b *base) allocate(n int) []byte {
	if n <= 0 {
		return nil
	}
	return b.alloc.Allocate(n)
}

// replace swaps in a freshly allocated block, freeing the old one.
func (b *base) replace(block []byte, length, capacity int) {
	b.deallocate()
	b.block = block
	b.length = length
	b.capacity = capacity
	b.owns = true
}

// reset implements the common part of Reset. exact trims capacity to length.
func (b *base) reset(data []byte, length int, owns bool, exact bool) error {
	if length < 0 || (data == nil && length > 0) || length > cap(data) {
		return fmt.Errorf("reset with %d bytes: %w", length, ErrInvalidArgument)
	}
	if !sameBlock(b.block, data) {
		b.deallocate()
	}
	if cap(data) == 0 || (exact && length == 0) {
		b.setNull()
		return nil
	}
	if exact {
		b.block = data[:length]
		b.capacity = length
	} else {
		b.block = data[:cap(data)]
		b.capacity = cap(data)
	}
	b.length = length
	b.owns = owns
	return nil
}

// cloneBlock returns an owned copy of the valid bytes, or nil with no error
// when there is nothing to copy.
func (b *base) cloneBlock() ([]byte, error) {
	if b.block == nil || b.length == 0 {
		return nil, nil
	}
	block := b.allocate(b.length)
	if block == nil {
		return nil, fmt.Errorf("clone %d bytes: %w", b.length, ErrAllocationFailure)
	}
	copy(block, b.block[:b.length])
	return block, nil
}

// take moves the state out of b, leaving it null.
func (b *base) take() base {
	moved := *b
	b.setNull()
	return moved
}

// openGap shifts bytes at and after idx n positions right inside the
// current storage. The caller guarantees length+n <= len(block).
func (b *base) openGap(idx, n int) {
	copy(b.block[idx+n:b.length+n], b.block[idx:b.length])
	b.length += n
}

// closeGap removes n bytes at idx inside the current storage.
func (b *base) closeGap(idx, n int) {
	copy(b.block[idx:], b.block[idx+n:b.length])
	b.length -= n
}

func sameBlock(a, c []byte) bool {
	if cap(a) == 0 || cap(c) == 0 {
		return false
	}
	return unsafe.SliceData(a) == unsafe.SliceData(c)
}

func fill(p []byte, v byte) {
	if v == 0 {
		clear(p)
		return
	}
	for i := range p {
		p[i] = v
	}
}

// checkSource validates an (src, n) pair.
func checkSource(src []byte, n int) error {
	if n < 0 || (src == nil && n > 0) || len(src) < n {
		return fmt.Errorf("source of %d bytes for %d requested: %w", len(src), n, ErrInvalidArgument)
	}
	return nil
}

// insertIndex resolves at for an insert into length bytes. at == length
// appends; -k inserts before the k-th byte from the end and is clamped to
// the front. ok is false when at lies past the end.
func insertIndex(at, length int) (idx int, ok bool) {
	if at < 0 {
		at += length
		if at < 0 {
			at = 0
		}
		return at, true
	}
	if at > length {
		return 0, false
	}
	return at, true
}

// removeRange resolves (at, n) for a removal from length bytes, truncating
// the range at the end. ok is false when the removal is a no-op.
func removeRange(at, n, length int) (idx, count int, ok bool) {
	if n == 0 || length == 0 {
		return 0, 0, false
	}
	if at < 0 {
		if at < -length {
			return 0, 0, false
		}
		at += length
	}
	if at >= length {
		return 0, 0, false
	}
	if n > length-at {
		n = length - at
	}
	return at, n, true
}
