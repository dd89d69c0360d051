// Package alloc defines the allocator port injected into every buffer.
//
// An Allocator hands out byte blocks of an exact length and takes them back
// when the owning buffer is done with them. Allocate signals failure by
// returning nil; callers must treat that as an allocation failure and never
// as an empty block.
package alloc

// Allocator is a pluggable allocate/deallocate strategy.
type Allocator interface {
	// Allocate returns a zeroed block with len == n, or nil on failure.
	// Allocate(0) returns nil.
	Allocate(n int) []byte
	// Deallocate returns a block previously obtained from Allocate.
	Deallocate(b []byte)
}

// Heap allocates from the Go heap. Deallocate is a no-op; the garbage
// collector reclaims the block once the last reference is gone.
type Heap struct{}

// Allocate implements Allocator.
func (Heap) Allocate(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

// Deallocate implements Allocator.
func (Heap) Deallocate([]byte) {}

var defaultAllocator Allocator = Heap{}

// Default returns the process-wide default allocator.
func Default() Allocator {
	return defaultAllocator
}

// SetDefault replaces the default allocator used by buffers constructed
// without an explicit allocator. It is meant to be called once at startup.
func SetDefault(a Allocator) {
	if a == nil {
		a = Heap{}
	}
	defaultAllocator = a
}

// ByName resolves a configured allocator name.
func ByName(name string) (Allocator, bool) {
	switch name {
	case "", "heap":
		return Heap{}, true
	case "pool":
		return NewPool(), true
	default:
		return nil, false
	}
}
