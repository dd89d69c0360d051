package alloc

import (
	"sync"
	"unsafe"
)

// Counting wraps another allocator and records every call. It can also be
// told to start failing, which is how buffer rollback paths are exercised.
//
// Counting is safe for concurrent use.
type Counting struct {
	next Allocator

	mu          sync.Mutex
	allocs      int
	frees       int
	outstanding int
	failAfter   int // -1 disables
	failAbove   int // 0 disables
	live        map[*byte]int
	freed       map[*byte]int
}

// NewCounting wraps next; a nil next wraps Heap.
func NewCounting(next Allocator) *Counting {
	if next == nil {
		next = Heap{}
	}
	return &Counting{
		next:      next,
		failAfter: -1,
		live:      make(map[*byte]int),
		freed:     make(map[*byte]int),
	}
}

// FailAfter makes every allocation after the next n successful ones fail.
// A negative n disables the injection.
func (c *Counting) FailAfter(n int) {
	c.mu.Lock()
	c.failAfter = n
	c.mu.Unlock()
}

// FailAbove makes every allocation larger than size bytes fail. Zero
// disables the injection.
func (c *Counting) FailAbove(size int) {
	c.mu.Lock()
	c.failAbove = size
	c.mu.Unlock()
}

// Allocate implements Allocator.
func (c *Counting) Allocate(n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAfter == 0 || (c.failAbove > 0 && n > c.failAbove) {
		return nil
	}
	b := c.next.Allocate(n)
	if b == nil {
		return nil
	}
	if c.failAfter > 0 {
		c.failAfter--
	}
	c.allocs++
	c.outstanding += n
	c.live[unsafe.SliceData(b)] = n
	return b
}

// Deallocate implements Allocator.
func (c *Counting) Deallocate(b []byte) {
	if b == nil {
		return
	}
	c.mu.Lock()
	key := unsafe.SliceData(b)
	if n, ok := c.live[key]; ok {
		c.outstanding -= n
		delete(c.live, key)
	}
	c.frees++
	c.freed[key]++
	c.mu.Unlock()

	c.next.Deallocate(b)
}

// Allocs returns the number of successful allocations.
func (c *Counting) Allocs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs
}

// Frees returns the number of Deallocate calls.
func (c *Counting) Frees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frees
}

// Outstanding returns the number of allocated bytes not yet returned.
func (c *Counting) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Freed reports how many times the block starting at b[0] was deallocated.
func (c *Counting) Freed(b []byte) int {
	if len(b) == 0 && cap(b) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freed[unsafe.SliceData(b)]
}
