package alloc

import (
	"math/bits"
	"sync"
)

const (
	// log2 of the smallest pooled block size.
	baseBlockSizeLog2 = 6

	// baseBlockSize is the size of blocks in the first pool. Each subsequent
	// pool holds blocks twice as large as the previous one.
	baseBlockSize = 1 << baseBlockSizeLog2 // 64

	numPools = 11

	// MaxPooledSize is the largest block size served from a pool. Larger
	// requests go to the heap and are dropped on Deallocate.
	MaxPooledSize = baseBlockSize << (numPools - 1) // 64k
)

// Pool is a size-class allocator backed by sync.Pool. Requests are rounded
// up to the next power of two (minimum 64 bytes) for storage, but the
// returned block always has exactly the requested length.
//
// Pool is safe for concurrent use.
type Pool struct {
	pools [numPools]sync.Pool
}

// NewPool creates a Pool.
func NewPool() *Pool {
	p := &Pool{}
	for i := 0; i < numPools; i++ {
		size := baseBlockSize << i
		p.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Precondition: 0 < size <= MaxPooledSize
func poolIndex(size int) int {
	if size <= baseBlockSize {
		return 0
	}
	idx := bits.Len64(uint64(size-1)) - baseBlockSizeLog2
	if idx >= numPools {
		return -1
	}
	return idx
}

// Allocate implements Allocator.
func (p *Pool) Allocate(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > MaxPooledSize {
		return make([]byte, n)
	}
	bp := p.pools[poolIndex(n)].Get().(*[]byte)
	b := (*bp)[:n]
	clear(b)
	return b
}

// Deallocate implements Allocator. Blocks that were not produced by a pool
// size class are left to the garbage collector.
func (p *Pool) Deallocate(b []byte) {
	c := cap(b)
	if c == 0 || c > MaxPooledSize {
		return
	}
	idx := poolIndex(c)
	if idx < 0 || baseBlockSize<<idx != c {
		return
	}
	b = b[:c]
	p.pools[idx].Put(&b)
}
