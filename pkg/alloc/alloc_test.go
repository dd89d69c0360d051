package alloc

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap(t *testing.T) {
	var h Heap
	assert.Nil(t, h.Allocate(0))
	assert.Nil(t, h.Allocate(-1))

	b := h.Allocate(10)
	require.Len(t, b, 10)
	h.Deallocate(b)
}

func TestByName(t *testing.T) {
	a, ok := ByName("heap")
	assert.True(t, ok)
	assert.IsType(t, Heap{}, a)

	a, ok = ByName("pool")
	assert.True(t, ok)
	assert.IsType(t, &Pool{}, a)

	_, ok = ByName("jemalloc")
	assert.False(t, ok)
}

func TestSetDefault(t *testing.T) {
	old := Default()
	defer SetDefault(old)

	c := NewCounting(nil)
	SetDefault(c)
	assert.Same(t, c, Default())

	SetDefault(nil)
	assert.IsType(t, Heap{}, Default())
}

func TestPoolIndex(t *testing.T) {
	tests := []struct {
		size int
		idx  int
	}{
		{1, 0},
		{64, 0},
		{65, 1},
		{128, 1},
		{129, 2},
		{1500, 5},
		{MaxPooledSize, numPools - 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.idx, poolIndex(tt.size), "size %d", tt.size)
	}
}

func TestPoolAllocate(t *testing.T) {
	p := NewPool()

	b := p.Allocate(100)
	require.Len(t, b, 100)
	assert.Equal(t, 128, cap(b))
	for i := range b {
		b[i] = 0xFF
	}
	p.Deallocate(b)

	// Reused blocks come back zeroed.
	b2 := p.Allocate(100)
	require.Len(t, b2, 100)
	for _, v := range b2 {
		require.Zero(t, v)
	}

	big := p.Allocate(MaxPooledSize + 1)
	assert.Len(t, big, MaxPooledSize+1)
	p.Deallocate(big)

	assert.Nil(t, p.Allocate(0))
	// Foreign blocks are ignored.
	p.Deallocate(make([]byte, 100))
	p.Deallocate(nil)
}

func TestPoolConcurrent(t *testing.T) {
	p := NewPool()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Allocate(n*64 + j)
				b[0] = 1
				p.Deallocate(b)
			}
		}(i + 1)
	}
	wg.Wait()
}

func TestCounting(t *testing.T) {
	c := NewCounting(nil)

	a := c.Allocate(10)
	b := c.Allocate(20)
	assert.Equal(t, 2, c.Allocs())
	assert.Equal(t, 30, c.Outstanding())

	c.Deallocate(a)
	assert.Equal(t, 1, c.Frees())
	assert.Equal(t, 20, c.Outstanding())
	assert.Equal(t, 1, c.Freed(a))
	assert.Equal(t, 0, c.Freed(b))

	external := make([]byte, 8)
	assert.Equal(t, 0, c.Freed(external))
	assert.Equal(t, 0, c.Freed(nil))
}

func TestCountingFailAfter(t *testing.T) {
	c := NewCounting(nil)
	c.FailAfter(2)

	assert.NotNil(t, c.Allocate(1))
	assert.NotNil(t, c.Allocate(1))
	assert.Nil(t, c.Allocate(1))
	assert.Nil(t, c.Allocate(1))
	assert.Equal(t, 2, c.Allocs())

	c.FailAfter(-1)
	assert.NotNil(t, c.Allocate(1))
}

func TestCountingFailAbove(t *testing.T) {
	c := NewCounting(nil)
	c.FailAbove(16)

	assert.NotNil(t, c.Allocate(16))
	assert.Nil(t, c.Allocate(17))

	c.FailAbove(0)
	assert.NotNil(t, c.Allocate(17))
}

func TestInstrumented(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	c := NewCounting(nil)
	a := NewInstrumented(c, "test", m)

	b := a.Allocate(100)
	require.NotNil(t, b)
	a.Deallocate(b)

	c.FailAfter(0)
	assert.Nil(t, a.Allocate(1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("test", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("test", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deallocations.WithLabelValues("test")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.Bytes.WithLabelValues("test")))
	assert.Equal(t, 1, c.Frees())
}
