package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPoolAllocate(t *testing.T) {
	p := NewSlotPool(16, 2)
	assert.Equal(t, 16, p.SlotSize())
	assert.Equal(t, 2, p.Available())

	assert.Nil(t, p.Allocate(0))
	assert.Nil(t, p.Allocate(17))

	a := p.Allocate(4)
	require.Len(t, a, 4)
	assert.Equal(t, 16, cap(a))
	b := p.Allocate(16)
	require.NotNil(t, b)
	assert.Nil(t, p.Allocate(1), "exhausted")
	assert.Zero(t, p.Available())

	a[0] = 0xFF
	p.Deallocate(a)
	assert.Equal(t, 1, p.Available())
	a = p.Allocate(1)
	assert.Equal(t, []byte{0}, a, "slots come back zeroed")

	// Foreign blocks are ignored.
	p.Deallocate(make([]byte, 8))
	assert.Zero(t, p.Available())
}

func TestSlotPoolPanicsOnBadSize(t *testing.T) {
	assert.Panics(t, func() { NewSlotPool(0, 1) })
	assert.Panics(t, func() { NewSlotPool(64, 0) })
}

func TestFixedBufferStaysInSlot(t *testing.T) {
	p := NewSlotPool(8, 1)
	b := p.Get()
	assert.Equal(t, PolicyFixed, b.Policy())

	require.NoError(t, b.Append([]byte{1, 2, 3}, 3))
	assert.Equal(t, 8, b.Cap())
	assert.Zero(t, p.Available())

	require.NoError(t, b.InsertFill(0, 5, 7))
	assert.Equal(t, []byte{7, 7, 7, 7, 7, 1, 2, 3}, b.Bytes())

	assert.ErrorIs(t, b.AppendFill(1, 0), ErrCapacityExceeded)
	assert.ErrorIs(t, b.Reallocate(9, 0), ErrCapacityExceeded)
	assert.ErrorIs(t, b.Reserve(100), ErrCapacityExceeded)
	assert.Equal(t, 8, b.Len(), "rejected growth leaves contents alone")

	require.NoError(t, b.Reallocate(2, 0))
	assert.Equal(t, []byte{7, 7}, b.Bytes())
	require.NoError(t, b.Reallocate(4, 1))
	assert.Equal(t, []byte{7, 7, 1, 1}, b.Bytes())
}

func TestFixedBufferClearKeepsSlot(t *testing.T) {
	p := NewSlotPool(8, 1)
	b := p.Get()
	require.NoError(t, b.Append([]byte{1, 2}, 2))

	require.NoError(t, b.Clear())
	assert.Zero(t, b.Len())
	assert.Equal(t, 8, b.Cap())
	assert.False(t, b.IsNull())
	assert.Zero(t, p.Available())

	require.NoError(t, b.Reallocate(0, 0))
	assert.Zero(t, p.Available())

	b.Free()
	assert.True(t, b.IsNull())
	assert.Equal(t, 1, p.Available(), "free returns the slot")
}

func TestFixedBufferExhaustedPool(t *testing.T) {
	p := NewSlotPool(8, 1)
	first := p.Get()
	require.NoError(t, first.AppendFill(1, 0))

	second := p.Get()
	assert.ErrorIs(t, second.AppendFill(1, 0), ErrAllocationFailure)
	assertNull(t, second)

	assert.ErrorIs(t, p.Get().AppendFill(9, 0), ErrCapacityExceeded)

	_, err := first.Clone()
	assert.ErrorIs(t, err, ErrAllocationFailure)

	moved := first.Move()
	assert.True(t, first.IsNull())
	moved.Free()
	assert.Equal(t, 1, p.Available())
}

func TestSlotPoolConcurrent(t *testing.T) {
	p := NewSlotPool(64, 16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v byte) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b := p.Get()
				if err := b.AppendFill(32, v); err != nil {
					continue
				}
				for _, c := range b.Bytes() {
					if c != v {
						t.Errorf("slot shared between buffers")
						return
					}
				}
				b.Free()
			}
		}(byte(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 16, p.Available())
}
