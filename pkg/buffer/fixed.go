package buffer

import (
	"fmt"
	"sync"
)

// SlotPool is a fixed-capacity buffer provider. It carves one slab into
// count slots of slotSize bytes each, the way NIC packet pools hand out
// mbufs. Slots are never grown; a request larger than a slot fails.
//
// SlotPool implements alloc.Allocator and is safe for concurrent use.
type SlotPool struct {
	slotSize int

	mu    sync.Mutex
	free  [][]byte
	total int
}

// NewSlotPool pre-allocates count slots of slotSize bytes.
func NewSlotPool(slotSize, count int) *SlotPool {
	if slotSize <= 0 || count <= 0 {
		panic(fmt.Sprintf("buffer: invalid slot pool %dx%d", count, slotSize))
	}
	slab := make([]byte, slotSize*count)
	p := &SlotPool{
		slotSize: slotSize,
		free:     make([][]byte, 0, count),
		total:    count,
	}
	for i := 0; i < count; i++ {
		lo := i * slotSize
		p.free = append(p.free, slab[lo:lo+slotSize:lo+slotSize])
	}
	return p
}

// SlotSize returns the capacity of every slot.
func (p *SlotPool) SlotSize() int { return p.slotSize }

// Available returns the number of free slots.
func (p *SlotPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocate hands out a zeroed slot sliced to n bytes, or nil when n does not
// fit a slot or the pool is exhausted.
func (p *SlotPool) Allocate(n int) []byte {
	if n <= 0 || n > p.slotSize {
		return nil
	}
	p.mu.Lock()
	last := len(p.free) - 1
	if last < 0 {
		p.mu.Unlock()
		return nil
	}
	slot := p.free[last]
	p.free = p.free[:last]
	p.mu.Unlock()

	clear(slot)
	return slot[:n]
}

// Deallocate returns a slot to the pool. Blocks that are not slots are
// ignored.
func (p *SlotPool) Deallocate(b []byte) {
	if cap(b) != p.slotSize {
		return
	}
	p.mu.Lock()
	if len(p.free) < p.total {
		p.free = append(p.free, b[:cap(b)])
	}
	p.mu.Unlock()
}

// Get returns a null-state PolicyFixed buffer drawing from p.
func (p *SlotPool) Get() Buffer {
	return New(PolicyFixed, WithAllocator(p))
}

// fixedBuffer lives in a single slot. It resizes freely inside the slot and
// fails with ErrCapacityExceeded past it. Free gives the slot back.
type fixedBuffer struct {
	base
	pool *SlotPool
}

func (b *fixedBuffer) Policy() Policy { return PolicyFixed }

func (b *fixedBuffer) Reset(data []byte, length int, owns bool) error {
	return b.reset(data, length, owns, false)
}

// ensure makes sure n bytes fit, taking a slot if the buffer is null.
func (b *fixedBuffer) ensure(n int) error {
	if n <= b.capacity {
		return nil
	}
	if b.block != nil || n > b.pool.slotSize {
		return fmt.Errorf("%d bytes in a %d byte slot: %w", n, max(b.capacity, b.pool.slotSize), ErrCapacityExceeded)
	}
	slot := b.pool.Allocate(n)
	if slot == nil {
		return b.fail("acquire slot for", n)
	}
	b.block = slot[:cap(slot)]
	b.length = 0
	b.capacity = cap(slot)
	b.owns = true
	return nil
}

func (b *fixedBuffer) Reallocate(n int, v byte) error {
	if n < 0 {
		return fmt.Errorf("reallocate %d bytes: %w", n, ErrInvalidArgument)
	}
	if n == 0 {
		b.length = 0
		return nil
	}
	if err := b.ensure(n); err != nil {
		return err
	}
	if n > b.length {
		fill(b.block[b.length:n], v)
	}
	b.length = n
	return nil
}

func (b *fixedBuffer) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("reserve %d bytes: %w", n, ErrInvalidArgument)
	}
	if n == 0 {
		return nil
	}
	return b.ensure(n)
}

// Clear empties the buffer but keeps its slot.
func (b *fixedBuffer) Clear() error {
	b.length = 0
	return nil
}

func (b *fixedBuffer) AppendFill(n int, v byte) error {
	return b.InsertFill(b.length, n, v)
}

func (b *fixedBuffer) Append(src []byte, n int) error {
	return b.Insert(b.length, src, n)
}

func (b *fixedBuffer) InsertFill(at, n int, v byte) error {
	if n < 0 {
		return fmt.Errorf("insert %d bytes: %w", n, ErrInvalidArgument)
	}
	idx, err := b.makeRoom(at, n)
	if err != nil || idx < 0 {
		return err
	}
	fill(b.block[idx:idx+n], v)
	return nil
}

func (b *fixedBuffer) Insert(at int, src []byte, n int) error {
	if err := checkSource(src, n); err != nil {
		return err
	}
	idx, err := b.makeRoom(at, n)
	if err != nil || idx < 0 {
		return err
	}
	copy(b.block[idx:idx+n], src[:n])
	return nil
}

func (b *fixedBuffer) makeRoom(at, n int) (int, error) {
	if n == 0 {
		return -1, nil
	}
	idx, ok := insertIndex(at, b.length)
	if !ok {
		return -1, nil
	}
	if err := b.ensure(b.length + n); err != nil {
		return -1, err
	}
	b.openGap(idx, n)
	return idx, nil
}

func (b *fixedBuffer) Remove(at, n int) error {
	if n < 0 {
		return fmt.Errorf("remove %d bytes: %w", n, ErrInvalidArgument)
	}
	if idx, count, ok := removeRange(at, n, b.length); ok {
		b.closeGap(idx, count)
	}
	return nil
}

func (b *fixedBuffer) Clone() (Buffer, error) {
	c := &fixedBuffer{base: base{alloc: b.alloc}, pool: b.pool}
	if b.block == nil || b.length == 0 {
		return c, nil
	}
	if err := c.ensure(b.length); err != nil {
		return nil, err
	}
	copy(c.block, b.block[:b.length])
	c.length = b.length
	return c, nil
}

func (b *fixedBuffer) Move() Buffer {
	return &fixedBuffer{base: b.take(), pool: b.pool}
}
