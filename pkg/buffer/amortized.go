package buffer

import "fmt"

// amortizedBuffer tracks capacity separately from length and reallocates only
// when a request exceeds it, always to exactly the size requested.
type amortizedBuffer struct {
	base
}

func (b *amortizedBuffer) Policy() Policy { return PolicyAmortized }

func (b *amortizedBuffer) Reset(data []byte, length int, owns bool) error {
	return b.reset(data, length, owns, false)
}

func (b *amortizedBuffer) Reallocate(n int, v byte) error {
	switch {
	case n < 0:
		return fmt.Errorf("reallocate %d bytes: %w", n, ErrInvalidArgument)
	case n == 0:
		b.Free()
		return nil
	case n <= b.capacity:
		if n > b.length {
			fill(b.block[b.length:n], v)
		}
		b.length = n
		return nil
	}

	block := b.allocate(n)
	if block == nil {
		return b.fail("reallocate", n)
	}
	if b.block != nil {
		copy(block, b.block[:b.length])
	}
	fill(block[b.length:n], v)
	b.replace(block, n, n)
	return nil
}

func (b *amortizedBuffer) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("reserve %d bytes: %w", n, ErrInvalidArgument)
	}
	if n <= b.capacity {
		return nil
	}
	block := b.allocate(n)
	if block == nil {
		return b.fail("reserve", n)
	}
	if b.block != nil {
		copy(block, b.block[:b.length])
	}
	b.replace(block, b.length, n)
	return nil
}

func (b *amortizedBuffer) Clear() error {
	return b.Reallocate(0, 0)
}

func (b *amortizedBuffer) AppendFill(n int, v byte) error {
	return b.InsertFill(b.length, n, v)
}

func (b *amortizedBuffer) Append(src []byte, n int) error {
	return b.Insert(b.length, src, n)
}

func (b *amortizedBuffer) InsertFill(at, n int, v byte) error {
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

func (b *amortizedBuffer) Insert(at int, src []byte, n int) error {
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

// makeRoom opens an n byte gap at at, growing to exactly length+n when
// capacity is short. A negative idx means the insert is a no-op.
func (b *amortizedBuffer) makeRoom(at, n int) (int, error) {
	if n == 0 {
		return -1, nil
	}
	idx, ok := insertIndex(at, b.length)
	if !ok {
		return -1, nil
	}
	need := b.length + n
	if need <= b.capacity {
		b.openGap(idx, n)
		return idx, nil
	}

	block := b.allocate(need)
	if block == nil {
		return -1, b.fail("insert", need)
	}
	if b.block != nil {
		copy(block, b.block[:idx])
		copy(block[idx+n:], b.block[idx:b.length])
	}
	b.replace(block, need, need)
	return idx, nil
}

func (b *amortizedBuffer) Remove(at, n int) error {
	if n < 0 {
		return fmt.Errorf("remove %d bytes: %w", n, ErrInvalidArgument)
	}
	if idx, count, ok := removeRange(at, n, b.length); ok {
		b.closeGap(idx, count)
	}
	return nil
}

func (b *amortizedBuffer) Clone() (Buffer, error) {
	block, err := b.cloneBlock()
	if err != nil {
		return nil, err
	}
	c := &amortizedBuffer{base: base{alloc: b.alloc}}
	if block != nil {
		c.replace(block, b.length, b.length)
	}
	return c, nil
}

func (b *amortizedBuffer) Move() Buffer {
	return &amortizedBuffer{base: b.take()}
}
