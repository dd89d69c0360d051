package buffer

import "fmt"

// exactBuffer keeps Cap() == Len(). Every size change is a fresh allocation
// of exactly the new length followed by a single copy.
type exactBuffer struct {
	base
}

func (b *exactBuffer) Policy() Policy { return PolicyExactFit }

func (b *exactBuffer) Reset(data []byte, length int, owns bool) error {
	return b.reset(data, length, owns, true)
}

func (b *exactBuffer) Reallocate(n int, v byte) error {
	switch {
	case n < 0:
		return fmt.Errorf("reallocate %d bytes: %w", n, ErrInvalidArgument)
	case n == b.length:
		return nil
	case n == 0:
		b.Free()
		return nil
	}

	block := b.allocate(n)
	if block == nil {
		return b.fail("reallocate", n)
	}
	kept := min(n, b.length)
	if b.block != nil {
		copy(block, b.block[:kept])
	}
	fill(block[kept:], v)
	b.replace(block, n, n)
	return nil
}

// Reserve is advisory; storage always matches the length exactly.
func (b *exactBuffer) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("reserve %d bytes: %w", n, ErrInvalidArgument)
	}
	return nil
}

func (b *exactBuffer) Clear() error {
	b.Free()
	return nil
}

func (b *exactBuffer) AppendFill(n int, v byte) error {
	return b.InsertFill(b.length, n, v)
}

func (b *exactBuffer) Append(src []byte, n int) error {
	return b.Insert(b.length, src, n)
}

func (b *exactBuffer) InsertFill(at, n int, v byte) error {
	if n < 0 {
		return fmt.Errorf("insert %d bytes: %w", n, ErrInvalidArgument)
	}
	idx, err := b.rebuildWithGap(at, n)
	if err != nil || idx < 0 {
		return err
	}
	fill(b.block[idx:idx+n], v)
	return nil
}

func (b *exactBuffer) Insert(at int, src []byte, n int) error {
	if err := checkSource(src, n); err != nil {
		return err
	}
	idx, err := b.rebuildWithGap(at, n)
	if err != nil || idx < 0 {
		return err
	}
	copy(b.block[idx:idx+n], src[:n])
	return nil
}

func (b *exactBuffer) rebuildWithGap(at, n int) (int, error) {
	if n == 0 {
		return -1, nil
	}
	idx, ok := insertIndex(at, b.length)
	if !ok {
		return -1, nil
	}
	need := b.length + n
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

func (b *exactBuffer) Remove(at, n int) error {
	if n < 0 {
		return fmt.Errorf("remove %d bytes: %w", n, ErrInvalidArgument)
	}
	idx, count, ok := removeRange(at, n, b.length)
	if !ok {
		return nil
	}
	remaining := b.length - count
	if remaining == 0 {
		b.Free()
		return nil
	}

	block := b.allocate(remaining)
	if block == nil {
		return b.fail("remove", remaining)
	}
	copy(block, b.block[:idx])
	copy(block[idx:], b.block[idx+count:b.length])
	b.replace(block, remaining, remaining)
	return nil
}

func (b *exactBuffer) Clone() (Buffer, error) {
	block, err := b.cloneBlock()
	if err != nil {
		return nil, err
	}
	c := &exactBuffer{base: base{alloc: b.alloc}}
	if block != nil {
		c.replace(block, b.length, b.length)
	}
	return c, nil
}

func (b *exactBuffer) Move() Buffer {
	return &exactBuffer{base: b.take()}
}
