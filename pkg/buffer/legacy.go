package buffer

import "fmt"

// legacyBuffer never grows on its own. Capacity is whatever storage was
// reserved through Reallocate, Reserve or Reset, and Append/Insert fail
// without touching the contents when that slack is missing.
type legacyBuffer struct {
	base
}

func (b *legacyBuffer) Policy() Policy { return PolicyLegacy }

func (b *legacyBuffer) Reset(data []byte, length int, owns bool) error {
	return b.reset(data, length, owns, false)
}

// Reallocate grows the storage to n bytes. The length is left as is and the
// new tail of the storage is set to fill.
func (b *legacyBuffer) Reallocate(n int, fill byte) error {
	if n < b.length {
		return fmt.Errorf("shrink from %d to %d bytes: %w", b.length, n, ErrInvalidArgument)
	}
	return b.grow(n, fill)
}

func (b *legacyBuffer) Reserve(n int) error {
	if n < 0 {
		return fmt.Errorf("reserve %d bytes: %w", n, ErrInvalidArgument)
	}
	return b.grow(n, 0)
}

func (b *legacyBuffer) grow(n int, v byte) error {
	if n <= b.capacity {
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
	b.replace(block, b.length, n)
	return nil
}

func (b *legacyBuffer) Clear() error {
	b.Free()
	return nil
}

func (b *legacyBuffer) AppendFill(n int, v byte) error {
	return b.InsertFill(b.length, n, v)
}

func (b *legacyBuffer) Append(src []byte, n int) error {
	return b.Insert(b.length, src, n)
}

func (b *legacyBuffer) InsertFill(at, n int, v byte) error {
	if n < 0 {
		return fmt.Errorf("insert %d bytes: %w", n, ErrInvalidArgument)
	}
	idx, ok := b.openSlack(at, n)
	if !ok {
		return b.slackError(n)
	}
	if idx >= 0 {
		fill(b.block[idx:idx+n], v)
	}
	return nil
}

func (b *legacyBuffer) Insert(at int, src []byte, n int) error {
	if err := checkSource(src, n); err != nil {
		return err
	}
	idx, ok := b.openSlack(at, n)
	if !ok {
		return b.slackError(n)
	}
	if idx >= 0 {
		copy(b.block[idx:idx+n], src[:n])
	}
	return nil
}

// openSlack opens an n byte gap at at. idx is -1 when the insert is a no-op;
// ok is false when the reserved slack cannot hold n more bytes.
func (b *legacyBuffer) openSlack(at, n int) (idx int, ok bool) {
	if n == 0 {
		return -1, true
	}
	idx, inRange := insertIndex(at, b.length)
	if !inRange {
		return -1, true
	}
	if b.length+n > b.capacity {
		return -1, false
	}
	b.openGap(idx, n)
	return idx, true
}

func (b *legacyBuffer) slackError(n int) error {
	return fmt.Errorf("insert %d bytes into %d/%d: %w", n, b.length, b.capacity, ErrInsufficientCapacity)
}

func (b *legacyBuffer) Remove(at, n int) error {
	if n < 0 {
		return fmt.Errorf("remove %d bytes: %w", n, ErrInvalidArgument)
	}
	if idx, count, ok := removeRange(at, n, b.length); ok {
		b.closeGap(idx, count)
	}
	return nil
}

func (b *legacyBuffer) Clone() (Buffer, error) {
	block, err := b.cloneBlock()
	if err != nil {
		return nil, err
	}
	c := &legacyBuffer{base: base{alloc: b.alloc}}
	if block != nil {
		c.replace(block, b.length, b.length)
	}
	return c, nil
}

func (b *legacyBuffer) Move() Buffer {
	return &legacyBuffer{base: b.take()}
}
