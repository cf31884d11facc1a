// Package buffer provides a fixed-capacity byte region with a movable data
// window, used to prepend protocol headers and append padding in place.
//
// Any call that recenters the window (AddPadding when the tail is exhausted,
// Compact) invalidates slices previously returned by Bytes. Callers must take
// a fresh view after such a call.
package buffer

import (
	"fmt"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// MaxLen is the default backing capacity: room for two maximum-size IPv4
// datagrams plus a header allowance.
const MaxLen = 2*65535 + 255

// Buffer is a window [start, start+len) into a fixed backing array.
type Buffer struct {
	data  []byte
	start int
	len   int
}

// New returns a buffer with the default capacity and a zeroed window of
// length bytes. A length beyond MaxLen gets an exact-fit buffer with no
// headroom.
func New(length int) (*Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", core.ErrBufferUnderflow, length)
	}
	if length > MaxLen {
		return &Buffer{data: make([]byte, length), len: length}, nil
	}
	return NewWithCapacity(MaxLen, length)
}

// NewWithCapacity returns a buffer backed by capacity bytes.
func NewWithCapacity(capacity, length int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", core.ErrBufferOverflow, capacity)
	}
	b := &Buffer{data: make([]byte, capacity)}
	if err := b.Init(length); err != nil {
		return nil, err
	}
	return b, nil
}

// Init resets the window to length zeroed bytes ending at the middle of the
// backing array, leaving headroom for headers and tailroom for padding.
func (b *Buffer) Init(length int) error {
	if length < 0 {
		return fmt.Errorf("%w: negative init length %d", core.ErrBufferUnderflow, length)
	}
	if length > len(b.data) {
		return fmt.Errorf("%w: init length %d exceeds capacity %d", core.ErrBufferOverflow, length, len(b.data))
	}
	mid := len(b.data) / 2
	if length > mid {
		b.start = 0
	} else {
		b.start = mid - length
	}
	b.len = length
	clear(b.data[b.start : b.start+b.len])
	return nil
}

// Bytes returns a view of the current window.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start : b.start+b.len]
}

// Len returns the window length.
func (b *Buffer) Len() int { return b.len }

// Cap returns the backing capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Headroom returns the number of bytes available in front of the window.
func (b *Buffer) Headroom() int { return b.start }

// Tailroom returns the number of bytes available behind the window without
// recentering.
func (b *Buffer) Tailroom() int { return len(b.data) - b.start - b.len }

// Free returns the total number of bytes the window can still grow by.
func (b *Buffer) Free() int { return len(b.data) - b.len }

// AddHeader extends the window n bytes towards the front. The new bytes
// keep whatever the backing array held; the caller writes the header.
func (b *Buffer) AddHeader(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative header length %d", core.ErrBufferUnderflow, n)
	}
	if n > b.start {
		return fmt.Errorf("%w: need %d, have %d", core.ErrNoHeadroom, n, b.start)
	}
	b.start -= n
	b.len += n
	return nil
}

// RemoveHeader drops n bytes from the front of the window.
func (b *Buffer) RemoveHeader(n int) error {
	if n < 0 || n > b.len {
		return fmt.Errorf("%w: remove %d of %d", core.ErrBufferUnderflow, n, b.len)
	}
	b.start += n
	b.len -= n
	return nil
}

// AddPadding extends the window by n zero bytes at the tail. When the tail
// is exhausted the payload is moved to the front of the backing array.
func (b *Buffer) AddPadding(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative padding %d", core.ErrBufferUnderflow, n)
	}
	if b.len+n > len(b.data) {
		return fmt.Errorf("%w: pad %d onto %d, capacity %d", core.ErrBufferOverflow, n, b.len, len(b.data))
	}
	if b.start+b.len+n > len(b.data) {
		copy(b.data, b.data[b.start:b.start+b.len])
		b.start = 0
	}
	clear(b.data[b.start+b.len : b.start+b.len+n])
	b.len += n
	return nil
}

// RemovePadding drops n bytes from the tail of the window.
func (b *Buffer) RemovePadding(n int) error {
	if n < 0 || n > b.len {
		return fmt.Errorf("%w: remove padding %d of %d", core.ErrBufferUnderflow, n, b.len)
	}
	b.len -= n
	return nil
}

// Truncate shortens the window to n bytes.
func (b *Buffer) Truncate(n int) error {
	if n < 0 || n > b.len {
		return fmt.Errorf("%w: truncate to %d of %d", core.ErrBufferUnderflow, n, b.len)
	}
	b.len = n
	return nil
}

// Append copies p onto the tail, growing the window.
func (b *Buffer) Append(p []byte) error {
	off := b.len
	if err := b.AddPadding(len(p)); err != nil {
		return err
	}
	copy(b.data[b.start+off:], p)
	return nil
}

// Compact moves the window to the front of the backing array, maximizing
// tailroom.
func (b *Buffer) Compact() {
	if b.start == 0 {
		return
	}
	copy(b.data, b.data[b.start:b.start+b.len])
	b.start = 0
}

// Clone returns an independent buffer with the same capacity, window
// position and content.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{data: make([]byte, len(b.data)), start: b.start, len: b.len}
	copy(c.data[c.start:], b.Bytes())
	return c
}

// Copy resets dst to n bytes taken from the front of src's window. dst may
// be src itself.
func Copy(dst, src *Buffer, n int) error {
	if n < 0 || n > src.len {
		return fmt.Errorf("%w: copy %d of %d", core.ErrBufferUnderflow, n, src.len)
	}
	payload := src.Bytes()[:n]
	if dst == src {
		// Init clears the window we are about to read
		payload = append([]byte(nil), payload...)
	}
	if err := dst.Init(n); err != nil {
		return err
	}
	copy(dst.Bytes(), payload)
	return nil
}
