// Package ringbuf provides a fixed-capacity byte FIFO.
//
// Full and empty are told apart by a mirror flag per cursor which flips each
// time the cursor wraps: equal indices with equal mirrors is empty, equal
// indices with different mirrors is full.
//
// Read and Write are safe for one producer and one consumer running on
// different contexts. Only cursor updates are done with interrupts masked,
// data is copied outside the guard.
package ringbuf

import "github.com/robotalks/mr.go/pkg/irq"

// Buffer is the ring buffer.
type Buffer struct {
	buf         []byte
	readIndex   int
	writeIndex  int
	readMirror  bool
	writeMirror bool
	guard       irq.Guard
}

// New allocates a Buffer with the given capacity in bytes.
func New(size int) *Buffer {
	return NewWith(make([]byte, size), nil)
}

// NewWith creates a Buffer over caller provided storage.
// A nil guard defaults to irq.NewGuard().
func NewWith(pool []byte, guard irq.Guard) *Buffer {
	if guard == nil {
		guard = irq.NewGuard()
	}
	return &Buffer{buf: pool, guard: guard}
}

// Size returns the capacity in bytes.
func (b *Buffer) Size() int {
	return len(b.buf)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.guard.Disable()
	b.readIndex, b.writeIndex = 0, 0
	b.readMirror, b.writeMirror = false, false
	b.guard.Enable()
}

// DataSize returns the number of unread bytes.
func (b *Buffer) DataSize() int {
	b.guard.Disable()
	defer b.guard.Enable()
	return b.dataSize()
}

// SpaceSize returns the number of bytes which can be written without loss.
func (b *Buffer) SpaceSize() int {
	return len(b.buf) - b.DataSize()
}

func (b *Buffer) dataSize() int {
	if b.readIndex == b.writeIndex {
		if b.readMirror == b.writeMirror {
			return 0
		}
		return len(b.buf)
	}
	if b.writeIndex > b.readIndex {
		return b.writeIndex - b.readIndex
	}
	return len(b.buf) - b.readIndex + b.writeIndex
}

// advance moves index by n and reports whether it wrapped.
func (b *Buffer) advance(index, n int) (int, bool) {
	index += n
	if index >= len(b.buf) {
		return index - len(b.buf), true
	}
	return index, false
}

// Read copies up to len(p) unread bytes into p in FIFO order.
func (b *Buffer) Read(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	b.guard.Disable()
	size, index := b.dataSize(), b.readIndex
	b.guard.Enable()
	if size == 0 {
		return 0
	}
	if size > len(p) {
		size = len(p)
	}

	if n := copy(p[:size], b.buf[index:]); n < size {
		copy(p[n:size], b.buf)
	}

	next, wrapped := b.advance(index, size)
	b.guard.Disable()
	b.readIndex = next
	if wrapped {
		b.readMirror = !b.readMirror
	}
	b.guard.Enable()
	return size
}

// Write copies as much of p as fits and never overwrites unread data.
// A short count means the buffer ran out of space.
func (b *Buffer) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	b.guard.Disable()
	size, index := len(b.buf)-b.dataSize(), b.writeIndex
	b.guard.Enable()
	if size == 0 {
		return 0
	}
	if size > len(p) {
		size = len(p)
	}

	if n := copy(b.buf[index:], p[:size]); n < size {
		copy(b.buf, p[n:size])
	}

	next, wrapped := b.advance(index, size)
	b.guard.Disable()
	b.writeIndex = next
	if wrapped {
		b.writeMirror = !b.writeMirror
	}
	b.guard.Enable()
	return size
}

// WriteForce writes p evicting the oldest unread bytes when short of space.
// If p is larger than the capacity, only its last Size() bytes are kept.
// It returns min(len(p), Size()).
//
// WriteForce moves both cursors, so it runs entirely with interrupts masked
// and must not race with a Read on another context.
func (b *Buffer) WriteForce(p []byte) int {
	if len(p) == 0 || len(b.buf) == 0 {
		return 0
	}
	if len(p) > len(b.buf) {
		p = p[len(p)-len(b.buf):]
	}
	size := len(p)

	b.guard.Disable()
	defer b.guard.Enable()
	space := len(b.buf) - b.dataSize()
	if n := copy(b.buf[b.writeIndex:], p); n < size {
		copy(b.buf, p[n:])
	}
	next, wrapped := b.advance(b.writeIndex, size)
	b.writeIndex = next
	if wrapped {
		b.writeMirror = !b.writeMirror
	}
	if size > space {
		// overrun: keep the newest Size() bytes, buffer is now full.
		b.readIndex = b.writeIndex
		b.readMirror = !b.writeMirror
	}
	return size
}

// Push appends a single byte, returns false when full.
func (b *Buffer) Push(c byte) bool {
	return b.Write([]byte{c}) == 1
}

// PushForce appends a single byte, evicting the oldest one when full.
func (b *Buffer) PushForce(c byte) {
	b.WriteForce([]byte{c})
}

// Pop removes a single byte.
func (b *Buffer) Pop() (byte, bool) {
	var c [1]byte
	if b.Read(c[:]) != 1 {
		return 0, false
	}
	return c[0], true
}
