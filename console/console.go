// Package console implements the character-device ring buffer backing
// Stdin, grounded on biscuit's circbuf.Circbuf_t (head/tail modulo
// indexing, Full/Empty/Left/Used accounting, Advhead/Advtail semantics)
// but simplified to single-byte push/pop, since this kernel's console
// has no Userio_i-mediated bulk transfer the way biscuit's TCP/pipe
// users of circbuf do.
package console

import (
	"sync"

	"golang.org/x/text/width"

	"rvos/sbi"
)

// RingBuffer is a fixed-capacity circular byte queue.
type RingBuffer struct {
	buf        []byte
	head, tail int
}

// NewRingBuffer allocates a ring buffer with the given byte capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		panic("console: ring buffer size must be positive")
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Full reports whether the buffer can accept no more bytes.
func (rb *RingBuffer) Full() bool { return rb.head-rb.tail == len(rb.buf) }

// Empty reports whether the buffer holds no bytes.
func (rb *RingBuffer) Empty() bool { return rb.head == rb.tail }

// Left returns the remaining capacity in bytes.
func (rb *RingBuffer) Left() int { return len(rb.buf) - rb.Used() }

// Used returns the number of bytes currently queued.
func (rb *RingBuffer) Used() int { return rb.head - rb.tail }

// PushByte enqueues b, returning false if the buffer is full.
func (rb *RingBuffer) PushByte(b byte) bool {
	if rb.Full() {
		return false
	}
	rb.buf[rb.head%len(rb.buf)] = b
	rb.head++
	return true
}

// PopByte dequeues the oldest byte, returning ok=false if empty.
func (rb *RingBuffer) PopByte() (b byte, ok bool) {
	if rb.Empty() {
		return 0, false
	}
	b = rb.buf[rb.tail%len(rb.buf)]
	rb.tail++
	return b, true
}

// DefaultCapacity is the console ring buffer's size in bytes: 256, well
// under the one-page cap biscuit's circbuf uses for console input.
const DefaultCapacity = 256

// Console drives a ring buffer from the SBI legacy console extension.
// Poll should be called on every timer tick (simulating a UART RX
// interrupt); ReadByte is what Stdin calls, and falls back to a direct
// SBI poll so a character typed between two Poll calls isn't lost.
type Console struct {
	mu  sync.Mutex
	buf *RingBuffer
}

// NewConsole creates a Console with the default ring buffer capacity.
func NewConsole() *Console {
	return &Console{buf: NewRingBuffer(DefaultCapacity)}
}

// Poll drains every character currently available from firmware into
// the ring buffer, dropping characters if it fills (matching
// biscuit's Copyin, which silently stops once Full).
func (c *Console) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		ch, ok := sbi.ConsoleGetChar()
		if !ok {
			return
		}
		if !c.buf.PushByte(ch) {
			return
		}
	}
}

// ReadByte returns the next queued character, polling firmware
// directly once if the ring buffer is currently empty.
func (c *Console) ReadByte() (byte, bool) {
	c.mu.Lock()
	if b, ok := c.buf.PopByte(); ok {
		c.mu.Unlock()
		return b, true
	}
	c.mu.Unlock()

	if ch, ok := sbi.ConsoleGetChar(); ok {
		return ch, true
	}
	return 0, false
}

// WriteByte writes one character to the console via firmware.
func (c *Console) WriteByte(b byte) { sbi.ConsolePutChar(b) }

// WriteString writes s to the console one byte at a time.
func (c *Console) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		c.WriteByte(s[i])
	}
}

// VisualWidth reports the number of terminal columns s occupies,
// counting East-Asian wide and fullwidth runes as two columns and every
// other rune as one.
func VisualWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
