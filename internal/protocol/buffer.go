package protocol

// Buffer accumulates inbound bytes and hands out a readable window.
// Consumed prefixes are dropped lazily: the buffer resets when fully
// consumed and compacts once the consumed prefix passes half the
// stored length, which bounds memory to O(pending packet).
type Buffer struct {
	data []byte
	off  int
}

// Append adds bytes to the end of the readable window.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Bytes returns the readable window. The slice is only valid until the
// next Append or Consume.
func (b *Buffer) Bytes() []byte {
	return b.data[b.off:]
}

// Len reports the number of readable bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Consume advances the readable window by n bytes.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.off += n
	if b.off >= len(b.data) {
		b.data = b.data[:0]
		b.off = 0
		return
	}
	if b.off >= len(b.data)/2 {
		rest := copy(b.data, b.data[b.off:])
		b.data = b.data[:rest]
		b.off = 0
	}
}
