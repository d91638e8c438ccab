package mux

import "sync"

// Buffer is a thread-safe circular scrollback buffer for session output.
// The output pump writes, the control API reads.
type Buffer struct {
	data []byte
	size int
	head int
	tail int
	mu   sync.RWMutex
}

// NewBuffer creates a circular buffer holding at most size bytes. One extra
// slot is allocated internally so a full buffer is distinguishable from an
// empty one (tail == head means empty).
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1 << 20
	}
	return &Buffer{
		data: make([]byte, size+1),
		size: size + 1,
	}
}

// Write appends data, overwriting the oldest bytes when full.
func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size

		// Buffer full: advance head past the overwritten byte.
		if b.tail == b.head {
			b.head = (b.head + 1) % b.size
		}
	}

	return len(p), nil
}

// ReadAll drains and returns everything currently buffered.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == b.tail {
		return []byte{}
	}

	var result []byte
	if b.tail > b.head {
		result = make([]byte, b.tail-b.head)
		copy(result, b.data[b.head:b.tail])
	} else {
		// Wrapped around.
		firstPart := b.data[b.head:]
		secondPart := b.data[:b.tail]
		result = make([]byte, len(firstPart)+len(secondPart))
		copy(result, firstPart)
		copy(result[len(firstPart):], secondPart)
	}

	b.head = b.tail
	return result
}
