package audio

import "sync"

// RingBuffer is a fixed-capacity byte FIFO shared by a writer and the device
// callback.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	count int
}

func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write copies as much of p as fits and returns the number of bytes taken.
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := min(len(p), len(rb.buf)-rb.count)
	start := (rb.read + rb.count) % len(rb.buf)
	for i := 0; i < n; i++ {
		rb.buf[(start+i)%len(rb.buf)] = p[i]
	}
	rb.count += n
	return n
}

// Read fills p from the buffer and returns the number of bytes copied.
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := min(len(p), rb.count)
	for i := 0; i < n; i++ {
		p[i] = rb.buf[(rb.read+i)%len(rb.buf)]
	}
	rb.read = (rb.read + n) % len(rb.buf)
	rb.count -= n
	return n
}

// Buffered returns the number of unread bytes.
func (rb *RingBuffer) Buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the space left for writes.
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.count
}

func (rb *RingBuffer) Size() int { return len(rb.buf) }

func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read, rb.count = 0, 0
}
