package tools

import (
	"io"
	"sync"
)

// RingBuffer is a bounded byte queue for playback. When a write would
// exceed capacity the oldest bytes are discarded. Read blocks until data
// arrives or the buffer is closed.
type RingBuffer struct {
	buffer []byte
	mu     sync.Mutex
	cond   *sync.Cond
	cap    int
	closed bool
}

func NewRingBuffer(fixedCap int) *RingBuffer {
	rb := &RingBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Write queues data and reports how many old bytes were dropped to make room.
func (rb *RingBuffer) Write(data []byte) (dropped int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return len(data)
	}
	if len(data) > rb.cap {
		dropped = len(data) - rb.cap
		data = data[dropped:]
	}
	if over := len(rb.buffer) + len(data) - rb.cap; over > 0 {
		rb.buffer = rb.buffer[over:]
		dropped += over
	}
	rb.buffer = append(rb.buffer, data...)
	rb.cond.Signal()
	return dropped
}

func (rb *RingBuffer) Read(p []byte) (n int, err error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for len(rb.buffer) == 0 && !rb.closed {
		rb.cond.Wait()
	}
	if len(rb.buffer) == 0 {
		return 0, io.EOF
	}
	n = copy(p, rb.buffer)
	rb.buffer = rb.buffer[n:]
	return n, nil
}

func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer)
}

// Close wakes pending readers; they drain what is left and then get io.EOF.
func (rb *RingBuffer) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
	return nil
}
