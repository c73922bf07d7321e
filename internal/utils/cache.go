package utils

import (
	"io"
	"sync"
)

// BroadcastBuffer is a single-producer byte stream with any number of
// subscribers. Data written before a subscriber attaches is replayed from
// the buffered chunks; data written afterwards is pushed through live.
// The JIT provider uses it to tee one encoder's stdout to the cache file
// and to the first waiting requester at the same time.
type BroadcastBuffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	length  int
	closed  bool
	closeCh chan struct{}

	listeners []func([]byte) (int, error)
}

func NewBroadcastBuffer() *BroadcastBuffer {
	return &BroadcastBuffer{
		closeCh: make(chan struct{}),
	}
}

func (c *BroadcastBuffer) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, io.ErrClosedPipe
	}

	// copy chunk, broadcast happens under the same lock so a subscriber
	// attaching concurrently cannot miss bytes
	dst := make([]byte, len(p))
	n = copy(dst, p)
	c.chunks = append(c.chunks, dst)
	c.length += n

	for _, listener := range c.listeners {
		_, _ = listener(p)
	}

	return
}

// Close marks the end of the stream and releases all subscribers.
func (c *BroadcastBuffer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.listeners = nil
	close(c.closeCh)
	return nil
}

// Len returns the number of bytes written so far.
func (c *BroadcastBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.length
}

// CopyTo replays buffered data into w, then streams live writes until the
// buffer is closed. Write failures of w are returned, whether they happen
// during replay or on the live path. If w is an io.WriteCloser it is
// closed at the end of the stream.
func (c *BroadcastBuffer) CopyTo(w io.Writer) error {
	index := 0

	for {
		c.mu.Lock()

		// replay a buffered chunk, if one is available
		if index < len(c.chunks) {
			chunk := c.chunks[index]
			c.mu.Unlock()

			if _, err := w.Write(chunk); err != nil {
				_ = closeWriter(w)
				return err
			}

			index++
			continue
		}

		if c.closed {
			c.mu.Unlock()
			return closeWriter(w)
		}

		// caught up and still open: attach as a live listener. The first
		// write failure is kept, short-circuits further delivery, and is
		// surfaced once the stream ends. copyErr is written under c.mu
		// and read only after closeCh, which Close closes under the same
		// lock.
		var copyErr error
		c.listeners = append(c.listeners, func(p []byte) (int, error) {
			if copyErr != nil {
				return 0, copyErr
			}
			var n int
			n, copyErr = w.Write(p)
			return n, copyErr
		})
		c.mu.Unlock()

		// wait until the producer finishes
		<-c.closeCh

		closeErr := closeWriter(w)
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
}

func closeWriter(w io.Writer) error {
	if closer, ok := w.(io.WriteCloser); ok {
		return closer.Close()
	}
	return nil
}
