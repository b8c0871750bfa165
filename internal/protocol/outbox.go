package protocol

import (
	"sync"

	"github.com/roach88/casecore/internal/wire"
)

// outbox is the FIFO of frames waiting for the session writer.
//
// Any handler goroutine may enqueue; only the writer dequeues. The queue is
// unbounded so a handler never blocks on a slow peer while it holds a
// correlation entry.
type outbox struct {
	mu       sync.Mutex
	messages []*wire.Message
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newOutbox() *outbox {
	return &outbox{
		messages: make([]*wire.Message, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends m. It returns false once the outbox is closed.
func (o *outbox) Enqueue(m *wire.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.messages = append(o.messages, m)

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (o *outbox) TryDequeue() (*wire.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return nil, false
	}
	m := o.messages[0]
	o.messages[0] = nil
	if len(o.messages) == 1 {
		o.messages = o.messages[:0]
	} else {
		o.messages = o.messages[1:]
	}
	return m, true
}

// Wait signals that messages may be available. After Close it is always
// ready.
func (o *outbox) Wait() <-chan struct{} {
	return o.signal
}

// Drained reports whether the outbox is closed and empty.
func (o *outbox) Drained() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed && len(o.messages) == 0
}

// Len returns the number of queued messages.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// Close rejects further messages and wakes the writer. Queued messages are
// still delivered.
func (o *outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.signal)
}
