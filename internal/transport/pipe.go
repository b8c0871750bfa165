package transport

import (
	"context"
	"io"
	"sync"
)

// PipeEnd is one end of an in-memory stream pair.
type PipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected ends. Closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := make(chan []byte, 64), make(chan []byte, 64)
	done, once := make(chan struct{}), &sync.Once{}
	return &PipeEnd{in: a, out: b, done: done, once: once},
		&PipeEnd{in: b, out: a, done: done, once: once}
}

// Recv returns the next frame sent by the other end. Frames sent before
// Close are still delivered.
func (p *PipeEnd) Recv(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	default:
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send delivers a copy of frame to the other end.
func (p *PipeEnd) Send(ctx context.Context, frame []byte) error {
	f := make([]byte, len(frame))
	copy(f, frame)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
