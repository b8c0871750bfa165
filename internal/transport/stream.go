// Package transport carries verification frames between the server and a
// remote caller.
//
// A frame is one JSON message. Transports only move frames: encoding and
// protocol semantics live in the wire and protocol packages. Three
// transports are provided: newline-delimited frames over a reader/writer
// pair (stdio), websocket text messages, and an in-memory pipe for tests.
package transport

import (
	"context"
	"errors"
)

// ErrClosed indicates a send on a closed stream.
var ErrClosed = errors.New("transport closed")

// Stream is a bidirectional frame stream to one peer. Recv returns io.EOF
// once the peer has gone away. Send and Recv may be called concurrently
// with each other, but each by a single goroutine at a time.
type Stream interface {
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// ServeFunc handles one stream until it ends.
type ServeFunc func(ctx context.Context, s Stream) error
