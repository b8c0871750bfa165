package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single newline-delimited frame.
const MaxFrameSize = 16 << 20

type readResult struct {
	frame []byte
	err   error
}

// Lines is a Stream of newline-delimited frames, typically stdin/stdout.
type Lines struct {
	r     io.Reader
	start sync.Once
	reads chan readResult

	mu     sync.Mutex
	w      *bufio.Writer
	closed bool
}

// NewLines creates a stream reading frames from r and writing them to w.
func NewLines(r io.Reader, w io.Writer) *Lines {
	return &Lines{
		r:     r,
		reads: make(chan readResult, 1),
		w:     bufio.NewWriter(w),
	}
}

// Recv returns the next non-empty line.
func (l *Lines) Recv(ctx context.Context) ([]byte, error) {
	l.start.Do(func() { go l.readLoop() })
	select {
	case res, ok := <-l.reads:
		if !ok {
			return nil, io.EOF
		}
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop owns the scanner. It exits at EOF or on the first read error.
func (l *Lines) readLoop() {
	defer close(l.reads)
	scanner := bufio.NewScanner(l.r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		l.reads <- readResult{frame: frame}
	}
	if err := scanner.Err(); err != nil {
		l.reads <- readResult{err: fmt.Errorf("read frame: %w", err)}
	}
}

// Send writes frame followed by a newline and flushes.
func (l *Lines) Send(_ context.Context, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, err := l.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Close stops further sends. The underlying reader and writer are left
// open; they belong to the caller.
func (l *Lines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
