package transport

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLines_RecvSkipsBlankLines(t *testing.T) {
	in := strings.NewReader("{\"id\":\"1\"}\n\n  \n{\"id\":\"2\"}\n")
	l := NewLines(in, io.Discard)
	ctx := context.Background()

	f, err := l.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(f))

	f, err = l.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"2"}`, string(f))

	_, err = l.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLines_Send(t *testing.T) {
	var out bytes.Buffer
	l := NewLines(strings.NewReader(""), &out)

	require.NoError(t, l.Send(context.Background(), []byte(`{"id":"1"}`)))
	require.NoError(t, l.Send(context.Background(), []byte(`{"id":"2"}`)))
	assert.Equal(t, "{\"id\":\"1\"}\n{\"id\":\"2\"}\n", out.String())

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Send(context.Background(), []byte("{}")), ErrClosed)
}

func TestLines_RecvHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	l := NewLines(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, []byte("ping")))
	f, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(f))

	require.NoError(t, b.Send(ctx, []byte("pong")))
	require.NoError(t, b.Close())

	f, err = a.Recv(ctx)
	require.NoError(t, err, "frames sent before close are delivered")
	assert.Equal(t, "pong", string(f))

	_, err = a.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, a.Send(ctx, []byte("late")), ErrClosed)
}

func TestPipe_SendCopiesFrame(t *testing.T) {
	a, b := Pipe()
	frame := []byte("abc")
	require.NoError(t, a.Send(context.Background(), frame))
	frame[0] = 'x'

	got, err := b.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestWebSocket_RoundTrip(t *testing.T) {
	echo := func(ctx context.Context, s Stream) error {
		for {
			f, err := s.Recv(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.Send(ctx, append([]byte("echo:"), f...)); err != nil {
				return err
			}
		}
	}
	srv := httptest.NewServer(WebSocketHandler(echo, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	for _, msg := range []string{`{"id":"1"}`, `{"id":"2"}`} {
		require.NoError(t, ws.Send(ctx, []byte(msg)))
		got, err := ws.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "echo:"+msg, string(got))
	}

	require.NoError(t, ws.Close())
	assert.ErrorIs(t, ws.Send(ctx, []byte("{}")), ErrClosed)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/", nil)
	assert.Error(t, err)
}
