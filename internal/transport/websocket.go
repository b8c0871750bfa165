package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// WebSocket is a Stream over text messages, one frame per message. A
// background goroutine keeps the connection alive with pings.
type WebSocket struct {
	conn   *websocket.Conn
	logger *slog.Logger

	reads   chan readResult
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &WebSocket{
		conn:   conn,
		logger: logger,
		reads:  make(chan readResult, 1),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(MaxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		logger.Warn("websocket set read deadline failed", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go ws.readLoop()
	go ws.pingLoop()
	return ws
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn, logger), nil
}

// WebSocketHandler upgrades each request and hands the stream to serve.
func WebSocketHandler(serve ServeFunc, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		ws := NewWebSocket(conn, logger)
		defer ws.Close()

		logger.Info("websocket stream opened", "remote", r.RemoteAddr)
		if err := serve(r.Context(), ws); err != nil {
			logger.Warn("websocket stream ended with error", "remote", r.RemoteAddr, "error", err)
			return
		}
		logger.Info("websocket stream closed", "remote", r.RemoteAddr)
	})
}

func (ws *WebSocket) readLoop() {
	defer close(ws.reads)
	for {
		kind, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ws.isClosed() {
				return
			}
			select {
			case ws.reads <- readResult{err: fmt.Errorf("read frame: %w", err)}:
			case <-ws.done:
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		select {
		case ws.reads <- readResult{frame: data}:
		case <-ws.done:
			return
		}
	}
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				ws.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// Recv returns the next message. A normal close from the peer is io.EOF.
func (ws *WebSocket) Recv(ctx context.Context) ([]byte, error) {
	select {
	case res, ok := <-ws.reads:
		if !ok {
			return nil, io.EOF
		}
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes frame as one text message.
func (ws *WebSocket) Send(_ context.Context, frame []byte) error {
	if ws.isClosed() {
		return ErrClosed
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close message and tears the connection down.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			ws.logger.Debug("websocket close message failed", "error", werr)
		}
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) isClosed() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}
