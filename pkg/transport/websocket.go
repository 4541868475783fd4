package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	outgoingBuffer = 100
)

// WebSocketTransport carries one JSON-RPC message per websocket text frame.
// The same type serves both the dialing client and each accepted server
// connection.
type WebSocketTransport struct {
	*BaseTransport
	conn     *websocket.Conn
	endpoint string

	outgoingMessages chan []byte
	stopCh           chan struct{}
	stopOnce         sync.Once
	started          atomic.Bool
}

// UUIDGenerator issues uuid request ids
func UUIDGenerator() interface{} {
	return uuid.New().String()
}

// NewWebSocketTransport wraps an established connection. Request ids are
// uuids unless an IDGenerator option says otherwise.
func NewWebSocketTransport(conn *websocket.Conn, opts ...Option) *WebSocketTransport {
	opts = append([]Option{WithIDGenerator(UUIDGenerator)}, opts...)
	return &WebSocketTransport{
		BaseTransport:    newBaseTransport("websocket", opts...),
		conn:             conn,
		endpoint:         conn.RemoteAddr().String(),
		outgoingMessages: make(chan []byte, outgoingBuffer),
		stopCh:           make(chan struct{}),
	}
}

// DialWebSocket connects to a websocket MCP server at url
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, mcperrors.ConnectionFailed("websocket", url, err)
	}
	t := NewWebSocketTransport(conn, opts...)
	t.endpoint = url
	return t, nil
}

// Endpoint is the dialed URL or the peer address
func (t *WebSocketTransport) Endpoint() string {
	return t.endpoint
}

// Start runs the reader and writer loops until the connection closes
func (t *WebSocketTransport) Start(ctx context.Context) error {
	t.started.Store(true)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer t.closeStop()
		for {
			msgType, data, err := t.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || t.stopped() {
					t.logger.Debug("Connection closed", logging.String("peer", t.endpoint))
					return nil
				}
				return mcperrors.TransportError("websocket", "read", err)
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			t.dispatch(gctx, data, t.Send)
		}
	})

	g.Go(func() error {
		for {
			select {
			case data := <-t.outgoingMessages:
				if err := t.write(websocket.TextMessage, data); err != nil {
					t.closeStop()
					return mcperrors.TransportError("websocket", "write", err)
				}
			case <-t.stopCh:
				t.drainOutgoing()
				_ = t.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return t.conn.Close()
			case <-gctx.Done():
				t.closeStop()
			}
		}
	})

	err := g.Wait()
	t.Cleanup()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *WebSocketTransport) write(msgType int, data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(msgType, data)
}

func (t *WebSocketTransport) drainOutgoing() {
	for {
		select {
		case data := <-t.outgoingMessages:
			if err := t.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *WebSocketTransport) closeStop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *WebSocketTransport) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Stop waits for running handlers, then closes the connection
func (t *WebSocketTransport) Stop(ctx context.Context) error {
	t.waitInflight(ctx)
	t.closeStop()
	t.Cleanup()
	if !t.started.Load() {
		return t.conn.Close()
	}
	return nil
}

// Send queues one message for the writer loop
func (t *WebSocketTransport) Send(data []byte) error {
	select {
	case <-t.stopCh:
		return mcperrors.ConnectionClosed("websocket")
	default:
	}

	select {
	case t.outgoingMessages <- data:
		return nil
	case <-t.stopCh:
		return mcperrors.ConnectionClosed("websocket")
	}
}

// SendRequest sends a request and waits for its response
func (t *WebSocketTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return t.call(ctx, method, params, t.Send)
}

// SendNotification sends a notification
func (t *WebSocketTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return t.notify(method, params, t.Send)
}

// ConnectionHandler configures a newly accepted connection before it starts
// reading. Returning an error rejects the connection.
type ConnectionHandler func(ctx context.Context, t *WebSocketTransport) error

// WebSocketHandler upgrades HTTP requests and serves each connection on its
// own WebSocketTransport.
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	onConnect ConnectionHandler
	opts      []Option
	logger    logging.Logger
	wg        sync.WaitGroup
}

// NewWebSocketHandler creates an http.Handler for websocket MCP connections.
// logger is also handed to every connection's transport.
func NewWebSocketHandler(logger logging.Logger, onConnect ConnectionHandler, opts ...Option) *WebSocketHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		onConnect: onConnect,
		opts:      append([]Option{WithLogger(logger)}, opts...),
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logging.ErrorField(err))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	t := NewWebSocketTransport(conn, h.opts...)
	h.logger.Info("Client connected", logging.String("peer", t.Endpoint()))

	ctx := context.WithoutCancel(r.Context())
	if h.onConnect != nil {
		if err := h.onConnect(ctx, t); err != nil {
			h.logger.Warn("Connection rejected", logging.ErrorField(err))
			conn.Close()
			return
		}
	}

	if err := t.Start(ctx); err != nil {
		h.logger.Warn("Connection ended with error", logging.ErrorField(err))
	}
	h.logger.Info("Client disconnected", logging.String("peer", t.Endpoint()))
}

// Wait blocks until every served connection has finished
func (h *WebSocketHandler) Wait() {
	h.wg.Wait()
}
