package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// Transport defines the interface shared by every MCP carrier
type Transport interface {
	// Start reads messages until the peer goes away, Stop is called or ctx
	// is cancelled. It blocks.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// SendRequest sends a request and waits for the matching response. A
	// JSON-RPC error response is returned as an MCPError.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendNotification(ctx context.Context, method string, params interface{}) error

	RegisterRequestHandler(method string, handler RequestHandler)
	RegisterNotificationHandler(method string, handler NotificationHandler)
	// SetFallbackHandler receives requests for methods with no registered handler
	SetFallbackHandler(handler FallbackHandler)

	// Done is closed once the transport has stopped reading
	Done() <-chan struct{}
}

// RequestHandler handles incoming requests
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles incoming notifications
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// FallbackHandler handles requests for unregistered methods
type FallbackHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

// IDGenerator returns the id for the next outgoing request
type IDGenerator func() interface{}

// Option configures a BaseTransport
type Option func(*BaseTransport)

// WithLogger sets the transport logger
func WithLogger(logger logging.Logger) Option {
	return func(b *BaseTransport) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithIDGenerator replaces the default "req_N" request ids
func WithIDGenerator(gen IDGenerator) Option {
	return func(b *BaseTransport) {
		if gen != nil {
			b.idGenerator = gen
		}
	}
}

// WithRequestIDPrefix changes the prefix of generated request ids
func WithRequestIDPrefix(prefix string) Option {
	return func(b *BaseTransport) {
		b.requestIDPrefix = prefix
	}
}

type sendFunc func(data []byte) error

// BaseTransport implements the carrier-independent half of a transport
type BaseTransport struct {
	sync.RWMutex
	name                 string
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	fallback             FallbackHandler
	pendingRequests      map[string]chan *protocol.Response
	nextID               int64
	requestIDPrefix      string
	idGenerator          IDGenerator
	logger               logging.Logger

	inflight sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
}

func newBaseTransport(name string, opts ...Option) *BaseTransport {
	b := &BaseTransport{
		name:                 name,
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		pendingRequests:      make(map[string]chan *protocol.Response),
		requestIDPrefix:      "req",
		logger:               logging.NewNop(),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithFields(logging.String("transport", name))
	return b
}

// RegisterRequestHandler registers a handler for incoming requests
func (t *BaseTransport) RegisterRequestHandler(method string, handler RequestHandler) {
	t.Lock()
	defer t.Unlock()
	t.requestHandlers[method] = handler
}

// RegisterNotificationHandler registers a handler for incoming notifications
func (t *BaseTransport) RegisterNotificationHandler(method string, handler NotificationHandler) {
	t.Lock()
	defer t.Unlock()
	t.notificationHandlers[method] = handler
}

// SetFallbackHandler sets the handler for unregistered request methods
func (t *BaseTransport) SetFallbackHandler(handler FallbackHandler) {
	t.Lock()
	defer t.Unlock()
	t.fallback = handler
}

// Done is closed when the transport stops
func (t *BaseTransport) Done() <-chan struct{} {
	return t.done
}

// GenerateID returns the id for the next outgoing request
func (t *BaseTransport) GenerateID() interface{} {
	if t.idGenerator != nil {
		return t.idGenerator()
	}
	id := atomic.AddInt64(&t.nextID, 1)
	return fmt.Sprintf("%s_%d", t.requestIDPrefix, id)
}

// HandleRequest runs the handler for request and builds the response. It
// never returns nil; handler errors and panics become error responses.
func (t *BaseTransport) HandleRequest(ctx context.Context, request *protocol.Request) (resp *protocol.Response) {
	t.RLock()
	handler, ok := t.requestHandlers[request.Method]
	fallback := t.fallback
	t.RUnlock()

	if !ok && fallback == nil {
		return mcperrors.ToErrorResponse(mcperrors.MethodNotFound(request.Method), request.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic in request handler",
				logging.String("method", request.Method),
				logging.Any("panic", r))
			resp = mcperrors.ToErrorResponse(
				mcperrors.InternalError(fmt.Errorf("panic while processing %s: %v", request.Method, r)),
				request.ID)
		}
	}()

	ctx = logging.ContextWithRequestID(ctx, protocol.IDKey(request.ID))

	var (
		result interface{}
		err    error
	)
	if ok {
		result, err = handler(ctx, request.Params)
	} else {
		result, err = fallback(ctx, request.Method, request.Params)
	}
	if err != nil {
		return mcperrors.ToErrorResponse(err, request.ID)
	}

	resp, err = protocol.NewResponse(request.ID, result)
	if err != nil {
		return mcperrors.ToErrorResponse(mcperrors.InternalError(err), request.ID)
	}
	return resp
}

// HandleNotification runs the handler for notification. Notifications with
// no handler are dropped.
func (t *BaseTransport) HandleNotification(ctx context.Context, notification *protocol.Notification) error {
	t.RLock()
	handler, ok := t.notificationHandlers[notification.Method]
	t.RUnlock()

	if !ok {
		t.logger.Debug("Ignoring notification", logging.String("method", notification.Method))
		return nil
	}
	return handler(ctx, notification.Params)
}

// HandleResponse delivers response to the caller waiting for it
func (t *BaseTransport) HandleResponse(response *protocol.Response) {
	key := protocol.IDKey(response.ID)

	t.Lock()
	ch, ok := t.pendingRequests[key]
	if ok {
		delete(t.pendingRequests, key)
	}
	t.Unlock()

	if !ok {
		t.logger.Debug("Dropping response for unknown request", logging.String("request_id", key))
		return
	}
	ch <- response
}

// dispatch decodes one inbound message and routes it. Requests run on their
// own goroutine so a slow tool never blocks responses or cancellations.
func (t *BaseTransport) dispatch(ctx context.Context, data []byte, send sendFunc) {
	switch protocol.Classify(data) {
	case protocol.KindRequest:
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.logger.Warn("Failed to decode request", logging.ErrorField(err))
			return
		}
		t.inflight.Add(1)
		go func() {
			defer t.inflight.Done()
			resp := t.HandleRequest(ctx, &req)
			if resp.Error != nil && resp.Error.Code == protocol.RequestCancelled {
				t.logger.Debug("Dropping response to cancelled request",
					logging.String("method", req.Method), logging.String("request_id", protocol.IDKey(req.ID)))
				return
			}
			out, err := json.Marshal(resp)
			if err != nil {
				t.logger.Error("Failed to encode response", logging.ErrorField(err))
				return
			}
			if err := send(out); err != nil {
				t.logger.Debug("Failed to send response",
					logging.String("method", req.Method), logging.ErrorField(err))
			}
		}()

	case protocol.KindNotification:
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.logger.Warn("Failed to decode notification", logging.ErrorField(err))
			return
		}
		if err := t.HandleNotification(ctx, &n); err != nil {
			t.logger.Warn("Notification handler failed",
				logging.String("method", n.Method), logging.ErrorField(err))
		}

	case protocol.KindResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Warn("Failed to decode response", logging.ErrorField(err))
			return
		}
		t.HandleResponse(&resp)

	default:
		code, msg := protocol.InvalidRequest, "Invalid Request"
		if !json.Valid(data) {
			code, msg = protocol.ParseError, "Parse error"
		}
		t.logger.Warn("Received invalid message", logging.String("reason", msg))
		out, err := json.Marshal(protocol.NewErrorResponse(nil, code, msg, nil))
		if err == nil {
			_ = send(out)
		}
	}
}

// call sends a request through send and waits for its response. The pending
// slot is registered before the write so a fast response cannot be lost.
func (t *BaseTransport) call(ctx context.Context, method string, params interface{}, send sendFunc) (json.RawMessage, error) {
	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.InvalidParams(method, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.InternalError(err)
	}

	key := protocol.IDKey(id)
	ch := make(chan *protocol.Response, 1)

	t.Lock()
	if t.closed {
		t.Unlock()
		return nil, mcperrors.ConnectionClosed(t.name)
	}
	t.pendingRequests[key] = ch
	t.Unlock()

	if err := send(data); err != nil {
		t.removePending(key)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, mcperrors.ConnectionClosed(t.name)
		}
		if resp.Error != nil {
			return nil, mcperrors.FromRPCError(resp.Error)
		}
		return resp.Result, nil

	case <-ctx.Done():
		t.removePending(key)
		t.notifyCancelled(id, ctx.Err(), send)
		return nil, ctx.Err()
	}
}

func (t *BaseTransport) notifyCancelled(id interface{}, cause error, send sendFunc) {
	n, err := protocol.NewNotification(protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    cause.Error(),
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := send(data); err != nil {
		t.logger.Debug("Failed to send cancellation", logging.ErrorField(err))
	}
}

func (t *BaseTransport) notify(method string, params interface{}, send sendFunc) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return mcperrors.InternalError(err)
	}
	return send(data)
}

func (t *BaseTransport) removePending(key string) {
	t.Lock()
	delete(t.pendingRequests, key)
	t.Unlock()
}

// PendingCount reports how many requests are waiting for a response
func (t *BaseTransport) PendingCount() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.pendingRequests)
}

// Cleanup fails every pending request and marks the transport closed
func (t *BaseTransport) Cleanup() {
	t.Lock()
	t.closed = true
	for key, ch := range t.pendingRequests {
		close(ch)
		delete(t.pendingRequests, key)
	}
	t.Unlock()

	t.doneOnce.Do(func() { close(t.done) })
}

// isClosed reports whether Cleanup has run
func (t *BaseTransport) isClosed() bool {
	t.RLock()
	defer t.RUnlock()
	return t.closed
}

// waitInflight blocks until running request handlers finish or ctx ends
func (t *BaseTransport) waitInflight(ctx context.Context) {
	finished := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}
}
