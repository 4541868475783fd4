package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/transport"
)

// DefaultVersion is announced when WithVersion is not used
const DefaultVersion = "0.1.0"

// Server describes an MCP server. Every connection served gets its own
// session with its own initialization state.
type Server struct {
	name         string
	version      string
	instructions string

	tools ToolsProvider

	logger     logging.Logger
	metrics    observability.MetricsProvider
	tracing    *observability.TracingProvider
	middleware []transport.Middleware

	// Tool error policy: false reports tool failures as isError results,
	// true as JSON-RPC errors
	toolErrorsAsRPC bool

	listChangedOnInitialized bool

	sessionsMu sync.Mutex
	sessions   map[*session]struct{}
}

// Option defines options for creating a server
type Option func(*Server)

// WithName sets the server name
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithInstructions sets the instructions returned from initialize
func WithInstructions(instructions string) Option {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithTools sets the tools provider
func WithTools(provider ToolsProvider) Option {
	return func(s *Server) {
		s.tools = provider
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request and tool call metrics
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(s *Server) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer wraps requests and tool calls in spans
func WithTracer(tracing *observability.TracingProvider) Option {
	return func(s *Server) {
		if tracing != nil {
			s.tracing = tracing
		}
	}
}

// WithMiddleware wraps every session's transport
func WithMiddleware(middleware ...transport.Middleware) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// WithToolErrorsAsRPCErrors reports failing and unknown tools as JSON-RPC
// errors instead of isError results
func WithToolErrorsAsRPCErrors() Option {
	return func(s *Server) {
		s.toolErrorsAsRPC = true
	}
}

// WithListChangedOnInitialized sends notifications/tools/list_changed once
// the client has sent notifications/initialized
func WithListChangedOnInitialized() Option {
	return func(s *Server) {
		s.listChangedOnInitialized = true
	}
}

// New creates a new MCP server
func New(options ...Option) *Server {
	s := &Server{
		name:     "MCP Server",
		version:  DefaultVersion,
		tools:    emptyTools{},
		logger:   logging.NewNop(),
		metrics:  observability.NopMetrics{},
		tracing:  observability.NewNoopTracing(),
		sessions: make(map[*session]struct{}),
	}
	for _, option := range options {
		option(s)
	}
	s.tools = &instrumentedTools{next: s.tools, metrics: s.metrics, tracing: s.tracing}
	return s
}

// Name returns the announced server name
func (s *Server) Name() string { return s.name }

// LogStartup logs the server banner and every registered tool
func (s *Server) LogStartup(ctx context.Context) {
	s.logger.Info("Starting MCP server", logging.String("name", s.name))

	tools, err := s.tools.ListTools(ctx)
	if err != nil {
		s.logger.Warn("Could not list tools", logging.ErrorField(err))
		return
	}
	s.logger.Info("Server has tools registered", logging.Int("count", len(tools)))
	for _, t := range tools {
		s.logger.Info("  - "+t.Name+": "+t.Description, logging.String("tool", t.Name))
	}
}

// Serve runs a session on t until the peer disconnects or ctx ends
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	sess := s.attach(t)
	defer s.detach(sess)

	err := sess.transport.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeStdio serves a single session over newline-delimited JSON on r and w
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	s.LogStartup(ctx)
	s.logger.Info("Starting server with stdio transport")

	t := transport.NewStdioTransport(r, w, transport.WithLogger(s.logger))
	return s.Serve(ctx, t)
}

// WebSocketHandler returns an http.Handler serving one session per websocket
// connection
func (s *Server) WebSocketHandler() *transport.WebSocketHandler {
	return transport.NewWebSocketHandler(s.logger, func(ctx context.Context, t *transport.WebSocketTransport) error {
		sess := s.attach(t)
		go func() {
			<-t.Done()
			s.detach(sess)
		}()
		return nil
	})
}

// ServeWebSocket listens on addr and serves websocket sessions at / until ctx
// ends, then stops every open session
func (s *Server) ServeWebSocket(ctx context.Context, addr string) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return mcperrors.ConnectionFailed("websocket", addr, err)
	}
	return s.ServeWebSocketListener(ctx, ln)
}

// ServeWebSocketListener is ServeWebSocket on an existing listener
func (s *Server) ServeWebSocketListener(ctx context.Context, ln net.Listener) error {
	s.LogStartup(ctx)

	handler := s.WebSocketHandler()
	mux := http.NewServeMux()
	mux.Handle("/", logging.HTTPMiddleware(s.logger)(handler))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("Starting server with websocket transport", logging.String("url", "ws://"+ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.stopSessions()
		handler.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.stopSessions()
	handler.Wait()
	s.logger.Info("Server stopped")
	return err
}

func (s *Server) attach(t transport.Transport) *session {
	for i := len(s.middleware) - 1; i >= 0; i-- {
		t = s.middleware[i].Wrap(t)
	}

	sess := newSession(s, t)
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
	s.metrics.RecordActiveConnections(context.Background(), 1)
	return sess
}

func (s *Server) detach(sess *session) {
	s.sessionsMu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()

	if ok {
		sess.cancelAll()
		s.metrics.RecordActiveConnections(context.Background(), -1)
	}
}

func (s *Server) stopSessions() {
	s.sessionsMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessionsMu.Unlock()

	for _, sess := range open {
		sess.cancelAll()
		if err := sess.transport.Stop(context.Background()); err != nil {
			s.logger.Debug("Error stopping session", logging.ErrorField(err))
		}
	}
}

// SessionCount returns the number of connected sessions
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// NotifyToolsChanged sends notifications/tools/list_changed to every
// initialized session
func (s *Server) NotifyToolsChanged(ctx context.Context) error {
	s.sessionsMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessionsMu.Unlock()

	var errs []error
	for _, sess := range open {
		if sess.isInitialized() {
			errs = append(errs, sess.notifyToolsChanged(ctx))
		}
	}
	return errors.Join(errs...)
}

// session is the per-connection protocol state
type session struct {
	server    *Server
	transport transport.Transport
	logger    logging.Logger

	mu          sync.RWMutex
	initialized bool
	clientInfo  protocol.Implementation

	activeMu sync.Mutex
	active   map[string]*activeCall
	// cancellations that arrived before their request started
	early      map[string]string
	earlyOrder []string
}

// maxEarlyCancels bounds the cancellations remembered for requests that have
// not started yet
const maxEarlyCancels = 64

type activeCall struct {
	cancel    context.CancelFunc
	cancelled bool
	reason    string
}

func newSession(s *Server, t transport.Transport) *session {
	sess := &session{
		server:    s,
		transport: t,
		logger:    s.logger,
		active:    make(map[string]*activeCall),
		early:     make(map[string]string),
	}

	t.RegisterRequestHandler(protocol.MethodInitialize, sess.handleInitialize)
	t.RegisterNotificationHandler(protocol.MethodInitialized, sess.handleInitialized)
	t.RegisterNotificationHandler(protocol.MethodCancelled, sess.handleCancelled)
	t.RegisterRequestHandler(protocol.MethodPing, sess.gated(sess.handlePing))
	t.RegisterRequestHandler(protocol.MethodListTools, sess.gated(sess.handleListTools))
	t.RegisterRequestHandler(protocol.MethodCallTool, sess.gated(sess.tracked(sess.handleCallTool)))
	t.SetFallbackHandler(sess.handleUnknown)
	return sess
}

func (s *session) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// ClientInfo returns the name and version the client announced
func (s *session) ClientInfo() protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// gated rejects requests that arrive before notifications/initialized
func (s *session) gated(h transport.RequestHandler) transport.RequestHandler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		if !s.isInitialized() {
			s.logger.Warn("Received request before initialization")
			return nil, mcperrors.ServerNotInitialized()
		}
		return h(ctx, params)
	}
}

// tracked makes a request cancellable through notifications/cancelled. A
// cancelled request answers with RequestCancelled, which the transport does
// not send.
func (s *session) tracked(h transport.RequestHandler) transport.RequestHandler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		id := logging.RequestIDFromContext(ctx)
		if id == "" {
			return h(ctx, params)
		}

		ctx, cancel := context.WithCancel(ctx)
		call := &activeCall{cancel: cancel}
		s.activeMu.Lock()
		if reason, ok := s.early[id]; ok {
			s.forgetEarly(id)
			s.activeMu.Unlock()
			cancel()
			return nil, mcperrors.RequestCancelled(id, reason)
		}
		s.active[id] = call
		s.activeMu.Unlock()

		defer func() {
			s.activeMu.Lock()
			delete(s.active, id)
			s.activeMu.Unlock()
			cancel()
		}()

		result, err := h(ctx, params)

		s.activeMu.Lock()
		cancelled, reason := call.cancelled, call.reason
		s.activeMu.Unlock()
		if cancelled {
			return nil, mcperrors.RequestCancelled(id, reason)
		}
		return result, err
	}
}

// cancelRequest cancels the running request id. When id is not running yet
// the cancellation is remembered for it.
func (s *session) cancelRequest(id, reason string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if call, ok := s.active[id]; ok {
		call.cancelled = true
		call.reason = reason
		call.cancel()
		delete(s.active, id)
		return true
	}

	if _, ok := s.early[id]; !ok {
		if len(s.earlyOrder) >= maxEarlyCancels {
			s.forgetEarly(s.earlyOrder[0])
		}
		s.earlyOrder = append(s.earlyOrder, id)
	}
	s.early[id] = reason
	return false
}

// forgetEarly must be called with activeMu held
func (s *session) forgetEarly(id string) {
	delete(s.early, id)
	for i, v := range s.earlyOrder {
		if v == id {
			s.earlyOrder = append(s.earlyOrder[:i], s.earlyOrder[i+1:]...)
			break
		}
	}
}

func (s *session) cancelAll() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for id, call := range s.active {
		call.cancel()
		delete(s.active, id)
	}
}

func decodeParams(method string, params json.RawMessage, target interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	return nil
}

func (s *session) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var init protocol.InitializeParams
	if err := decodeParams(protocol.MethodInitialize, params, &init); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.clientInfo = init.ClientInfo
	s.mu.Unlock()

	s.logger.Info("Processing initialize request",
		logging.String("client", init.ClientInfo.Name),
		logging.String("clientVersion", init.ClientInfo.Version),
		logging.String("protocolVersion", init.ProtocolVersion))

	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		},
		ServerInfo:   protocol.Implementation{Name: s.server.name, Version: s.server.version},
		Instructions: s.server.instructions,
	}, nil
}

func (s *session) handleInitialized(ctx context.Context, params json.RawMessage) error {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("Received initialized notification from client")

	if s.server.listChangedOnInitialized {
		return s.notifyToolsChanged(ctx)
	}
	return nil
}

func (s *session) notifyToolsChanged(ctx context.Context) error {
	if err := s.transport.SendNotification(ctx, protocol.MethodToolsListChanged, protocol.ToolsListChangedParams{}); err != nil {
		s.logger.Warn("Failed to send tools/list_changed", logging.ErrorField(err))
		return err
	}
	s.logger.Info("Sent tools/list_changed notification")
	return nil
}

func (s *session) handleCancelled(ctx context.Context, params json.RawMessage) error {
	var p protocol.CancelledParams
	if err := decodeParams(protocol.MethodCancelled, params, &p); err != nil {
		return err
	}
	id := protocol.IDKey(p.RequestID)
	if s.cancelRequest(id, p.Reason) {
		s.logger.Info("Cancelled request", logging.String("requestId", id), logging.String("reason", p.Reason))
	} else {
		s.logger.Debug("Cancellation for request not running, remembered", logging.String("requestId", id))
	}
	return nil
}

func (s *session) handleUnknown(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	if !s.isInitialized() {
		s.logger.Warn("Received request before initialization", logging.String("method", method))
		return nil, mcperrors.ServerNotInitialized()
	}
	s.logger.Warn("Unknown method requested", logging.String("method", method))
	return nil, mcperrors.MethodNotFound(method)
}

func (s *session) handlePing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &protocol.PingResult{}, nil
}

func (s *session) handleListTools(ctx context.Context, params json.RawMessage) (interface{}, error) {
	tools, err := s.server.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []protocol.Tool{}
	}
	s.logger.Info("Processing tools/list request", logging.Int("count", len(tools)))
	return &protocol.ListToolsResult{Tools: tools}, nil
}

func (s *session) handleCallTool(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var call protocol.CallToolParams
	if err := decodeParams(protocol.MethodCallTool, params, &call); err != nil {
		return nil, err
	}
	if call.Name == "" {
		return nil, mcperrors.InvalidParams(protocol.MethodCallTool, errors.New("missing tool name"))
	}

	l := s.logger.WithFields(logging.String("tool", call.Name))
	l.Info("Processing tools/call request", logging.Any("arguments", call.Arguments))

	text, err := s.server.tools.CallTool(ctx, call.Name, call.Arguments)
	if err == nil {
		return protocol.NewTextResult(text), nil
	}
	l.WithError(err).Warn("Tool call failed")
	return s.toolFailure(call.Name, err)
}

// toolFailure applies the server's tool error policy. Argument validation
// failures are always JSON-RPC errors.
func (s *session) toolFailure(name string, err error) (interface{}, error) {
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		mcpErr = mcperrors.ToolExecutionFailed(name, err.Error())
	}

	switch {
	case mcpErr.Code() == mcperrors.CodeInvalidParams:
		return nil, mcpErr
	case s.server.toolErrorsAsRPC:
		return nil, mcpErr
	case mcpErr.Code() == mcperrors.CodeMethodNotFound:
		return protocol.NewErrorResult("Unknown tool: " + name), nil
	default:
		return protocol.NewErrorResult("Error executing tool " + name + ": " + mcpErr.Error()), nil
	}
}
