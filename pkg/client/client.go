// Package client provides the client-side implementation of the MCP protocol,
// allowing the exercise clients to connect to MCP servers and call their tools.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/transport"
)

// DefaultTimeout bounds every request that has no deadline of its own
const DefaultTimeout = 10 * time.Second

// Client is an MCP client session over one transport
type Client struct {
	transport  transport.Transport
	name       string
	version    string
	logger     logging.Logger
	timeout    time.Duration
	middleware []transport.Middleware

	mu           sync.RWMutex
	initialized  bool
	serverInfo   *protocol.Implementation
	capabilities protocol.ServerCapabilities
	instructions string
	toolsChanged []func()

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan error
}

// Option configures a Client
type Option func(*Client)

// WithName sets the client name sent in initialize
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithVersion sets the client version sent in initialize
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithLogger sets the client logger. Transports created by the Connect
// helpers share it.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout bounds requests whose context has no deadline. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMiddleware wraps the transport; the first middleware is outermost
func WithMiddleware(middleware ...transport.Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

func newClient(options ...Option) *Client {
	c := &Client{
		name:    "introducing-mcp-client",
		version: "0.1.0",
		logger:  logging.NewNop(),
		timeout: DefaultTimeout,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// New creates a client on t. Start must be called before any request.
func New(t transport.Transport, options ...Option) *Client {
	c := newClient(options...)
	c.attach(t)
	return c
}

func (c *Client) attach(t transport.Transport) {
	if len(c.middleware) > 0 {
		t = transport.ChainMiddleware(c.middleware...).Wrap(t)
	}
	c.transport = t

	t.RegisterNotificationHandler(protocol.MethodToolsListChanged, c.handleToolsChanged)
	t.RegisterRequestHandler(protocol.MethodPing, c.handlePing)
}

// Start runs the transport's read loop in the background until Close
func (c *Client) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.runDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runDone = make(chan error, 1)
	go func() {
		err := c.transport.Start(ctx)
		if err != nil {
			c.logger.Debug("Transport stopped", logging.ErrorField(err))
		}
		c.runDone <- err
	}()
}

// Initialize performs the initialize handshake and sends
// notifications/initialized. Calling it again is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	if initialized {
		return nil
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	params := &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: c.name, Version: c.version},
	}
	raw, err := c.transport.SendRequest(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return err
	}

	var result protocol.InitializeResult
	if err := parseResult(raw, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &result.ServerInfo
	c.capabilities = result.Capabilities
	c.instructions = result.Instructions
	c.initialized = true
	c.mu.Unlock()

	if err := c.transport.SendNotification(ctx, protocol.MethodInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.logger.Info("Connected to server",
		logging.String("server", result.ServerInfo.Name),
		logging.String("serverVersion", result.ServerInfo.Version),
		logging.String("protocolVersion", result.ProtocolVersion))
	return nil
}

// ServerInfo returns the server's name and version, or nil before Initialize
func (c *Client) ServerInfo() *protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Capabilities returns what the server announced in initialize
func (c *Client) Capabilities() protocol.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// Instructions returns the server's usage instructions, if any
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// ListTools retrieves the list of tools from the server
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	raw, err := c.transport.SendRequest(ctx, protocol.MethodListTools, &protocol.ListToolsParams{})
	if err != nil {
		return nil, err
	}

	var result protocol.ListToolsResult
	if err := parseResult(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse list tools result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server. A tool that fails under the
// server's default policy comes back as a result with IsError set; servers
// reporting tool failures as JSON-RPC errors make CallTool return an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := c.transport.SendRequest(ctx, protocol.MethodCallTool, &protocol.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var result protocol.CallToolResult
	if err := parseResult(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse call tool result: %w", err)
	}
	return &result, nil
}

// Ping checks if the server is responding
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	_, err := c.transport.SendRequest(ctx, protocol.MethodPing, nil)
	return err
}

// OnToolsChanged registers fn to run on notifications/tools/list_changed
func (c *Client) OnToolsChanged(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsChanged = append(c.toolsChanged, fn)
}

// Close stops the transport and waits for its read loop to end
func (c *Client) Close(ctx context.Context) error {
	err := c.transport.Stop(ctx)

	c.runMu.Lock()
	cancel, done := c.runCancel, c.runDone
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) handleToolsChanged(ctx context.Context, params json.RawMessage) error {
	c.mu.RLock()
	callbacks := append([]func(){}, c.toolsChanged...)
	c.mu.RUnlock()

	c.logger.Info("Server tool list changed")
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

func (c *Client) handlePing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &protocol.PingResult{}, nil
}

func parseResult(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return mcperrors.InternalError(fmt.Errorf("empty result"))
	}
	return json.Unmarshal(raw, target)
}
