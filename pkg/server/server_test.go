package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/tools"
	"github.com/nowucca/introducing-mcp/pkg/transport"
	"github.com/nowucca/introducing-mcp/pkg/utils"
)

func testTools() *tools.Registry {
	return tools.NewRegistry(tools.NewGetTime(), tools.NewGetWeather(), tools.NewGetError())
}

// connect serves srv on one end of a pipe and returns a started raw client
// transport on the other
func connect(t testing.TB, srv *Server, opts ...transport.Option) transport.Transport {
	t.Helper()
	sR, cW := io.Pipe()
	cR, sW := io.Pipe()
	serverSide := transport.NewStdioTransport(sR, sW)
	clientSide := transport.NewStdioTransport(cR, cW, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, serverSide) }()
	go func() { _ = clientSide.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = clientSide.Stop(stopCtx)
		cW.Close()
		sW.Close()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return clientSide
}

func timeout(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func initialize(t testing.TB, ctx context.Context, c transport.Transport) protocol.InitializeResult {
	t.Helper()
	raw, err := c.SendRequest(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "test-client", Version: "1.0"},
	})
	require.NoError(t, err)
	require.NoError(t, c.SendNotification(ctx, protocol.MethodInitialized, nil))

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func callTool(t testing.TB, ctx context.Context, c transport.Transport, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	t.Helper()
	raw, err := c.SendRequest(ctx, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return &result, nil
}

func TestInitialize(t *testing.T) {
	srv := New(WithName("MCP Time Tool Server"), WithTools(testTools()))
	c := connect(t, srv)
	ctx := timeout(t)

	result := initialize(t, ctx, c)
	assert.Equal(t, protocol.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "MCP Time Tool Server", result.ServerInfo.Name)
	assert.Equal(t, DefaultVersion, result.ServerInfo.Version)
	require.NotNil(t, result.Capabilities.Tools)
	assert.True(t, result.Capabilities.Tools.ListChanged)
}

func TestRequestsBeforeInitializedAreRejected(t *testing.T) {
	c := connect(t, New(WithTools(testTools())))
	ctx := timeout(t)

	for _, method := range []string{protocol.MethodListTools, protocol.MethodPing, "resources/list"} {
		_, err := c.SendRequest(ctx, method, nil)
		require.Error(t, err, method)
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeServerNotInitialized), method)
		assert.Equal(t, "Server not initialized", err.Error())
	}

	// initialize alone does not open the gate
	_, err := c.SendRequest(ctx, protocol.MethodInitialize, protocol.InitializeParams{})
	require.NoError(t, err)
	_, err = c.SendRequest(ctx, protocol.MethodListTools, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeServerNotInitialized))

	require.NoError(t, c.SendNotification(ctx, protocol.MethodInitialized, nil))
	_, err = c.SendRequest(ctx, protocol.MethodListTools, nil)
	assert.NoError(t, err)
}

func TestPingAndUnknownMethod(t *testing.T) {
	c := connect(t, New())
	ctx := timeout(t)
	initialize(t, ctx, c)

	raw, err := c.SendRequest(ctx, protocol.MethodPing, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	_, err = c.SendRequest(ctx, "resources/list", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeMethodNotFound))
	assert.Equal(t, "Method not found: resources/list", err.Error())
}

func TestListToolsInRegistrationOrder(t *testing.T) {
	c := connect(t, New(WithTools(testTools())))
	ctx := timeout(t)
	initialize(t, ctx, c)

	raw, err := c.SendRequest(ctx, protocol.MethodListTools, nil)
	require.NoError(t, err)

	var result protocol.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 3)
	assert.Equal(t, tools.GetTimeName, result.Tools[0].Name)
	assert.Equal(t, tools.GetWeatherName, result.Tools[1].Name)
	assert.Equal(t, tools.GetErrorName, result.Tools[2].Name)
	assert.Equal(t, "Get weather information for a city", result.Tools[1].Description)
	assert.Contains(t, string(result.Tools[1].InputSchema), `"city"`)
}

func TestListToolsWithoutProvider(t *testing.T) {
	c := connect(t, New())
	ctx := timeout(t)
	initialize(t, ctx, c)

	raw, err := c.SendRequest(ctx, protocol.MethodListTools, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(raw))
}

func TestCallToolResultPolicy(t *testing.T) {
	c := connect(t, New(WithTools(testTools())))
	ctx := timeout(t)
	initialize(t, ctx, c)

	result, err := callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{"city": "Tokyo"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "Sunny in Tokyo", result.Text())

	result, err = callTool(t, ctx, c, tools.GetErrorName, nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Error executing tool get_error: Intentional error triggered: Default error message", result.Text())

	result, err = callTool(t, ctx, c, "non_existent_tool", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Unknown tool: non_existent_tool", result.Text())

	_, err = callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.Equal(t, "Missing required parameter: city", err.Error())

	_, err = callTool(t, ctx, c, tools.GetTimeName, map[string]interface{}{"timezone": "Mars/Base"})
	require.Error(t, err)
	assert.Equal(t, "Invalid timezone: Mars/Base", err.Error())

	_, err = callTool(t, ctx, c, tools.GetTimeName, map[string]interface{}{"timezone": " Asia/Tokyo"})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.Equal(t, "Invalid timezone:  Asia/Tokyo", err.Error())

	_, err = callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{"city": ""})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
	assert.Equal(t, "Missing required parameter: city", err.Error())
}

func TestCallToolRPCErrorPolicy(t *testing.T) {
	c := connect(t, New(WithTools(testTools()), WithToolErrorsAsRPCErrors()))
	ctx := timeout(t)
	initialize(t, ctx, c)

	_, err := callTool(t, ctx, c, tools.GetErrorName, map[string]interface{}{"message": "This is a custom error message"})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolExecution))
	assert.Equal(t, "Intentional error triggered: This is a custom error message", err.Error())

	_, err = callTool(t, ctx, c, "non_existent_tool", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeMethodNotFound))
	assert.Equal(t, "Tool not found: non_existent_tool", err.Error())

	result, err := callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny in Paris", result.Text())
}

func TestCallToolInvalidParams(t *testing.T) {
	c := connect(t, New(WithTools(testTools())))
	ctx := timeout(t)
	initialize(t, ctx, c)

	_, err := c.SendRequest(ctx, protocol.MethodCallTool, json.RawMessage(`{"name": 5}`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))

	_, err = c.SendRequest(ctx, protocol.MethodCallTool, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
}

func TestListChangedOnInitialized(t *testing.T) {
	srv := New(WithTools(testTools()), WithListChangedOnInitialized())
	c := connect(t, srv)
	ctx := timeout(t)

	changed := make(chan struct{}, 1)
	c.RegisterNotificationHandler(protocol.MethodToolsListChanged, func(ctx context.Context, params json.RawMessage) error {
		changed <- struct{}{}
		return nil
	})
	initialize(t, ctx, c)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("tools/list_changed not received")
	}

	require.NoError(t, srv.NotifyToolsChanged(ctx))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("second tools/list_changed not received")
	}
}

type blockingTools struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingTools) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	return []protocol.Tool{{Name: "slow", InputSchema: json.RawMessage(`{"type":"object"}`)}}, nil
}

func (b *blockingTools) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return "", ctx.Err()
}

func TestCancelledNotificationCancelsToolCall(t *testing.T) {
	bt := &blockingTools{started: make(chan struct{}), cancelled: make(chan struct{})}
	c := connect(t, New(WithTools(bt)))
	ctx := timeout(t)
	initialize(t, ctx, c)

	callCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(callCtx, protocol.MethodCallTool, protocol.CallToolParams{Name: "slow"})
		errCh <- err
	}()

	select {
	case <-bt.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool not started")
	}
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-bt.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not cancel the tool call")
	}
}

func TestCancellationBeforeRequestStarts(t *testing.T) {
	var n int
	ids := transport.WithIDGenerator(func() interface{} {
		n++
		return fmt.Sprintf("call-%d", n)
	})
	c := connect(t, New(WithTools(testTools())), ids)
	ctx := timeout(t)
	initialize(t, ctx, c)

	// initialize used call-1
	require.NoError(t, c.SendNotification(ctx, protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: "call-2",
		Reason:    "user changed their mind",
	}))

	callCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err := callTool(t, callCtx, c, tools.GetWeatherName, map[string]interface{}{"city": "Tokyo"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	result, err := callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{"city": "Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "Sunny in Tokyo", result.Text())
}

func TestWebSocketSessions(t *testing.T) {
	srv := New(
		WithName("MCP Error Handling Server"),
		WithTools(tools.NewRegistry(tools.NewGetError())),
		WithToolErrorsAsRPCErrors(),
		WithListChangedOnInitialized(),
	)
	httpSrv := httptest.NewServer(srv.WebSocketHandler())
	defer httpSrv.Close()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	ctx := timeout(t)

	dial := func() *transport.WebSocketTransport {
		c, err := transport.DialWebSocket(ctx, url)
		require.NoError(t, err)
		go func() { _ = c.Start(context.Background()) }()
		return c
	}

	first := dial()
	changed := make(chan struct{}, 1)
	first.RegisterNotificationHandler(protocol.MethodToolsListChanged, func(ctx context.Context, params json.RawMessage) error {
		changed <- struct{}{}
		return nil
	})
	result := initialize(t, ctx, first)
	assert.Equal(t, "MCP Error Handling Server", result.ServerInfo.Name)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("tools/list_changed not received")
	}

	// a second connection has its own initialization state
	second := dial()
	_, err := second.SendRequest(ctx, protocol.MethodListTools, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeServerNotInitialized))

	_, err = callTool(t, ctx, first, tools.GetErrorName, nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolExecution))

	require.Eventually(t, func() bool { return srv.SessionCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Stop(ctx))
	require.NoError(t, second.Stop(ctx))
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestToolCallsAreMeasured(t *testing.T) {
	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{ServiceName: "test", ServiceVersion: "1"})
	require.NoError(t, err)
	exporter := tracetest.NewInMemoryExporter()
	tracing, err := observability.NewTracingProvider(observability.TracingConfig{SpanExporter: exporter, SampleRate: 1})
	require.NoError(t, err)

	c := connect(t, New(WithTools(testTools()), WithMetrics(metrics), WithTracer(tracing)))
	ctx := timeout(t)
	initialize(t, ctx, c)

	_, err = callTool(t, ctx, c, tools.GetWeatherName, map[string]interface{}{"city": "Lima"})
	require.NoError(t, err)
	_, err = callTool(t, ctx, c, tools.GetErrorName, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Regexp(t, regexp.MustCompile(`mcp_tool_call_total\{[^}]*status="success"[^}]*tool="get_weather"[^}]*\} 1`), body)
	assert.Regexp(t, regexp.MustCompile(`mcp_tool_call_total\{[^}]*status="error"[^}]*tool="get_error"[^}]*\} 1`), body)
	assert.Contains(t, body, "mcp_active_connections")

	var names []string
	for _, span := range exporter.GetSpans() {
		names = append(names, span.Name)
	}
	assert.Contains(t, names, "mcp.tool.get_weather")
	assert.Contains(t, names, "mcp.tool.get_error")
}

func TestLogStartup(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := New(
		WithName("MCP Multiple Tools Server"),
		WithTools(tools.NewRegistry(tools.NewGetTime(), tools.NewGetWeather())),
		WithLogger(logging.NewFromZap(zap.New(core))),
	)

	srv.LogStartup(context.Background())

	assert.Equal(t, 1, logs.FilterMessage("Starting MCP server").Len())
	registered := logs.FilterMessage("Server has tools registered").All()
	require.Len(t, registered, 1)
	assert.EqualValues(t, 2, registered[0].ContextMap()["count"])
	assert.Equal(t, 1, logs.FilterMessage("  - get_time: Returns the current time in the specified timezone").Len())
	assert.Equal(t, 1, logs.FilterMessage("  - get_weather: Get weather information for a city").Len())
}

func TestServeWebSocketStopsOnCancel(t *testing.T) {
	srv := New(WithTools(testTools()))
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)
	go func() { served <- srv.ServeWebSocket(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ServeWebSocket did not return")
	}
}

func TestServerGoroutineLeak(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t).SetAllowedGrowth(2).Start()

	func() {
		sR, cW := io.Pipe()
		cR, sW := io.Pipe()
		serverSide := transport.NewStdioTransport(sR, sW)
		clientSide := transport.NewStdioTransport(cR, cW)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- New(WithTools(testTools())).Serve(ctx, serverSide) }()
		go func() { _ = clientSide.Start(ctx) }()

		callCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		initialize(t, callCtx, clientSide)
		for i := 0; i < 10; i++ {
			_, err := callTool(t, callCtx, clientSide, tools.GetWeatherName, map[string]interface{}{"city": "Oslo"})
			require.NoError(t, err)
		}

		cancel()
		_ = clientSide.Stop(callCtx)
		cW.Close()
		sW.Close()
		<-served
	}()

	detector.Check()
}
