package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/utils"
)

// pipePair connects two stdio transports back to back
func pipePair(t *testing.T, opts ...Option) (*StdioTransport, *StdioTransport) {
	t.Helper()
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	a := NewStdioTransport(aR, aW, opts...)
	b := NewStdioTransport(bR, bW, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
		_ = b.Stop(ctx)
		aW.Close()
		bW.Close()
	})
	return a, b
}

func startAll(t *testing.T, ts ...Transport) {
	t.Helper()
	for _, tr := range ts {
		go func(tr Transport) { _ = tr.Start(context.Background()) }(tr)
	}
}

func TestHandleRequestMethodNotFound(t *testing.T) {
	b := newBaseTransport("test")
	req, err := protocol.NewRequest("req_1", "bogus/method", nil)
	require.NoError(t, err)

	resp := b.HandleRequest(context.Background(), req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: bogus/method", resp.Error.Message)
}

func TestHandleRequestPreservesMCPErrorCode(t *testing.T) {
	b := newBaseTransport("test")
	b.RegisterRequestHandler(protocol.MethodListTools, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, mcperrors.ServerNotInitialized()
	})
	req, _ := protocol.NewRequest(7, protocol.MethodListTools, nil)

	resp := b.HandleRequest(context.Background(), req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ServerNotInitialized, resp.Error.Code)
	assert.Equal(t, 7, resp.ID)
}

func TestHandleRequestRecoversPanic(t *testing.T) {
	b := newBaseTransport("test")
	b.RegisterRequestHandler("boom", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		panic("kaboom")
	})
	req, _ := protocol.NewRequest("req_1", "boom", nil)

	resp := b.HandleRequest(context.Background(), req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "kaboom")
}

func TestHandleRequestFallback(t *testing.T) {
	b := newBaseTransport("test")
	b.SetFallbackHandler(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		return map[string]string{"method": method, "request_id": logging.RequestIDFromContext(ctx)}, nil
	})
	req, _ := protocol.NewRequest("req_9", "anything", nil)

	resp := b.HandleRequest(context.Background(), req)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"method":"anything","request_id":"req_9"}`, string(resp.Result))
}

func TestGenerateID(t *testing.T) {
	b := newBaseTransport("test")
	assert.Equal(t, "req_1", b.GenerateID())
	assert.Equal(t, "req_2", b.GenerateID())

	custom := newBaseTransport("test", WithRequestIDPrefix("client"))
	assert.Equal(t, "client_1", custom.GenerateID())

	uuids := newBaseTransport("test", WithIDGenerator(UUIDGenerator))
	assert.Len(t, uuids.GenerateID(), 36)
}

func TestStdioRoundTrip(t *testing.T) {
	client, server := pipePair(t)
	server.RegisterRequestHandler("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return params, nil
	})
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.SendRequest(ctx, "echo", map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(result))
	assert.Equal(t, 0, client.PendingCount())
}

func TestStdioErrorResponse(t *testing.T) {
	client, server := pipePair(t)
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, "tools/unknown", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeMethodNotFound))
}

func TestStdioConcurrentRequests(t *testing.T) {
	client, server := pipePair(t)
	server.RegisterRequestHandler("slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var n int
		_ = json.Unmarshal(params, &n)
		time.Sleep(time.Duration(10-n) * 5 * time.Millisecond)
		return n, nil
	})
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := client.SendRequest(ctx, "slow", i)
			if assert.NoError(t, err) {
				results[i] = string(raw)
			}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, i, mustAtoi(t, r))
	}
}

func mustAtoi(t *testing.T, s string) int {
	var n int
	require.NoError(t, json.Unmarshal([]byte(s), &n))
	return n
}

func TestStdioNotification(t *testing.T) {
	client, server := pipePair(t)
	got := make(chan string, 1)
	server.RegisterNotificationHandler(protocol.MethodInitialized, func(ctx context.Context, params json.RawMessage) error {
		got <- protocol.MethodInitialized
		return nil
	})
	startAll(t, client, server)

	require.NoError(t, client.SendNotification(context.Background(), protocol.MethodInitialized, nil))
	select {
	case m := <-got:
		assert.Equal(t, protocol.MethodInitialized, m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestCancelledRequestSendsNotification(t *testing.T) {
	client, server := pipePair(t)
	release := make(chan struct{})
	defer close(release)
	server.RegisterRequestHandler("hang", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		<-release
		return nil, nil
	})
	cancelled := make(chan protocol.CancelledParams, 1)
	server.RegisterNotificationHandler(protocol.MethodCancelled, func(ctx context.Context, params json.RawMessage) error {
		var p protocol.CancelledParams
		assert.NoError(t, json.Unmarshal(params, &p))
		cancelled <- p
		return nil
	})
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.SendRequest(ctx, "hang", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case p := <-cancelled:
		assert.Equal(t, "req_1", p.RequestID)
		assert.Equal(t, context.DeadlineExceeded.Error(), p.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation not delivered")
	}
	assert.Equal(t, 0, client.PendingCount())
}

func TestCancelledHandlerSendsNoResponse(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	client, server := pipePair(t, WithLogger(logging.NewFromZap(zap.New(core))))
	server.RegisterRequestHandler("dropped", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, mcperrors.RequestCancelled(logging.RequestIDFromContext(ctx), "client gave up")
	})
	server.RegisterRequestHandler(protocol.MethodPing, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return protocol.PingResult{}, nil
	})
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.SendRequest(ctx, "dropped", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pingCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	_, err = client.SendRequest(pingCtx, protocol.MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Dropping response to cancelled request").Len())
}

func TestPendingRequestsFailWhenPeerCloses(t *testing.T) {
	aR, bW := io.Pipe()
	sink, aW := io.Pipe()
	go func() { _, _ = io.Copy(io.Discard, sink) }()
	client := NewStdioTransport(aR, aW)
	go func() { _ = client.Start(context.Background()) }()

	errCh := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), "never", nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return client.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	bW.Close()

	select {
	case err := <-errCh:
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeConnectionClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}
	<-client.Done()
}

func TestInvalidMessageGetsParseError(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	server := NewStdioTransport(inR, outW)
	go func() { _ = server.Start(context.Background()) }()
	defer inW.Close()

	go func() { _, _ = inW.Write([]byte("{not json\n")) }()

	buf := make([]byte, 512)
	n, err := outR.Read(buf)
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ParseError, resp.Error.Code)
}

func TestStdioTransportGoroutineLeak(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t).SetAllowedGrowth(1).Start()

	func() {
		aR, bW := io.Pipe()
		bR, aW := io.Pipe()
		client := NewStdioTransport(aR, aW)
		server := NewStdioTransport(bR, bW)
		server.RegisterRequestHandler(protocol.MethodPing, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return protocol.PingResult{}, nil
		})

		var wg sync.WaitGroup
		for _, tr := range []*StdioTransport{client, server} {
			wg.Add(1)
			go func(tr *StdioTransport) {
				defer wg.Done()
				_ = tr.Start(context.Background())
			}(tr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := 0; i < 20; i++ {
			_, err := client.SendRequest(ctx, protocol.MethodPing, nil)
			require.NoError(t, err)
		}

		require.NoError(t, client.Stop(ctx))
		require.NoError(t, server.Stop(ctx))
		aW.Close()
		bW.Close()
		wg.Wait()
	}()

	detector.Check()
}
