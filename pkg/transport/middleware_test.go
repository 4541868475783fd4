package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

type tagMiddleware struct {
	tag   string
	order *[]string
}

func (m tagMiddleware) Wrap(next Transport) Transport {
	return &taggedTransport{Passthrough: Passthrough{Next: next}, m: m}
}

type taggedTransport struct {
	Passthrough
	m tagMiddleware
}

func (tt *taggedTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	*tt.m.order = append(*tt.m.order, tt.m.tag)
	return tt.Next.SendNotification(ctx, method, params)
}

func TestChainMiddlewareOrder(t *testing.T) {
	client, server := pipePair(t)
	startAll(t, client, server)

	var order []string
	wrapped := ChainMiddleware(
		tagMiddleware{tag: "outer", order: &order},
		tagMiddleware{tag: "inner", order: &order},
	).Wrap(client)

	require.NoError(t, wrapped.SendNotification(context.Background(), protocol.MethodInitialized, nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := logging.NewFromZap(zap.New(core))

	client, server := pipePair(t)
	loggedServer := LoggingMiddleware(logger).Wrap(server)
	loggedServer.RegisterRequestHandler(protocol.MethodPing, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return protocol.PingResult{}, nil
	})
	loggedClient := LoggingMiddleware(logger).Wrap(client)
	startAll(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := loggedClient.SendRequest(ctx, protocol.MethodPing, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("Sending request").Len())
	assert.Equal(t, 1, logs.FilterMessage("Received response").Len())
	assert.Equal(t, 1, logs.FilterMessage("Request completed").Len())
}
