package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// Middleware wraps a transport to add behaviour such as logging or metrics
type Middleware interface {
	Wrap(transport Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// ChainMiddleware chains middleware so the first one is the outermost
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(transport Transport) Transport {
		for i := len(middleware) - 1; i >= 0; i-- {
			transport = middleware[i].Wrap(transport)
		}
		return transport
	})
}

// Passthrough delegates every Transport method to Next. Middleware embed it
// and override the methods they instrument.
type Passthrough struct {
	Next Transport
}

func (m *Passthrough) Start(ctx context.Context) error { return m.Next.Start(ctx) }

func (m *Passthrough) Stop(ctx context.Context) error { return m.Next.Stop(ctx) }

func (m *Passthrough) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return m.Next.SendRequest(ctx, method, params)
}

func (m *Passthrough) SendNotification(ctx context.Context, method string, params interface{}) error {
	return m.Next.SendNotification(ctx, method, params)
}

func (m *Passthrough) RegisterRequestHandler(method string, handler RequestHandler) {
	m.Next.RegisterRequestHandler(method, handler)
}

func (m *Passthrough) RegisterNotificationHandler(method string, handler NotificationHandler) {
	m.Next.RegisterNotificationHandler(method, handler)
}

func (m *Passthrough) SetFallbackHandler(handler FallbackHandler) {
	m.Next.SetFallbackHandler(handler)
}

func (m *Passthrough) Done() <-chan struct{} { return m.Next.Done() }

// LoggingMiddleware logs outgoing requests and incoming request handling
func LoggingMiddleware(logger logging.Logger) Middleware {
	return MiddlewareFunc(func(next Transport) Transport {
		return &loggingTransport{Passthrough: Passthrough{Next: next}, logger: logger}
	})
}

type loggingTransport struct {
	Passthrough
	logger logging.Logger
}

func (lt *loggingTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	l := lt.logger.WithFields(logging.String("method", method))
	l.Debug("Sending request")

	start := time.Now()
	result, err := lt.Next.SendRequest(ctx, method, params)
	if err != nil {
		l.WithError(err).Debug("Request failed", logging.Duration("duration", time.Since(start)))
		return nil, err
	}
	l.Debug("Received response", logging.Duration("duration", time.Since(start)))
	return result, nil
}

func (lt *loggingTransport) RegisterRequestHandler(method string, handler RequestHandler) {
	wrapped := logging.WrapHandler(lt.logger, method, logging.HandlerFunc(handler))
	lt.Next.RegisterRequestHandler(method, RequestHandler(wrapped))
}
