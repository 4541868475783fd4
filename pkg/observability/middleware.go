package observability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/transport"
)

// Middleware returns a transport middleware that records every outgoing
// request and notification and every handled request. Either provider may
// be nil.
func Middleware(metrics MetricsProvider, tracing *TracingProvider) transport.Middleware {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if tracing == nil {
		tracing = NewNoopTracing()
	}
	return transport.MiddlewareFunc(func(next transport.Transport) transport.Transport {
		return &observabilityTransport{
			Passthrough: transport.Passthrough{Next: next},
			metrics:     metrics,
			tracing:     tracing,
		}
	})
}

type observabilityTransport struct {
	transport.Passthrough
	metrics MetricsProvider
	tracing *TracingProvider
}

func (ot *observabilityTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, span := ot.tracing.StartMethodSpan(ctx, method, trace.SpanKindClient)
	span.SetAttributes(attribute.String("rpc.system", "jsonrpc"))

	start := time.Now()
	result, err := ot.Next.SendRequest(ctx, method, params)
	duration := time.Since(start)

	ot.metrics.RecordRequest(ctx, method, status(err), duration)
	if err != nil {
		ot.metrics.RecordError(ctx, ErrorType(err), method)
	}
	EndSpan(span, err)
	return result, err
}

func (ot *observabilityTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	start := time.Now()
	err := ot.Next.SendNotification(ctx, method, params)
	ot.metrics.RecordNotification(ctx, method, status(err), time.Since(start))
	return err
}

func (ot *observabilityTransport) RegisterRequestHandler(method string, handler transport.RequestHandler) {
	ot.Next.RegisterRequestHandler(method, ot.instrument(method, handler))
}

func (ot *observabilityTransport) SetFallbackHandler(handler transport.FallbackHandler) {
	ot.Next.SetFallbackHandler(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		h := ot.instrument(method, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return handler(ctx, method, params)
		})
		return h(ctx, params)
	})
}

func (ot *observabilityTransport) instrument(method string, handler transport.RequestHandler) transport.RequestHandler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		ctx, span := ot.tracing.StartMethodSpan(ctx, method, trace.SpanKindServer)
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("rpc.request.id", id))
		}

		start := time.Now()
		result, err := handler(ctx, params)
		duration := time.Since(start)

		ot.metrics.RecordIncomingRequest(ctx, method, status(err), duration)
		if err != nil {
			ot.metrics.RecordError(ctx, ErrorType(err), method)
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				span.SetAttributes(attribute.Int("rpc.error.code", mcpErr.Code()))
			}
		}
		EndSpan(span, err)
		return result, err
	}
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// ErrorType labels err for the error counter
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		switch code := mcpErr.Code(); {
		case code == mcperrors.CodeParseError:
			return "parse_error"
		case code == mcperrors.CodeInvalidRequest:
			return "invalid_request"
		case code == mcperrors.CodeMethodNotFound:
			return "method_not_found"
		case code == mcperrors.CodeInvalidParams:
			return "invalid_params"
		case code == mcperrors.CodeInternalError:
			return "internal_error"
		case code == mcperrors.CodeServerNotInitialized:
			return "not_initialized"
		case code <= -32000 && code >= -32099:
			return "server_error"
		default:
			return string(mcpErr.Category())
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}
