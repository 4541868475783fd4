package server

import (
	"context"
	"time"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// ToolsProvider defines the tools a server advertises and runs
type ToolsProvider interface {
	// ListTools returns the available tools in advertisement order
	ListTools(ctx context.Context) ([]protocol.Tool, error)

	// CallTool runs the named tool and returns its text output. Unknown
	// tools must be reported with errors.ToolNotFound.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

type emptyTools struct{}

func (emptyTools) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	return []protocol.Tool{}, nil
}

func (emptyTools) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", mcperrors.ToolNotFound(name)
}

// instrumentedTools records a metric and a span for every tool call
type instrumentedTools struct {
	next    ToolsProvider
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider
}

func (p *instrumentedTools) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	return p.next.ListTools(ctx)
}

func (p *instrumentedTools) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	ctx, span := p.tracing.StartToolSpan(ctx, name)
	start := time.Now()

	text, err := p.next.CallTool(ctx, name, args)

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
	}
	p.metrics.RecordToolCall(ctx, name, status, time.Since(start))
	observability.EndSpan(span, err)
	return text, err
}
