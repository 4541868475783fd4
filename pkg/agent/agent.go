// Package agent executes plans of independent tool calls concurrently and
// pairs every result with the step that produced it.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/nowucca/introducing-mcp/pkg/llm"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// Step is one tool call in a plan
type Step struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Plan is an ordered list of independent steps
type Plan []Step

// Result is the outcome of one step. Ref is the id the step was issued
// under.
type Result struct {
	Tool    string   `json:"tool"`
	Ref     string   `json:"ref"`
	Success bool     `json:"success"`
	Result  []string `json:"result,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Caller runs a single tool call; *client.Client satisfies it
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error)
}

// DefaultParallelPlan is the fixed plan of the parallel agent exercise
func DefaultParallelPlan() Plan {
	return Plan{
		{Name: "get_time", Arguments: map[string]interface{}{}},
		{Name: "get_weather", Arguments: map[string]interface{}{"city": "Tokyo"}},
	}
}

// PlanFromSelection turns the model's tool calls into a plan
func PlanFromSelection(sel *llm.Selection) Plan {
	if !sel.HasToolCalls() {
		return Plan{}
	}
	plan := make(Plan, 0, len(sel.ToolCalls))
	for _, tc := range sel.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		plan = append(plan, Step{Name: tc.Name, Arguments: args})
	}
	return plan
}

type options struct {
	logger  logging.Logger
	tracer  trace.Tracer
	metrics observability.MetricsProvider
	newRef  func() string
}

// Option configures Execute
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracing wraps every step in a span
func WithTracing(tp *observability.TracingProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer()
		}
	}
}

// WithMetrics records every step as a tool call
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithRefGenerator replaces the uuid step refs
func WithRefGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newRef = gen
		}
	}
}

// Execute runs every step of plan concurrently and waits for all of them.
// results[i] always belongs to plan[i]. A failing step never cancels the
// others; it is reported with Success false.
func Execute(ctx context.Context, caller Caller, plan Plan, opts ...Option) []Result {
	o := &options{
		logger:  logging.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer("agent"),
		metrics: observability.NopMetrics{},
		newRef:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}

	o.logger.Info("Executing plan", logging.Int("steps", len(plan)))
	results := make([]Result, len(plan))

	var g errgroup.Group
	for i, step := range plan {
		i, step := i, step
		ref := o.newRef()
		o.logger.Info("Queuing tool call", logging.String("tool", step.Name), logging.String("ref", ref))
		g.Go(func() error {
			results[i] = runStep(ctx, caller, step, ref, o)
			return nil
		})
	}

	o.logger.Info("Waiting for tool call results", logging.Int("steps", len(plan)))
	_ = g.Wait()
	return results
}

func runStep(ctx context.Context, caller Caller, step Step, ref string, o *options) Result {
	ctx, span := o.tracer.Start(ctx, "agent.step "+step.Name,
		trace.WithAttributes(
			attribute.String("mcp.tool", step.Name),
			attribute.String("agent.ref", ref),
		))

	l := o.logger.WithFields(logging.String("tool", step.Name), logging.String("ref", ref))
	res := Result{Tool: step.Name, Ref: ref}

	args := step.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	out, err := caller.CallTool(ctx, step.Name, args)
	duration := time.Since(start)

	switch {
	case err != nil:
		res.Error = err.Error()
		l.WithError(err).Error("Tool call failed")
	case out.IsError:
		res.Result = out.Texts()
		res.Error = strings.Join(res.Result, "\n")
		err = errors.New(res.Error)
		l.Warn("Tool call returned an error result", logging.String("error", res.Error))
	default:
		res.Success = true
		res.Result = out.Texts()
		l.Info("Tool call succeeded")
	}

	status := observability.StatusSuccess
	if !res.Success {
		status = observability.StatusError
	}
	o.metrics.RecordToolCall(ctx, step.Name, status, duration)
	observability.EndSpan(span, err)
	return res
}
