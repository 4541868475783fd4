// Package tools implements the mock tools the exercise servers advertise:
// get_time, get_weather and get_error. Each tool's input schema is reflected
// from its argument struct and every call is validated against it before the
// handler runs.
package tools

import (
	"context"
	"fmt"
	"time"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/utils"
)

// Tool names
const (
	GetTimeName    = "get_time"
	GetWeatherName = "get_weather"
	GetErrorName   = "get_error"
)

// Handler runs a tool with arguments already validated against its schema
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a named, described and schema-checked handler
type Tool struct {
	definition protocol.Tool
	schema     *utils.Schema
	handler    Handler
}

// New builds a tool whose arguments decode into A. The input schema is
// reflected from A's struct tags.
func New[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) (*Tool, error) {
	raw, err := utils.GenerateJSONSchema(new(A))
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	schema, err := utils.CompileSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	handler := func(ctx context.Context, m map[string]interface{}) (string, error) {
		var args A
		if err := utils.MapToStruct(m, &args); err != nil {
			return "", mcperrors.InvalidToolArguments(name, []string{err.Error()})
		}
		return fn(ctx, args)
	}

	return &Tool{
		definition: protocol.Tool{Name: name, Description: description, InputSchema: raw},
		schema:     schema,
		handler:    handler,
	}, nil
}

// MustNew is New for tools defined at init time
func MustNew[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) *Tool {
	t, err := New(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool name
func (t *Tool) Name() string { return t.definition.Name }

// Definition returns the advertised tool description
func (t *Tool) Definition() protocol.Tool { return t.definition }

// Call validates args and runs the handler. Validation failures are
// invalid-params errors; handler failures that are not already MCPErrors
// become tool execution errors.
func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	violations, err := t.schema.Validate(args)
	if err != nil {
		return "", mcperrors.InternalError(err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			if v.Type == "required" && v.Property != "" {
				return "", mcperrors.MissingParameter(t.Name(), v.Property)
			}
			// an empty string for a minLength property counts as absent
			if v.Type == "string_gte" && args[v.Field] == "" {
				return "", mcperrors.MissingParameter(t.Name(), v.Field)
			}
		}
		problems := make([]string, len(violations))
		for i, v := range violations {
			problems[i] = v.String()
		}
		return "", mcperrors.InvalidToolArguments(t.Name(), problems)
	}

	text, err := t.handler(ctx, args)
	if err != nil {
		if _, ok := mcperrors.AsMCPError(err); ok {
			return "", err
		}
		return "", mcperrors.ToolExecutionFailed(t.Name(), err.Error())
	}
	return text, nil
}

// Clock returns the current time
type Clock func() time.Time

// Option configures the built-in tools
type Option func(*options)

type options struct {
	clock  Clock
	logger logging.Logger
}

// WithClock replaces time.Now
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger tools report their invocations to
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{clock: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
