// Package errors provides the structured errors shared by the exercise
// clients and servers. Every error carries a JSON-RPC code so it can cross the
// wire unchanged, plus a category and severity used for logging.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Category classifies an error for handling and logging
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryTransport  Category = "transport"
	CategoryProtocol   Category = "protocol"
	CategoryTool       Category = "tool"
	CategoryLLM        Category = "llm"
	CategoryConfig     Category = "config"
	CategoryStorage    Category = "storage"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryInternal   Category = "internal"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where an error happened
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error this module produces
type MCPError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int

	// Message returns the human-readable message, without details
	Message() string

	// Details returns extra technical detail
	Details() string

	// Data returns structured data sent as the JSON-RPC error data member
	Data() interface{}

	Category() Category
	Severity() Severity
	Context() *Context

	// WithContext returns a copy carrying ctx
	WithContext(ctx *Context) MCPError

	// WithDetail returns a copy with detail appended
	WithDetail(detail string) MCPError

	// WithData returns a copy carrying data
	WithData(data interface{}) MCPError

	Unwrap() error
}

type mcpError struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *mcpError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *mcpError) Code() int { return e.code }
func (e *mcpError) Message() string { return e.message }
func (e *mcpError) Details() string { return e.details }
func (e *mcpError) Data() interface{} { return e.data }
func (e *mcpError) Category() Category { return e.category }
func (e *mcpError) Severity() Severity { return e.severity }
func (e *mcpError) Context() *Context { return e.context }
func (e *mcpError) Unwrap() error { return e.cause }

func (e *mcpError) WithContext(ctx *Context) MCPError {
	cp := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		stamped := *ctx
		stamped.Timestamp = time.Now()
		ctx = &stamped
	}
	cp.context = ctx
	return &cp
}

func (e *mcpError) WithDetail(detail string) MCPError {
	cp := *e
	if cp.details != "" {
		cp.details = cp.details + "; " + detail
	} else {
		cp.details = detail
	}
	return &cp
}

func (e *mcpError) WithData(data interface{}) MCPError {
	cp := *e
	cp.data = data
	return &cp
}

// MarshalJSON renders the error for structured logs
func (e *mcpError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": e.category,
		"severity": e.severity,
	}
	if e.details != "" {
		out["details"] = e.details
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates an MCPError
func New(code int, message string, category Category, severity Severity) MCPError {
	return &mcpError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates an MCPError with a formatted message
func Newf(code int, category Category, severity Severity, format string, args ...interface{}) MCPError {
	return New(code, fmt.Sprintf(format, args...), category, severity)
}

// Wrap wraps cause as an MCPError
func Wrap(cause error, code int, message string, category Category, severity Severity) MCPError {
	return &mcpError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    cause,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Code() == code
	}
	return false
}
