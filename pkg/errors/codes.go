package errors

import "github.com/nowucca/introducing-mcp/pkg/protocol"

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     = int(protocol.ParseError)
	CodeInvalidRequest = int(protocol.InvalidRequest)
	CodeMethodNotFound = int(protocol.MethodNotFound)
	CodeInvalidParams  = int(protocol.InvalidParams)
	CodeInternalError  = int(protocol.InternalError)
)

// Codes used on the wire by the exercise servers
const (
	CodeToolExecution        = int(protocol.ToolExecutionError)
	CodeRequestCancelled     = int(protocol.RequestCancelled)
	CodeServerNotInitialized = int(protocol.ServerNotInitialized)
)

// Local codes. These never leave the process that created them but keep the
// same shape so they can be logged and inspected uniformly.
const (
	CodeTransportError   = -32500
	CodeConnectionFailed = -32501
	CodeConnectionClosed = -32502
	CodeRequestTimeout   = -32503

	CodeLLMError         = -32900
	CodeLLMNotConfigured = -32901

	CodeConfigError  = -32800
	CodeStorageError = -32850
)

type codeInfo struct {
	category Category
	severity Severity
}

var codeRegistry = map[int]codeInfo{
	CodeParseError:           {CategoryProtocol, SeverityError},
	CodeInvalidRequest:       {CategoryProtocol, SeverityError},
	CodeMethodNotFound:       {CategoryNotFound, SeverityWarning},
	CodeInvalidParams:        {CategoryValidation, SeverityWarning},
	CodeInternalError:        {CategoryInternal, SeverityCritical},
	CodeToolExecution:        {CategoryTool, SeverityError},
	CodeRequestCancelled:     {CategoryCancelled, SeverityInfo},
	CodeServerNotInitialized: {CategoryProtocol, SeverityWarning},
	CodeTransportError:       {CategoryTransport, SeverityError},
	CodeConnectionFailed:     {CategoryTransport, SeverityError},
	CodeConnectionClosed:     {CategoryTransport, SeverityWarning},
	CodeRequestTimeout:       {CategoryTimeout, SeverityError},
	CodeLLMError:             {CategoryLLM, SeverityError},
	CodeLLMNotConfigured:     {CategoryConfig, SeverityError},
	CodeConfigError:          {CategoryConfig, SeverityError},
	CodeStorageError:         {CategoryStorage, SeverityError},
}

// CodeCategory returns the category registered for code. Codes in the
// implementation-defined server range map to CategoryTool.
func CodeCategory(code int) Category {
	if info, ok := codeRegistry[code]; ok {
		return info.category
	}
	if code <= -32000 && code >= -32099 {
		return CategoryTool
	}
	return CategoryInternal
}

// CodeSeverity returns the severity registered for code
func CodeSeverity(code int) Severity {
	if info, ok := codeRegistry[code]; ok {
		return info.severity
	}
	return SeverityError
}
