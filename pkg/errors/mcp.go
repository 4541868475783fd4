package errors

import "fmt"

// Protocol errors

// ServerNotInitialized is returned for requests that arrive before the
// client's notifications/initialized.
func ServerNotInitialized() MCPError {
	return New(CodeServerNotInitialized, "Server not initialized", CategoryProtocol, SeverityWarning)
}

// MethodNotFound is returned for unknown request methods
func MethodNotFound(method string) MCPError {
	return New(CodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), CategoryNotFound, SeverityWarning).
		WithData(map[string]string{"method": method})
}

// InvalidParams is returned when request params cannot be decoded
func InvalidParams(method string, cause error) MCPError {
	msg := fmt.Sprintf("Invalid params for %s", method)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return Wrap(cause, CodeInvalidParams, msg, CategoryValidation, SeverityWarning)
}

// InternalError wraps an unexpected failure
func InternalError(cause error) MCPError {
	msg := "Internal error"
	if cause != nil {
		msg = fmt.Sprintf("Internal error: %s", cause.Error())
	}
	return Wrap(cause, CodeInternalError, msg, CategoryInternal, SeverityCritical)
}

// RequestCancelled is returned for calls cancelled by the peer
func RequestCancelled(requestID string, reason string) MCPError {
	msg := fmt.Sprintf("Request %s cancelled", requestID)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeRequestCancelled, msg, CategoryCancelled, SeverityInfo)
}

// Tool errors

// ToolNotFound is returned when tools/call names a tool the server does not have
func ToolNotFound(name string) MCPError {
	return New(CodeMethodNotFound, fmt.Sprintf("Tool not found: %s", name), CategoryNotFound, SeverityWarning).
		WithContext(&Context{Tool: name})
}

// MissingParameter is returned when a required tool argument is absent
func MissingParameter(tool, param string) MCPError {
	return New(CodeInvalidParams, fmt.Sprintf("Missing required parameter: %s", param), CategoryValidation, SeverityWarning).
		WithContext(&Context{Tool: tool}).
		WithData(map[string]string{"parameter": param})
}

// InvalidArgument is returned when a tool argument has an unusable value
func InvalidArgument(tool, message string) MCPError {
	return New(CodeInvalidParams, message, CategoryValidation, SeverityWarning).
		WithContext(&Context{Tool: tool})
}

// InvalidToolArguments is returned when arguments fail schema validation
func InvalidToolArguments(tool string, problems []string) MCPError {
	err := New(CodeInvalidParams, fmt.Sprintf("Invalid arguments for tool %s", tool), CategoryValidation, SeverityWarning).
		WithContext(&Context{Tool: tool})
	for _, p := range problems {
		err = err.WithDetail(p)
	}
	return err.WithData(map[string]interface{}{"tool": tool, "problems": problems})
}

// ToolExecutionFailed is returned when a tool raises while running
func ToolExecutionFailed(tool, message string) MCPError {
	return New(CodeToolExecution, message, CategoryTool, SeverityError).
		WithContext(&Context{Tool: tool})
}

// LLM and configuration errors

// LLMNotConfigured is returned when no usable API key is configured
func LLMNotConfigured(reason string) MCPError {
	return New(CodeLLMNotConfigured, fmt.Sprintf("OpenAI API key not set: %s", reason), CategoryConfig, SeverityError)
}

// LLMError wraps a failed chat completion
func LLMError(operation string, cause error) MCPError {
	msg := fmt.Sprintf("Error calling OpenAI API during %s", operation)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return Wrap(cause, CodeLLMError, msg, CategoryLLM, SeverityError).
		WithContext(&Context{Component: "llm", Operation: operation})
}

// ConfigError is returned for invalid configuration values
func ConfigError(key, reason string) MCPError {
	return New(CodeConfigError, fmt.Sprintf("Invalid configuration %s: %s", key, reason), CategoryConfig, SeverityError).
		WithData(map[string]string{"key": key})
}

// StorageError wraps a failed memory store operation
func StorageError(backend, operation string, cause error) MCPError {
	msg := fmt.Sprintf("%s store error during %s", backend, operation)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return Wrap(cause, CodeStorageError, msg, CategoryStorage, SeverityError).
		WithContext(&Context{Component: backend, Operation: operation})
}
