package errors

import (
	"fmt"
	"time"
)

// TransportErrorData is attached to transport errors
type TransportErrorData struct {
	Transport string `json:"transport"`
	Operation string `json:"operation,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// TransportError creates a generic transport error
func TransportError(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error during %s", transport, operation)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return Wrap(cause, CodeTransportError, message, CategoryTransport, SeverityError).
		WithContext(&Context{Component: transport + "_transport", Operation: operation}).
		WithData(&TransportErrorData{
			Transport: transport,
			Operation: operation,
			Reason:    causeText(cause),
		})
}

// ConnectionFailed creates an error for a failed dial or process start
func ConnectionFailed(transport, endpoint string, cause error) MCPError {
	message := fmt.Sprintf("Failed to connect via %s to %s", transport, endpoint)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return Wrap(cause, CodeConnectionFailed, message, CategoryTransport, SeverityError).
		WithData(&TransportErrorData{
			Transport: transport,
			Operation: "connect",
			Endpoint:  endpoint,
			Reason:    causeText(cause),
		})
}

// ConnectionClosed is returned to callers still waiting when the peer goes away
func ConnectionClosed(transport string) MCPError {
	return New(CodeConnectionClosed, fmt.Sprintf("%s connection closed", transport), CategoryTransport, SeverityWarning).
		WithData(&TransportErrorData{Transport: transport})
}

// RequestTimeout is returned when a response does not arrive in time
func RequestTimeout(method string, requestID string, timeout time.Duration) MCPError {
	return New(CodeRequestTimeout,
		fmt.Sprintf("Request %s (%s) timed out after %s", requestID, method, timeout),
		CategoryTimeout, SeverityError).
		WithContext(&Context{RequestID: requestID, Method: method})
}
