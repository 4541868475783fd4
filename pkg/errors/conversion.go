package errors

import (
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// ToRPCError converts any error into a JSON-RPC error object. MCPErrors keep
// their code, message and data; other errors become internal errors.
func ToRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if mcpErr, ok := AsMCPError(err); ok {
		return &protocol.Error{
			Code:    protocol.ErrorCode(mcpErr.Code()),
			Message: mcpErr.Message(),
			Data:    mcpErr.Data(),
		}
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// ToErrorResponse builds the JSON-RPC response for a failed request
func ToErrorResponse(err error, requestID interface{}) *protocol.Response {
	rpcErr := ToRPCError(err)
	if rpcErr == nil {
		rpcErr = &protocol.Error{Code: protocol.InternalError, Message: "unknown error"}
	}
	return protocol.NewErrorResponse(requestID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

// FromRPCError turns a JSON-RPC error received from a peer into an MCPError
func FromRPCError(rpcErr *protocol.Error) MCPError {
	if rpcErr == nil {
		return nil
	}

	code := int(rpcErr.Code)
	err := New(code, rpcErr.Message, CodeCategory(code), CodeSeverity(code))
	if rpcErr.Data != nil {
		err = err.WithData(rpcErr.Data)
	}
	return err
}
