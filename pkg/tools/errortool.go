package tools

import (
	"context"
	"fmt"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// DefaultErrorMessage is used when get_error is called without a message
const DefaultErrorMessage = "Default error message"

// GetErrorArgs are the arguments of get_error
type GetErrorArgs struct {
	Message string `json:"message,omitempty" jsonschema:"default=Default error message,description=Custom error message"`
}

// NewGetError returns get_error(message), which always fails
func NewGetError(opts ...Option) *Tool {
	o := buildOptions(opts)
	return MustNew(GetErrorName, "This tool always fails (for error handling demonstration)",
		func(ctx context.Context, args GetErrorArgs) (string, error) {
			msg := args.Message
			if msg == "" {
				msg = DefaultErrorMessage
			}
			o.logger.Info("Tool get_error called", logging.String("message", msg))

			errMsg := fmt.Sprintf("Intentional error triggered: %s", msg)
			o.logger.Error(errMsg)
			return "", mcperrors.ToolExecutionFailed(GetErrorName, errMsg)
		})
}
