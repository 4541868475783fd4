package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// RetryConfig controls reconnection attempts while a server is starting
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the whole retry loop; zero means until ctx ends
	MaxElapsedTime time.Duration
}

// DefaultRetryConfig suits a server process started a moment before the client
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = c.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// isRetryable reports whether err is worth another attempt
func isRetryable(err error) bool {
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		switch mcpErr.Code() {
		case mcperrors.CodeConnectionFailed, mcperrors.CodeRequestTimeout:
			return true
		}
		return false
	}
	return true
}

// DialWebSocketWithRetry dials url with exponential backoff until the server
// accepts, ctx ends or the retry budget is spent.
func DialWebSocketWithRetry(ctx context.Context, url string, cfg RetryConfig, logger logging.Logger, opts ...Option) (*WebSocketTransport, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		t       *WebSocketTransport
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		t, err = DialWebSocket(ctx, url, opts...)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			logger.Debug("Dial failed, retrying",
				logging.String("url", url), logging.Int("attempt", attempt), logging.ErrorField(err))
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, cfg.backOff(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return t, nil
}
