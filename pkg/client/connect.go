package client

import (
	"context"

	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/transport"
)

// ConnectProcess spawns the server described by cfg, starts the client on
// its stdio and initializes the session.
func ConnectProcess(ctx context.Context, cfg transport.ProcessConfig, options ...Option) (*Client, error) {
	c := newClient(options...)

	t, err := transport.NewProcessTransport(cfg, transport.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.logger.Info("Started server process",
		logging.String("command", cfg.Command), logging.Int("pid", t.Pid()))

	c.attach(t)
	if err := c.startAndInitialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectWebSocket dials url, retrying while the server comes up, then starts
// and initializes the client.
func ConnectWebSocket(ctx context.Context, url string, options ...Option) (*Client, error) {
	c := newClient(options...)

	t, err := transport.DialWebSocketWithRetry(ctx, url, transport.DefaultRetryConfig(), c.logger, transport.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.logger.Info("Connected to websocket server", logging.String("url", url))

	c.attach(t)
	if err := c.startAndInitialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) startAndInitialize(ctx context.Context) error {
	c.Start(context.WithoutCancel(ctx))
	if err := c.Initialize(ctx); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return err
	}
	return nil
}
