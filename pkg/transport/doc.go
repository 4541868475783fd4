// Package transport moves JSON-RPC 2.0 messages between MCP clients and
// servers.
//
// # Carriers
//
// StdioTransport:
//   - Newline-delimited JSON over any reader/writer pair
//   - Used by servers reading their own stdin and writing stdout
//
// ProcessTransport:
//   - Spawns a server subprocess and wraps its pipes in a StdioTransport
//   - Forwards the child's stderr so server logs stay visible
//
// WebSocketTransport:
//   - One message per text frame over a gorilla/websocket connection
//   - DialWebSocket for clients, WebSocketHandler for servers
//   - Request ids are uuids
//
// # Shared behaviour
//
// All carriers embed BaseTransport, which correlates responses with pending
// requests by id, runs incoming requests on their own goroutines, turns
// handler errors into JSON-RPC error responses and sends
// notifications/cancelled when a caller gives up on a request.
//
// # Usage
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.WithLogger(logger))
//	t.RegisterRequestHandler(protocol.MethodPing, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
//		return protocol.PingResult{}, nil
//	})
//	err := t.Start(ctx)
//
// Middleware such as LoggingMiddleware wrap any Transport:
//
//	wrapped := transport.ChainMiddleware(transport.LoggingMiddleware(logger)).Wrap(t)
package transport
