// Package protocol defines the JSON-RPC 2.0 envelopes and the Model Context
// Protocol messages used by the exercises.
//
// # Package Organization
//
//   - jsonrpc.go: requests, responses, notifications, error codes and message classification
//   - mcp.go: method names, the initialize handshake and cancellation
//   - tools.go: tool advertisement and invocation (tools/list, tools/call)
//
// # Message Flow
//
// A session always starts with the same handshake:
//
//  1. client -> server: initialize
//  2. server -> client: initialize result (protocolVersion, serverInfo, capabilities)
//  3. client -> server: notifications/initialized
//  4. server -> client: notifications/tools/list_changed (websocket servers)
//
// After that the client may send tools/list and tools/call requests. A
// request sent before step 3 is answered with ServerNotInitialized (-32002).
//
// Tool failures are reported in one of two ways. A server can answer with a
// CallToolResult whose IsError flag is set, keeping the JSON-RPC exchange
// successful, or it can answer with a JSON-RPC error (ToolExecutionError,
// InvalidParams or MethodNotFound).
package protocol
