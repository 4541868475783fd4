// Package server implements the server side of the Model Context Protocol as
// used by the exercises.
//
// A Server is a description: name, version, tool provider and policies. Each
// connection it serves gets a session holding that connection's
// initialization state and in-flight calls, so one Server can serve a stdio
// client and any number of websocket clients.
//
// # Session lifecycle
//
//   - initialize is always answered with the protocol version, server info
//     and the tools capability.
//   - Every other request is rejected with -32002 until the client sends
//     notifications/initialized.
//   - notifications/cancelled cancels the context of the matching tools/call.
//
// # Tool errors
//
// By default a failing tool produces an isError result whose text is
// "Error executing tool <name>: <message>", and an unknown tool produces
// "Unknown tool: <name>". WithToolErrorsAsRPCErrors reports both as JSON-RPC
// errors (-32000 and -32601) instead. Invalid arguments are always -32602.
//
// # Example
//
//	srv := server.New(
//	    server.WithName("MCP Multiple Tools Server"),
//	    server.WithTools(tools.NewRegistry(tools.NewGetTime(), tools.NewGetWeather())),
//	    server.WithLogger(logger),
//	)
//	if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil {
//	    // handle error
//	}
package server
