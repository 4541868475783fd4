// Package client provides the client-side implementation of the MCP protocol.
//
// A Client wraps one transport. New attaches it to an existing transport;
// ConnectProcess and ConnectWebSocket create the transport, start the read
// loop and run the initialize handshake in one step:
//
//	c, err := client.ConnectProcess(ctx, transport.ProcessConfig{
//	    Command: os.Args[0],
//	    Args:    []string{"server", "04"},
//	}, client.WithName("exercise-client"), client.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	tools, err := c.ListTools(ctx)
//	...
//	result, err := c.CallTool(ctx, "get_weather", map[string]interface{}{"city": "Tokyo"})
//	fmt.Println(result.Text())
//
// Requests without a deadline are bounded by WithTimeout (10s by default).
// When a request's context ends first the transport tells the server with
// notifications/cancelled.
package client
