package exercises

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/nowucca/introducing-mcp/pkg/client"
	"github.com/nowucca/introducing-mcp/pkg/config"
	"github.com/nowucca/introducing-mcp/pkg/llm"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/memory"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/server"
	"github.com/nowucca/introducing-mcp/pkg/tools"
	"github.com/nowucca/introducing-mcp/pkg/transport"
)

// Implementations the runner can start an exercise with
const (
	// ImplementationWebSocket serves the exercise in-process on a loopback
	// websocket listener
	ImplementationWebSocket = "websocket"
	// ImplementationSDK spawns "<Executable> server <id>" and talks to it
	// over stdio
	ImplementationSDK = "sdk"
)

// HeaderWidth is the width of the runner's section headers
const HeaderWidth = 80

// PrintHeader prints text between 80-column rules
func PrintHeader(w io.Writer, text string) {
	rule := strings.Repeat("=", HeaderWidth)
	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, " "+text)
	fmt.Fprintln(w, rule)
}

// PrintList prints the catalog
func PrintList(w io.Writer) {
	PrintHeader(w, "Available MCP Exercises")
	for _, e := range catalog {
		fmt.Fprintf(w, "%s: %s - %s\n", e.ID, e.Name, e.Description)
		if e.UserInput {
			fmt.Fprintln(w, "   * Requires user input")
		}
		fmt.Fprintf(w, "   * %s\n", e.Notes)
	}
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  introducing-mcp run EXERCISE [--implementation websocket|sdk]")
	fmt.Fprintln(w, "  - EXERCISE: 00-06, 06p or 'all'")
	fmt.Fprintln(w, "  - IMPLEMENTATION: 'websocket' (default) or 'sdk'")
	fmt.Fprintln(w, "\nExamples:")
	fmt.Fprintln(w, "  introducing-mcp env --name steve72 --password 1234   # Write .env with your API key")
	fmt.Fprintln(w, "  introducing-mcp run 02                               # Run exercise 02 over websocket")
	fmt.Fprintln(w, "  introducing-mcp run 03 --implementation sdk          # Run exercise 03 over stdio")
	fmt.Fprintln(w, "  introducing-mcp run all                              # Run all exercises")
}

// Runner starts exercise servers and drives their client flows
type Runner struct {
	Out    io.Writer
	In     io.Reader
	Logger logging.Logger
	Config *config.Config

	Selector llm.ToolSelector
	Memory   memory.Store
	Tracing  *observability.TracingProvider
	Metrics  observability.MetricsProvider

	// Executable serves "server <id>" on stdio for ImplementationSDK.
	// Defaults to the running binary.
	Executable string
	// ServerArgs replaces the "server <id>" arguments when set; %s is the
	// exercise id
	ServerArgs []string
	// ServerEnv is added to the server process environment
	ServerEnv map[string]string
	// ServerStderr receives the server process's log output; it is logged
	// at debug level when nil
	ServerStderr io.Writer

	in *bufio.Reader
}

func (r *Runner) defaults() {
	if r.Out == nil {
		r.Out = os.Stdout
	}
	if r.In == nil {
		r.In = os.Stdin
	}
	if r.in == nil {
		r.in = bufio.NewReader(r.In)
	}
	if r.Logger == nil {
		r.Logger = logging.NewNop()
	}
	if r.Config == nil {
		r.Config = &config.Config{Timeout: client.DefaultTimeout}
	}
	if r.Memory == nil {
		r.Memory = memory.NewInMemoryStore(nil)
	}
	if r.Tracing == nil {
		r.Tracing = observability.NewNoopTracing()
	}
	if r.Metrics == nil {
		r.Metrics = observability.NopMetrics{}
	}
}

// RunAll runs every exercise in order and reports how many succeeded
func (r *Runner) RunAll(ctx context.Context, implementation string) (int, error) {
	r.defaults()
	PrintHeader(r.Out, "Running All MCP Exercises")

	succeeded := 0
	for _, e := range catalog {
		fmt.Fprintln(r.Out)
		if err := r.Run(ctx, e, implementation); err != nil {
			if ctx.Err() != nil {
				return succeeded, ctx.Err()
			}
			fmt.Fprintf(r.Out, "Error running exercise: %v\n", err)
			continue
		}
		succeeded++
	}

	PrintHeader(r.Out, fmt.Sprintf("Completed %d/%d exercises", succeeded, len(catalog)))
	return succeeded, nil
}

// Run starts e's server with the given implementation, runs its client flow
// against it and stops the server again
func (r *Runner) Run(ctx context.Context, e Exercise, implementation string) error {
	r.defaults()

	PrintHeader(r.Out, fmt.Sprintf("Running Exercise %s: %s", e.ID, e.Name))
	fmt.Fprintf(r.Out, "Description: %s\n", e.Description)
	fmt.Fprintf(r.Out, "Implementation: %s\n", implementation)
	if e.UserInput {
		fmt.Fprintf(r.Out, "\nNOTE: This exercise requires user input. %s\n", e.Notes)
	}

	var err error
	switch implementation {
	case ImplementationWebSocket:
		err = r.runWebSocket(ctx, e)
	case ImplementationSDK:
		err = r.runProcess(ctx, e)
	default:
		return fmt.Errorf("unknown implementation %q", implementation)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(r.Out, "\nExercise %s completed\n", e.ID)
	return nil
}

func (r *Runner) clientOptions() []client.Option {
	logger := r.Logger.WithFields(logging.String("component", "client"))
	return []client.Option{
		client.WithLogger(logger),
		client.WithTimeout(r.Config.Timeout),
		client.WithMiddleware(
			observability.Middleware(r.Metrics, r.Tracing),
			transport.LoggingMiddleware(logger),
		),
	}
}

func (r *Runner) env(c *client.Client) *Env {
	return &Env{
		Client:   c,
		Out:      r.Out,
		In:       r.in,
		Selector: r.Selector,
		Memory:   r.Memory,
		Logger:   r.Logger.WithFields(logging.String("component", "client")),
		Tracing:  r.Tracing,
		Metrics:  r.Metrics,
	}
}

// NewServer builds e's server wired to the runner's logger, metrics and
// tracing
func (r *Runner) NewServer(e Exercise, opts ...server.Option) *server.Server {
	r.defaults()
	logger := r.Logger.WithFields(logging.String("component", "server"))
	base := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(r.Metrics),
		server.WithTracer(r.Tracing),
		server.WithMiddleware(transport.LoggingMiddleware(logger)),
	}
	return e.NewServer([]tools.Option{tools.WithLogger(logger)}, append(base, opts...)...)
}

func (r *Runner) runWebSocket(ctx context.Context, e Exercise) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	srvCtx, stop := context.WithCancel(ctx)
	defer stop()

	srv := r.NewServer(e, server.WithListChangedOnInitialized())
	served := make(chan error, 1)
	go func() {
		served <- srv.ServeWebSocketListener(srvCtx, ln)
	}()

	url := "ws://" + ln.Addr().String()
	fmt.Fprintf(r.Out, "\nStarting exercise with %s implementation...\n", ImplementationWebSocket)

	c, err := client.ConnectWebSocket(ctx, url, r.clientOptions()...)
	if err != nil {
		stop()
		<-served
		return err
	}

	runErr := e.Run(ctx, r.env(c))
	closeErr := c.Close(context.WithoutCancel(ctx))

	stop()
	serveErr := <-served
	return errors.Join(runErr, closeErr, serveErr)
}

func (r *Runner) processConfig(e Exercise) (transport.ProcessConfig, error) {
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return transport.ProcessConfig{}, err
		}
	}

	args := []string{"server", e.ID}
	if len(r.ServerArgs) > 0 {
		args = make([]string, len(r.ServerArgs))
		for i, a := range r.ServerArgs {
			args[i] = strings.ReplaceAll(a, "%s", e.ID)
		}
	}
	return transport.ProcessConfig{Command: exe, Args: args, Env: r.ServerEnv, Stderr: r.ServerStderr}, nil
}

func (r *Runner) runProcess(ctx context.Context, e Exercise) error {
	cfg, err := r.processConfig(e)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.Out, "\nStarting exercise with %s implementation...\n", ImplementationSDK)
	c, err := client.ConnectProcess(ctx, cfg, r.clientOptions()...)
	if err != nil {
		return err
	}

	runErr := e.Run(ctx, r.env(c))
	return errors.Join(runErr, c.Close(context.WithoutCancel(ctx)))
}

// Serve runs e's server on the configured transport until ctx ends
func (r *Runner) Serve(ctx context.Context, e Exercise, stdin io.Reader, stdout io.Writer) error {
	r.defaults()
	if r.Config.Transport == config.TransportWebSocket {
		return r.NewServer(e, server.WithListChangedOnInitialized()).ServeWebSocket(ctx, r.Config.WSAddr)
	}
	return r.NewServer(e).ServeStdio(ctx, stdin, stdout)
}

// Connect opens a client to an already running exercise server: it dials
// the configured websocket address, or spawns the server on stdio
func (r *Runner) Connect(ctx context.Context, e Exercise) (*client.Client, error) {
	r.defaults()
	if r.Config.Transport == config.TransportWebSocket {
		return client.ConnectWebSocket(ctx, r.Config.WebSocketURL(), r.clientOptions()...)
	}

	cfg, err := r.processConfig(e)
	if err != nil {
		return nil, err
	}
	return client.ConnectProcess(ctx, cfg, r.clientOptions()...)
}

// RunClient connects to e's server with Connect and runs its flow
func (r *Runner) RunClient(ctx context.Context, e Exercise) error {
	c, err := r.Connect(ctx, e)
	if err != nil {
		return err
	}
	runErr := e.Run(ctx, r.env(c))
	return errors.Join(runErr, c.Close(context.WithoutCancel(ctx)))
}
