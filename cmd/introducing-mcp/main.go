// Command introducing-mcp runs the MCP teaching exercises: it lists the
// catalog, serves an exercise, runs an exercise client, or starts both sides
// together.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nowucca/introducing-mcp/pkg/config"
)

const version = "0.1.0"

var (
	envFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "introducing-mcp",
	Short:         "Model Context Protocol exercises",
	Long:          `introducing-mcp walks through the Model Context Protocol one exercise at a time, from tool advertisement to LLM-planned parallel tool calls.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file with OPENAI_* settings")

	flags.String("transport", config.TransportStdio, "transport for server and client commands (stdio, websocket)")
	flags.String("ws-addr", "localhost:8765", "websocket listen or dial address")
	flags.String("log-level", "debug", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.Duration("timeout", 10*time.Second, "per-request timeout")
	flags.String("memory-backend", config.MemoryBackendInProcess, "context memory backend (memory, redis)")
	flags.String("redis-addr", "localhost:6379", "redis address for the redis memory backend")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	flags.String("tracing-exporter", "noop", "trace exporter (noop, otlp-grpc, otlp-http)")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint")

	_ = v.BindPFlag(config.KeyTransport, flags.Lookup("transport"))
	_ = v.BindPFlag(config.KeyWSAddr, flags.Lookup("ws-addr"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	_ = v.BindPFlag(config.KeyTimeout, flags.Lookup("timeout"))
	_ = v.BindPFlag(config.KeyMemoryBackend, flags.Lookup("memory-backend"))
	_ = v.BindPFlag(config.KeyRedisAddr, flags.Lookup("redis-addr"))
	_ = v.BindPFlag(config.KeyMetricsAddr, flags.Lookup("metrics-addr"))
	_ = v.BindPFlag(config.KeyTracingExporter, flags.Lookup("tracing-exporter"))
	_ = v.BindPFlag(config.KeyTracingEndpoint, flags.Lookup("tracing-endpoint"))

	rootCmd.AddCommand(listCmd, serverCmd, clientCmd, runCmd, envCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	switch {
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "Stopped by user")
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
