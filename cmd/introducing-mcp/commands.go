package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nowucca/introducing-mcp/pkg/config"
	"github.com/nowucca/introducing-mcp/pkg/exercises"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available exercises",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exercises.PrintList(cmd.OutOrStdout())
	},
}

var serverCmd = &cobra.Command{
	Use:   "server EXERCISE",
	Short: "Serve an exercise's tools on stdio or websocket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := exercises.Lookup(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "server")
		if err != nil {
			return err
		}
		defer a.close(ctx)

		a.logger.Info("Serving exercise",
			logging.String("exercise", e.Dir()), logging.String("transport", a.cfg.Transport))
		return a.runner(os.Stderr, nil).Serve(ctx, e, os.Stdin, os.Stdout)
	},
}

var clientCmd = &cobra.Command{
	Use:   "client EXERCISE",
	Short: "Run an exercise client against its server",
	Long: `Run an exercise client. With --transport stdio the server is spawned as
"introducing-mcp server EXERCISE"; with --transport websocket the client dials
--ws-addr, where "introducing-mcp server EXERCISE --transport websocket"
should already be listening.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := exercises.Lookup(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "client")
		if err != nil {
			return err
		}
		defer a.close(ctx)

		r := a.runner(cmd.OutOrStdout(), a.selector(e))
		r.ServerArgs = serverArgs(cmd)
		r.ServerStderr = os.Stderr
		return r.RunClient(ctx, e)
	},
}

var implementation string

var runCmd = &cobra.Command{
	Use:   "run EXERCISE|all",
	Short: "Start an exercise server and run its client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list := exercises.Catalog()
		all := strings.EqualFold(args[0], "all")
		if !all {
			e, err := exercises.Lookup(args[0])
			if err != nil {
				return err
			}
			list = []exercises.Exercise{e}
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "client")
		if err != nil {
			return err
		}
		defer a.close(ctx)

		r := a.runner(cmd.OutOrStdout(), a.selector(list...))
		r.ServerArgs = serverArgs(cmd)
		r.ServerStderr = os.Stderr
		if all {
			_, err := r.RunAll(ctx, implementation)
			return err
		}
		return r.Run(ctx, list[0], implementation)
	},
}

var (
	studentName     string
	studentPassword string
	envOutput       string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Write a .env file with the course API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := config.GenerateAPIKey(studentName, studentPassword)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Generated API key for student: %s\n", studentName)

		if err := config.WriteEnvFile(envOutput, key, config.CourseBaseURL, "gpt-4o"); err != nil {
			return err
		}
		fmt.Fprintf(out, "Regenerated .env file at %s\n", envOutput)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&implementation, "implementation", "i", exercises.ImplementationWebSocket,
		"how to start the server (websocket, sdk)")

	envCmd.Flags().StringVarP(&studentName, "name", "n", "", "student name")
	envCmd.Flags().StringVarP(&studentPassword, "password", "p", "", "4-digit password")
	envCmd.Flags().StringVarP(&envOutput, "output", "o", config.DefaultEnvFile, "file to write")
	_ = envCmd.MarkFlagRequired("name")
	_ = envCmd.MarkFlagRequired("password")
}

// serverArgs forwards the persistent flags the user set to a spawned
// "server %s" process
func serverArgs(cmd *cobra.Command) []string {
	args := []string{"server", "%s", "--transport=" + config.TransportStdio}
	for _, name := range []string{"env-file", "log-level", "log-format", "memory-backend", "redis-addr", "tracing-exporter", "tracing-endpoint"} {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			args = append(args, "--"+name+"="+f.Value.String())
		}
	}
	return args
}
