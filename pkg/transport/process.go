package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// ProcessConfig describes a server subprocess to talk to over stdio
type ProcessConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// Stderr receives the child's stderr verbatim. When nil each line is
	// logged at debug level instead.
	Stderr io.Writer

	// ShutdownGrace is how long Stop waits for the child to exit after its
	// stdin is closed before killing it. Defaults to 5s.
	ShutdownGrace time.Duration
}

// ProcessTransport spawns a server process and speaks newline-delimited
// JSON-RPC over its stdin and stdout.
type ProcessTransport struct {
	*StdioTransport
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	config ProcessConfig

	stderrDone chan struct{}
	waitOnce   sync.Once
	waitErr    error
	closeOnce  sync.Once
}

// NewProcessTransport starts the configured command. The returned transport
// still needs Start to begin reading the child's output.
func NewProcessTransport(config ProcessConfig, opts ...Option) (*ProcessTransport, error) {
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 5 * time.Second
	}

	cmd := exec.Command(config.Command, config.Args...)
	if config.Dir != "" {
		cmd.Dir = config.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	endpoint := strings.Join(append([]string{config.Command}, config.Args...), " ")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mcperrors.ConnectionFailed("stdio", endpoint, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, mcperrors.ConnectionFailed("stdio", endpoint, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, mcperrors.ConnectionFailed("stdio", endpoint, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, mcperrors.ConnectionFailed("stdio", endpoint, err)
	}

	t := &ProcessTransport{
		StdioTransport: NewStdioTransport(stdout, stdin, opts...),
		cmd:            cmd,
		stdin:          stdin,
		stdout:         stdout,
		stderr:         stderr,
		config:         config,
		stderrDone:     make(chan struct{}),
	}

	go t.monitorStderr()

	t.logger.Debug("Server process started",
		logging.String("command", config.Command),
		logging.Any("args", config.Args),
		logging.Int("pid", cmd.Process.Pid))

	return t, nil
}

func (t *ProcessTransport) monitorStderr() {
	defer close(t.stderrDone)

	if t.config.Stderr != nil {
		_, _ = io.Copy(t.config.Stderr, t.stderr)
		return
	}

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		t.logger.Debug("server stderr", logging.String("line", scanner.Text()))
	}
}

// Pid returns the child's process id
func (t *ProcessTransport) Pid() int {
	return t.cmd.Process.Pid
}

func (t *ProcessTransport) wait() error {
	t.waitOnce.Do(func() {
		<-t.stderrDone
		t.waitErr = t.cmd.Wait()
	})
	return t.waitErr
}

// Stop closes the child's stdin, waits for it to exit and kills it if it
// outlives the shutdown grace period.
func (t *ProcessTransport) Stop(ctx context.Context) error {
	var stopErr error
	t.closeOnce.Do(func() {
		stopErr = t.StdioTransport.Stop(ctx)
		t.stdin.Close()

		exited := make(chan error, 1)
		go func() { exited <- t.wait() }()

		select {
		case err := <-exited:
			if err != nil {
				t.logger.Debug("Server process exited with error", logging.ErrorField(err))
			} else {
				t.logger.Debug("Server process exited cleanly")
			}
		case <-time.After(t.config.ShutdownGrace):
			t.logger.Warn("Server process did not exit, killing it", logging.Int("pid", t.cmd.Process.Pid))
			if err := t.cmd.Process.Kill(); err != nil {
				t.logger.Error("Failed to kill server process", logging.ErrorField(err))
			}
			<-exited
		}
	})
	return stopErr
}
