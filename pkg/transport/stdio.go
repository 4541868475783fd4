package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
)

// maxMessageSize bounds a single newline-delimited message
const maxMessageSize = 4 * 1024 * 1024

// StdioTransport exchanges newline-delimited JSON-RPC messages over a
// reader and a writer, normally a process's stdin and stdout.
type StdioTransport struct {
	*BaseTransport
	reader    io.Reader
	writer    io.Writer
	rawWriter *bufio.Writer
	mutex     sync.Mutex
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewStdioTransport creates a transport reading from r and writing to w
func NewStdioTransport(r io.Reader, w io.Writer, opts ...Option) *StdioTransport {
	return &StdioTransport{
		BaseTransport: newBaseTransport("stdio", opts...),
		reader:        r,
		writer:        w,
		rawWriter:     bufio.NewWriter(w),
		stopCh:        make(chan struct{}),
	}
}

// Start reads messages until EOF, Stop or ctx cancellation. Requests still
// waiting for a response fail with a connection-closed error afterwards.
func (t *StdioTransport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.stopCh:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data := make([]byte, len(line))
			copy(data, line)

			func() {
				defer func() {
					if r := recover(); r != nil {
						t.logger.Error("Panic in message processing",
							logging.Any("panic", r),
							logging.String("stack", string(debug.Stack())))
					}
				}()
				t.dispatch(ctx, data, t.Send)
			}()
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			select {
			case <-t.stopCh:
				return nil
			default:
			}
			return mcperrors.TransportError("stdio", "read", err)
		}
		t.logger.Debug("Input stream closed")
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.stopCh:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	err := g.Wait()
	t.Cleanup()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Stop stops reading, waits for running handlers and flushes output
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.waitInflight(ctx)

	t.mutex.Lock()
	err := t.rawWriter.Flush()
	t.mutex.Unlock()

	t.Cleanup()
	if err != nil {
		return mcperrors.TransportError("stdio", "flush", err)
	}
	return nil
}

// Send writes one message followed by a newline
func (t *StdioTransport) Send(data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, err := t.rawWriter.Write(data); err != nil {
		return mcperrors.TransportError("stdio", "write", err)
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return mcperrors.TransportError("stdio", "write", err)
	}
	if err := t.rawWriter.Flush(); err != nil {
		return mcperrors.TransportError("stdio", "flush", err)
	}
	return nil
}

// SendRequest sends a request and waits for its response
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return t.call(ctx, method, params, t.Send)
}

// SendNotification sends a notification
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return t.notify(method, params, t.Send)
}
