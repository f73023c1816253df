package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// DefaultStopGrace is how long Close waits for a provider to exit after its
// stdin is closed before killing it.
const DefaultStopGrace = 3 * time.Second

// errProcessExited marks every error caused by the provider process going
// away. isSevered treats it as a dead transport.
var errProcessExited = errors.New("provider process exited")

// StdioOption configures StdioDialer.
type StdioOption func(*stdioOptions)

type stdioOptions struct {
	stopGrace time.Duration
}

// WithStopGrace overrides DefaultStopGrace.
func WithStopGrace(d time.Duration) StdioOption {
	return func(o *stdioOptions) {
		if d > 0 {
			o.stopGrace = d
		}
	}
}

// StdioDialer spawns cfg.Command as a child process speaking MCP over its
// stdin/stdout. Env entries are appended to the parent environment. The
// child's stderr is forwarded to logger at debug level.
//
// The returned Conn owns the process: requests in flight fail as soon as it
// exits, and Close kills it if it does not exit within the stop grace.
func StdioDialer(logger zerolog.Logger, opts ...StdioOption) Dialer {
	o := stdioOptions{stopGrace: DefaultStopGrace}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, cfg Config) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return spawn(ctx, cfg, o, logger)
	}
}

// processConn is an MCP client bound to the lifetime of its child process.
type processConn struct {
	client *mcpclient.Client
	cmd    *exec.Cmd
	logger zerolog.Logger
	grace  time.Duration

	// life is cancelled with the exit error once cmd.Wait returns.
	life       context.Context
	cancelLife context.CancelCauseFunc

	closeOnce sync.Once
	closeErr  error
}

func spawn(ctx context.Context, cfg Config, o stdioOptions, logger zerolog.Logger) (*processConn, error) {
	// Plain *os.File pipes: cmd.Wait then never closes the ends the client
	// is still reading from.
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return nil, err
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return nil, err
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Environ()...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, err
	}
	// The child holds its own copies now.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	life, cancelLife := context.WithCancelCause(context.Background())
	pc := &processConn{
		cmd:        cmd,
		logger:     logger,
		grace:      o.stopGrace,
		life:       life,
		cancelLife: cancelLife,
	}
	go pc.wait()
	go drainStderr(stderrR, logger)

	pc.client = mcpclient.NewClient(transport.NewIO(stdoutR, stdinW, stderrR))
	if err := pc.client.Start(ctx); err != nil {
		_ = pc.Close()
		return nil, err
	}

	logger.Debug().Int("pid", cmd.Process.Pid).Msg("Provider process started")
	return pc, nil
}

func (pc *processConn) wait() {
	err := pc.cmd.Wait()
	if err != nil {
		err = fmt.Errorf("%w: %w", errProcessExited, err)
	} else {
		err = errProcessExited
	}
	pc.logger.Debug().Err(err).Msg("Provider process ended")
	pc.cancelLife(err)
}

// Done is closed when the process has exited.
func (pc *processConn) Done() <-chan struct{} {
	return pc.life.Done()
}

// ExitErr returns why the process ended, or nil while it is running.
func (pc *processConn) ExitErr() error {
	if pc.life.Err() == nil {
		return nil
	}
	return context.Cause(pc.life)
}

// bind derives a request context that is also cancelled when the process
// exits, and maps the resulting failure back to the exit error.
func bind[T any](ctx context.Context, pc *processConn, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(pc.life, cancel)
	defer stop()

	res, err := fn(ctx)
	if err != nil {
		if exitErr := pc.ExitErr(); exitErr != nil {
			return res, exitErr
		}
	}
	return res, err
}

func (pc *processConn) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return bind(ctx, pc, func(ctx context.Context) (*mcp.InitializeResult, error) {
		return pc.client.Initialize(ctx, req)
	})
}

func (pc *processConn) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return bind(ctx, pc, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return pc.client.ListTools(ctx, req)
	})
}

func (pc *processConn) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return bind(ctx, pc, func(ctx context.Context) (*mcp.CallToolResult, error) {
		return pc.client.CallTool(ctx, req)
	})
}

// Close closes the provider's stdin, waits up to the stop grace for it to
// exit and kills it otherwise. It always returns with the process reaped.
func (pc *processConn) Close() error {
	pc.closeOnce.Do(func() {
		if pc.client != nil {
			pc.closeErr = pc.client.Close()
		}

		timer := time.NewTimer(pc.grace)
		defer timer.Stop()
		select {
		case <-pc.life.Done():
			return
		case <-timer.C:
		}

		pc.logger.Warn().Dur("grace", pc.grace).Msg("Provider did not exit after stdin closed, killing it")
		if err := pc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			pc.closeErr = errors.Join(pc.closeErr, err)
		}
		<-pc.life.Done()
	})
	return pc.closeErr
}

// drainStderr keeps the child's stderr pipe empty so a chatty provider can
// never block on it.
func drainStderr(r io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Debug().Err(err).Msg("Provider stderr closed")
		_, _ = io.Copy(io.Discard, r)
	}
}
