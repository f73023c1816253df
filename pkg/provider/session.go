package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	clientName    = "mcpagent"
	clientVersion = "0.1.0"

	// maxListPages bounds tools/list pagination against a provider that keeps
	// returning cursors.
	maxListPages = 100
)

// Conn is the client side of an MCP connection. *client.Client from
// mark3labs/mcp-go satisfies it.
type Conn interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// exitWatcher is implemented by connections bound to a child process.
type exitWatcher interface {
	Done() <-chan struct{}
	ExitErr() error
}

// Dialer spawns the provider described by cfg and returns a connection to it.
// The connection is not yet initialized.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

// Session owns one live connection to a provider process.
type Session struct {
	cfg    Config
	dial   Dialer
	logger zerolog.Logger

	startTimeout time.Duration

	mu        sync.Mutex
	state     State
	conn      Conn
	lastErr   error
	serverInf mcp.Implementation
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the stdio dialer.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dial = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithStartTimeout bounds spawn plus handshake. Zero means no bound beyond ctx.
func WithStartTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.startTimeout = d
	}
}

// NewSession creates an unstarted session for cfg.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		cfg:    cfg,
		logger: zerolog.Nop(),
		state:  StateUnstarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("provider", cfg.Name).Logger()
	if s.dial == nil {
		s.dial = StdioDialer(s.logger)
	}
	return s
}

// Name returns the provider name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Config returns the launch config.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ServerInfo returns the implementation info reported during the handshake.
func (s *Session) ServerInfo() mcp.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInf
}

// Start spawns the provider and performs the initialize handshake. On any
// failure the process is released and the session ends up Failed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnstarted {
		state := s.state
		s.mu.Unlock()
		return newError(KindLaunch, s.cfg.Name, "start", fmt.Errorf("session already %s", state))
	}
	s.state = StateStarting
	s.mu.Unlock()

	if s.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.startTimeout)
		defer cancel()
	}

	started := time.Now()
	s.logger.Debug().
		Str("command", s.cfg.Command).
		Strs("args", s.cfg.Args).
		Msg("Starting provider")

	conn, err := s.dial(ctx, s.cfg)
	if err != nil {
		return s.failStart(nil, fmt.Errorf("spawn %q: %w", s.cfg.Command, err))
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	res, err := conn.Initialize(ctx, req)
	if err != nil {
		return s.failStart(conn, fmt.Errorf("initialize: %w", err))
	}
	if res == nil {
		return s.failStart(conn, errors.New("initialize: empty result"))
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// Closed while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.Close()
		return newError(KindLaunch, s.cfg.Name, "start", errors.New("session closed during startup"))
	}
	s.conn = conn
	s.state = StateReady
	s.serverInf = res.ServerInfo
	s.mu.Unlock()

	if w, ok := conn.(exitWatcher); ok {
		go s.watchExit(conn, w)
	}

	s.logger.Info().
		Str("server", res.ServerInfo.Name).
		Str("server_version", res.ServerInfo.Version).
		Str("protocol", res.ProtocolVersion).
		Dur("duration", time.Since(started)).
		Msg("Provider ready")
	return nil
}

func (s *Session) failStart(conn Conn, err error) error {
	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("Closing failed provider")
		}
	}
	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateFailed
	}
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("Provider failed to start")
	return newError(KindLaunch, s.cfg.Name, "start", err)
}

// acquire returns the live connection or a typed error for the current state.
func (s *Session) acquire(op string) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return s.conn, nil
	case StateFailed:
		return nil, newError(KindSessionDead, s.cfg.Name, op, s.lastErr)
	default:
		return nil, newError(KindNotReady, s.cfg.Name, op, fmt.Errorf("state is %s", s.state))
	}
}

// fail moves a Ready session to Failed after its transport was severed.
func (s *Session) fail(conn Conn, cause error) {
	s.mu.Lock()
	if s.state != StateReady || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.conn = nil
	s.lastErr = cause
	s.mu.Unlock()

	s.logger.Error().Err(cause).Msg("Provider transport severed")
	if err := conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Closing severed provider")
	}
}

// watchExit fails the session as soon as its process ends on its own.
// After Close the session is no longer Ready and fail is a no-op.
func (s *Session) watchExit(conn Conn, w exitWatcher) {
	<-w.Done()
	s.fail(conn, w.ExitErr())
}

// ListTools returns the provider's full tool catalog, following pagination.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	conn, err := s.acquire("tools/list")
	if err != nil {
		return nil, err
	}

	var (
		tools  []Tool
		cursor mcp.Cursor
	)
	for page := 0; ; page++ {
		if page >= maxListPages {
			return nil, newError(KindProtocol, s.cfg.Name, "tools/list",
				fmt.Errorf("more than %d pages", maxListPages))
		}

		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		res, err := conn.ListTools(ctx, req)
		if err != nil {
			return nil, s.callFailure(conn, "tools/list", err)
		}
		if res == nil {
			return nil, newError(KindProtocol, s.cfg.Name, "tools/list", errors.New("empty result"))
		}

		for _, t := range res.Tools {
			tool, err := convertTool(t)
			if err != nil {
				return nil, newError(KindProtocol, s.cfg.Name, "tools/list", err)
			}
			tools = append(tools, tool)
		}

		if res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
		cursor = res.NextCursor
	}

	s.logger.Debug().Int("tools", len(tools)).Msg("Listed provider tools")
	return tools, nil
}

// CallTool invokes one tool. A transport failure that severs the process
// moves the session to Failed; other failures leave it Ready.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	conn, err := s.acquire("tools/call")
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := conn.CallTool(ctx, req)
	if err != nil {
		return nil, s.callFailure(conn, "tools/call "+name, err)
	}
	if res == nil {
		return nil, newError(KindProtocol, s.cfg.Name, "tools/call "+name, errors.New("empty result"))
	}
	return convertResult(res), nil
}

func (s *Session) callFailure(conn Conn, op string, err error) error {
	if isSevered(err) {
		s.fail(conn, err)
		return newError(KindSessionDead, s.cfg.Name, op, err)
	}
	return newError(KindCall, s.cfg.Name, op, err)
}

// Close releases the connection and the process. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Provider did not close cleanly")
		return fmt.Errorf("close provider %q: %w", s.cfg.Name, err)
	}
	s.logger.Debug().Msg("Provider closed")
	return nil
}

func convertTool(t mcp.Tool) (Tool, error) {
	if t.Name == "" {
		return Tool{}, errors.New("tool with empty name")
	}

	schema, err := toolSchema(t)
	if err != nil {
		return Tool{}, fmt.Errorf("tool %q: %w", t.Name, err)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return Tool{}, fmt.Errorf("tool %q: invalid input schema: %w", t.Name, err)
	}

	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}, nil
}

func toolSchema(t mcp.Tool) (map[string]any, error) {
	var raw []byte
	if len(t.RawInputSchema) > 0 {
		raw = t.RawInputSchema
	} else {
		if t.InputSchema.Type == "" && len(t.InputSchema.Properties) == 0 {
			return DefaultInputSchema(), nil
		}
		var err error
		raw, err = json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encode input schema: %w", err)
		}
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if len(schema) == 0 {
		return DefaultInputSchema(), nil
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema, nil
}

func convertResult(res *mcp.CallToolResult) *CallResult {
	out := &CallResult{
		Content: make([]Content, 0, len(res.Content)),
		IsError: res.IsError,
	}
	for _, c := range res.Content {
		out.Content = append(out.Content, convertContent(c))
	}
	return out
}

func convertContent(c mcp.Content) Content {
	switch v := c.(type) {
	case mcp.TextContent:
		return Content{Type: "text", Text: v.Text}
	case *mcp.TextContent:
		return Content{Type: "text", Text: v.Text}
	}

	raw := any(c)
	if b, err := json.Marshal(c); err == nil {
		var decoded map[string]any
		if json.Unmarshal(b, &decoded) == nil {
			raw = decoded
		}
	}
	typ := "unknown"
	if m, ok := raw.(map[string]any); ok {
		if t, ok := m["type"].(string); ok && t != "" {
			typ = t
		}
	}
	return Content{Type: typ, Raw: raw}
}
