package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/provider"
)

func weatherServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("weather", "1.0.0")
	srv.AddTool(
		mcp.NewTool("get_weather",
			mcp.WithDescription("Current weather for a city"),
			mcp.WithString("city", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("Sunny, 22C in " + cast.ToString(req.GetArguments()["city"])), nil
		},
	)
	return srv
}

func notesServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("notes", "1.0.0")
	srv.AddTool(
		mcp.NewTool("list", mcp.WithDescription("List notes")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("groceries\ntodo"), nil
		},
	)
	return srv
}

// countingConn records Close calls on an in-process client.
type countingConn struct {
	provider.Conn
	closes *atomic.Int32
}

func (c countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

type testDialer struct {
	mu      sync.Mutex
	servers map[string]*mcpserver.MCPServer
	closes  map[string]*atomic.Int32
}

func newTestDialer(servers map[string]*mcpserver.MCPServer) *testDialer {
	d := &testDialer{servers: servers, closes: make(map[string]*atomic.Int32)}
	for name := range servers {
		d.closes[name] = &atomic.Int32{}
	}
	return d
}

func (d *testDialer) dial(ctx context.Context, cfg provider.Config) (provider.Conn, error) {
	d.mu.Lock()
	srv, ok := d.servers[cfg.Name]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", cfg.Command)
	}
	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return countingConn{Conn: c, closes: d.closes[cfg.Name]}, nil
}

type scriptedModel struct {
	mu      sync.Mutex
	replies []*agent.Completion
	seen    []agent.CompletionRequest
}

func (m *scriptedModel) Backend() string { return "scripted" }

func (m *scriptedModel) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, req)
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func testConfig(names ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers = make(map[string]config.ProviderConfig, len(names))
	for _, n := range names {
		cfg.Providers[n] = config.ProviderConfig{Command: n + "-mcp"}
	}
	return cfg
}

func TestNew_AskTokyoWeather(t *testing.T) {
	dialer := newTestDialer(map[string]*mcpserver.MCPServer{
		"weather": weatherServer(),
		"notes":   notesServer(),
	})
	model := &scriptedModel{replies: []*agent.Completion{
		{ToolCalls: []agent.ToolInvocation{{ID: "c1", Name: "weather__get_weather", Arguments: `{"city":"Tokyo"}`}}},
		{Content: "It is sunny and 22C in Tokyo."},
	}}

	a, err := New(context.Background(), testConfig("weather", "notes"), zerolog.Nop(),
		WithDialer(dialer.dial), WithModelService(model))
	require.NoError(t, err)
	defer a.Close()

	names := make([]string, 0)
	for _, d := range a.Registry().Descriptors() {
		names = append(names, d.QualifiedName)
	}
	// Providers are started in name order.
	assert.Equal(t, []string{"notes__list", "weather__get_weather"}, names)

	res, err := a.Ask(context.Background(), "What's the weather in Tokyo?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny and 22C in Tokyo.", res.Answer)

	require.Len(t, model.seen, 2)
	assert.Len(t, model.seen[0].Tools, 2)
	last := model.seen[1].Messages[len(model.seen[1].Messages)-1]
	assert.Equal(t, agent.RoleTool, last.Role)
	assert.Equal(t, "Sunny, 22C in Tokyo", last.Content)
}

func TestNew_UnknownToolKeepsConversationGoing(t *testing.T) {
	dialer := newTestDialer(map[string]*mcpserver.MCPServer{"weather": weatherServer()})
	model := &scriptedModel{replies: []*agent.Completion{
		{ToolCalls: []agent.ToolInvocation{{ID: "c1", Name: "weather__forecast", Arguments: "{}"}}},
		{Content: "Sorry, no forecast tool."},
	}}

	a, err := New(context.Background(), testConfig("weather"), zerolog.Nop(),
		WithDialer(dialer.dial), WithModelService(model))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Ask(context.Background(), "forecast?")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, no forecast tool.", res.Answer)
	assert.Equal(t, "Tool 'weather__forecast' is not registered.", res.Messages[3].Content)
}

func TestNew_StartupFailureClosesEverything(t *testing.T) {
	// "broken" has no server, so its launch fails.
	dialer := newTestDialer(map[string]*mcpserver.MCPServer{
		"weather": weatherServer(),
		"notes":   notesServer(),
	})

	a, err := New(context.Background(), testConfig("weather", "notes", "broken"), zerolog.Nop(),
		WithDialer(dialer.dial), WithModelService(&scriptedModel{}))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, provider.ErrLaunch)

	// Every session that came up was closed again.
	for name, closes := range dialer.closes {
		assert.LessOrEqual(t, closes.Load(), int32(1), name)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("weather")
	cfg.Model.Backend = "gemini"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "model.backend")
}

func TestApp_MetricsAndStatus(t *testing.T) {
	dialer := newTestDialer(map[string]*mcpserver.MCPServer{"weather": weatherServer()})
	cfg := testConfig("weather")
	cfg.Metrics.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg, zerolog.Nop(),
		WithDialer(dialer.dial), WithModelService(&scriptedModel{}))
	require.NoError(t, err)

	st := a.Status()
	assert.Equal(t, map[string]string{"weather": "ready"}, st.Providers)
	assert.Equal(t, 1, st.Tools)

	addr := a.MetricsAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	var body struct {
		Status    string            `json:"status"`
		Providers map[string]string `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, int32(1), dialer.closes["weather"].Load())
	assert.Equal(t, map[string]string{"weather": "closed"}, a.Status().Providers)
}
