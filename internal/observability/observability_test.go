package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_MetricsExposesDispatchCounters(t *testing.T) {
	RecordToolDispatch("playwright", "success", 20*time.Millisecond, 120)
	RecordQuery("answered", time.Second, 2)

	rec := httptest.NewRecorder()
	NewRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mcpagent_tool_dispatch_total{outcome="success",provider="playwright"}`)
	assert.Contains(t, body, "mcpagent_query_rounds")
}

func TestRouter_Healthz(t *testing.T) {
	tests := []struct {
		name      string
		providers map[string]string
		code      int
		status    string
	}{
		{"all ready", map[string]string{"a": "ready", "b": "ready"}, http.StatusOK, "ok"},
		{"one failed", map[string]string{"a": "ready", "b": "failed"}, http.StatusServiceUnavailable, "degraded"},
		{"none", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := func() map[string]string { return tt.providers }
			rec := httptest.NewRecorder()
			NewRouter(health).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.code, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestStartServer(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", nil, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestAuditLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))

	RecordToolAudit(context.Background(), "playwright__browser_navigate", "conv-1", "success",
		map[string]any{"chars": 42})
	RecordProviderAudit(context.Background(), "playwright", "ready", nil)
	require.NoError(t, CloseAuditLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "tool", first["type"])
	assert.Equal(t, "dispatch:playwright__browser_navigate", first["action"])
	assert.Equal(t, "conv-1", first["conversation"])
}

func TestAuditLogger_DiscardsByDefault(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordToolAudit(context.Background(), "x__y", "", "error", nil)
	})
}
