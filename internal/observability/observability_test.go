package observability

import (
	"bufio"
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	RecordRunStarted("mock")
	RecordRunFinished("mock", "completed", 50*time.Millisecond)
	SetRegistrySize(7)
	RecordRunsEvicted(2)
	RecordAgentRun("mock", 10*time.Millisecond, false)
	RecordGatewayAttempt("openai", true)
	RecordGatewayFallback("openrouter")
	RecordHTTPRequest("/api/runs", 202)
	RecordHTTPRequest("/api/runs", 429)

	body := scrape(t)
	for _, line := range []string{
		`openrunner_runs_started_total{agent_type="mock"} 1`,
		`openrunner_runs_finished_total{agent_type="mock",status="completed"} 1`,
		`openrunner_active_runs 0`,
		`openrunner_registry_runs 7`,
		`openrunner_runs_evicted_total 2`,
		`openrunner_agent_run_total{agent="mock",status="error"} 1`,
		`openrunner_agent_errors_total{agent="mock"} 1`,
		`openrunner_gateway_attempts_total{provider="openai",status="success"} 1`,
		`openrunner_gateway_fallbacks_total{provider="openrouter"} 1`,
		`openrunner_http_requests_total{code="2xx",route="/api/runs"} 1`,
		`openrunner_http_requests_total{code="4xx",route="/api/runs"} 1`,
	} {
		assert.Contains(t, body, line)
	}
	assert.Contains(t, body, `openrunner_run_duration_seconds_count{agent_type="mock"} 1`)
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = GetAuditLogger().Close() })

	ctx := context.Background()
	RecordRunAudit(ctx, "run.submit", "run_abc", "u1", "running")
	RecordProviderAudit(ctx, "register", "openai", "api")
	RecordConfigAudit(ctx, "config.reload", "system", map[string]interface{}{"providers": 3})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), scanner.Text())
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 3)

	assert.Equal(t, "run", entries[0]["type"])
	assert.Equal(t, "run.submit", entries[0]["action"])
	assert.Equal(t, "u1", entries[0]["actor"])
	assert.Equal(t, "run_abc", entries[0]["metadata"].(map[string]interface{})["run_id"])

	assert.Equal(t, "register:openai", entries[1]["action"])
	assert.Equal(t, "success", entries[1]["status"])

	assert.Equal(t, "config", entries[2]["type"])
	assert.True(t, strings.HasPrefix(entries[2]["action"].(string), "config."))
}
