package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/compute-mcp-server/internal/health"
	"github.com/codex-k8s/compute-mcp-server/internal/protocol"
	"github.com/codex-k8s/compute-mcp-server/internal/telemetry"
)

func newApp(t *testing.T, state *health.State, apiKey string) *App {
	t.Helper()
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mcp"))
	})
	a, err := New(context.Background(), Options{
		Addr:       "127.0.0.1:0",
		MCPPath:    "/mcp",
		MCPHandler: mcpHandler,
		APIKey:     apiKey,
		Health:     state,
		Metrics:    telemetry.NewMetrics(),
		Name:       "compute-mcp-server",
		Version:    "1.0",
		Tools:      []string{"execute_code", "engine_status"},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return a
}

func get(t *testing.T, handler http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func readyState() *health.State {
	state := health.New(nil)
	state.MarkStarted()
	state.MarkEngineAvailable()
	state.MarkEngineWarmedUp()
	state.MarkDispatchConnected()
	state.MarkTransportConnected()
	return state
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Options{Health: health.New(nil)})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{MCPHandler: http.NotFoundHandler()})
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	state := health.New(nil)
	state.MarkStarted()
	h := newApp(t, state, "").Handler()

	rec := get(t, h, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", nil).Code)

	state.MarkEngineAvailable()
	state.MarkEngineWarmedUp()
	state.MarkDispatchConnected()
	state.MarkTransportConnected()
	rec = get(t, h, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report["status"])
	assert.NotContains(t, report, "failedChecks")
}

func TestProbesBypassAuth(t *testing.T) {
	h := newApp(t, readyState(), "secret").Handler()
	assert.Equal(t, http.StatusOK, get(t, h, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/info", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics", nil).Code)
}

func TestMCPRequiresBearer(t *testing.T) {
	h := newApp(t, readyState(), "secret").Handler()

	rec := get(t, h, "/mcp", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	var envelope protocol.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, protocol.KindAuthentication, envelope.Error)

	rec = get(t, h, "/mcp", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, h, "/mcp", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mcp", rec.Body.String())

	metrics := get(t, h, "/metrics", nil).Body.String()
	assert.Contains(t, metrics, `compute_mcp_auth_failures_total{reason="missing_token"} 1`)
	assert.Contains(t, metrics, `compute_mcp_auth_failures_total{reason="invalid_token"} 1`)
}

func TestMCPWithoutKeyIsOpen(t *testing.T) {
	h := newApp(t, readyState(), "").Handler()
	assert.Equal(t, http.StatusOK, get(t, h, "/mcp", nil).Code)
}

func TestInfo(t *testing.T) {
	h := newApp(t, readyState(), "secret").Handler()
	rec := get(t, h, "/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "compute-mcp-server", info.Name)
	assert.Equal(t, "http", info.Transport)
	assert.Equal(t, "bearer", info.Auth)
	assert.Equal(t, "/mcp", info.Endpoints["mcp"])
	assert.Equal(t, []string{"execute_code", "engine_status"}, info.Tools)
}

func TestServeMarksTransport(t *testing.T) {
	state := health.New(nil)
	a := newApp(t, state, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		return state.Snapshot().Checks[health.CheckTransportConnected]
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.False(t, state.Snapshot().Checks[health.CheckTransportConnected])
}

func TestServeBeforeMount(t *testing.T) {
	state := health.New(nil)
	state.MarkStarted()
	a, err := New(context.Background(), Options{
		Addr:    "127.0.0.1:0",
		Health:  state,
		Metrics: telemetry.NewMetrics(),
		Name:    "compute-mcp-server",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	ln, err := a.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	base := "http://" + ln.Addr().String()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(base + "/health")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	var report health.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, health.StatusInitializing, report.Status)
	assert.False(t, report.Checks[health.CheckTransportConnected])

	resp, err = http.Get(base + "/mcp")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	a.Mount(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mcp"))
	}), []string{"execute_code"})
	assert.True(t, state.Snapshot().Checks[health.CheckTransportConnected])

	resp, err = http.Get(base + "/mcp")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mcp", string(body))

	rec := get(t, a.Handler(), "/info", nil)
	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, []string{"execute_code"}, info.Tools)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
