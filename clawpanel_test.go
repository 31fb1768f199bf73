package clawpanel

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, gatewayURL string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	body := fmt.Sprintf(`
env = ["CLAWPANEL_TEST=1"]

[gateway]
url = %q
port = %d
executable = ""

[bridge]
url = "http://127.0.0.1:%[2]d"
runtime = ""
pattern = "clawpanel-facade-no-such-bridge"

[tunnel]
api_url = "http://127.0.0.1:%[2]d/api/tunnels"
executable = ""
process_name = "clawpanel-facade-no-such-tunnel"

[probe]
timeout = "300ms"
`, gatewayURL, port)
	p := filepath.Join(t.TempDir(), "clawpanel.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestFacadeRefresh(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	cfg, err := LoadConfig(writeConfig(t, gw.URL))
	require.NoError(t, err)
	sup, err := New(cfg, nil)
	require.NoError(t, err)

	snap := sup.Snapshot()
	require.Len(t, snap.Services, 3)
	assert.Equal(t, StateUnknown, snap.Services[0].State)

	snap = sup.Refresh(context.Background())
	gwSt, ok := snap.Get(ServiceGateway)
	require.True(t, ok)
	assert.Equal(t, StateUp, gwSt.State)
	br, _ := snap.Get(ServiceBridge)
	assert.Equal(t, StateDown, br.State)
	assert.Empty(t, snap.TunnelURL())
}

func TestFacadeBusyIsSupervisorError(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", ErrBusy), ErrBusy)
}

func TestFacadeEnvFileError(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err = New(cfg, nil)
	require.Error(t, err)
}

func TestFacadeHandlerAndServer(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	sup, err := New(cfg, nil)
	require.NoError(t, err)

	h := Handler(context.Background(), sup, "/api")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unknown"`)

	srv, err := NewHTTPServer(context.Background(), "127.0.0.1:0", "/api", sup)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	resp, err := http.Get("http://" + srv.Addr + "/api/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFacadeHandlerMountsInEcho(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	sup, err := New(cfg, nil)
	require.NoError(t, err)

	e := echo.New()
	h := echo.WrapHandler(Handler(context.Background(), sup, "/panel"))
	e.Any("/panel", h)
	e.Any("/panel/*", h)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panel/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ServiceGateway)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFacadeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetricsDefault())

	srv, err := ServeMetrics("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, b)
	assert.NotNil(t, MetricsHandler())
}

func TestFacadeServerTLS(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	sup, err := New(cfg, nil)
	require.NoError(t, err)

	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.Dir = t.TempDir()
	cfg.Server.TLS.AutoGenerate = true
	srv, err := NewServer(context.Background(), cfg, "127.0.0.1:0", sup)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	require.NotNil(t, srv.TLSConfig)

	cfg.Server.TLS.Dir = t.TempDir()
	cfg.Server.TLS.AutoGenerate = false
	_, err = NewServer(context.Background(), cfg, "127.0.0.1:0", sup)
	require.Error(t, err)
}
