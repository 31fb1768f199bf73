package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clawpanel/pkg/client"
)

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// writeConfig points every service at a closed port and launches nothing.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	port := closedPort(t)
	body := fmt.Sprintf(`
[supervisor]
poll_interval = "50ms"
stop_settle = "10ms"

[log]
level = "error"

[server]
listen = "127.0.0.1:0"

[probe]
timeout = "200ms"

[gateway]
url = "http://127.0.0.1:%[1]d"
port = %[1]d
executable = ""

[bridge]
url = "http://127.0.0.1:%[1]d"
runtime = ""
pattern = "clawpanel-test-no-such-bridge"

[tunnel]
api_url = "http://127.0.0.1:%[1]d/api/tunnels"
executable = ""
process_name = "clawpanel-test-no-such-tunnel"
%[2]s
`, port, extra)
	p := filepath.Join(t.TempDir(), "clawpanel.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newCommand(configPath string) (command, *bytes.Buffer) {
	var out bytes.Buffer
	return command{globals: &GlobalFlags{ConfigPath: configPath}, out: &out}, &out
}

func decodeStatus(t *testing.T, b *bytes.Buffer) client.Status {
	t.Helper()
	var st client.Status
	require.NoError(t, json.Unmarshal(b.Bytes(), &st), b.String())
	return st
}

const daemonStatus = `{"services":[{"name":"gateway","state":"up"},{"name":"bridge","state":"up"},{"name":"tunnel","state":"up","detail":"https://abc123.ngrok.io"}],"captured_at":"2026-01-02T03:04:05Z","tunnel_url":"https://abc123.ngrok.io"}`

func fakeDaemon(t *testing.T, busy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(daemonStatus)) }
	op := func(w http.ResponseWriter, r *http.Request) {
		if busy {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
			return
		}
		ok(w, r)
	}
	mux.HandleFunc("GET /api/status", ok)
	mux.HandleFunc("POST /api/refresh", ok)
	mux.HandleFunc("POST /api/start", op)
	mux.HandleFunc("POST /api/stop", op)
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusLocalProbesEverything(t *testing.T) {
	c, out := newCommand(writeConfig(t, ""))
	require.NoError(t, c.Status(StatusFlags{}))

	st := decodeStatus(t, out)
	require.Len(t, st.Services, 3)
	for i, name := range []string{"gateway", "bridge", "tunnel"} {
		assert.Equal(t, name, st.Services[i].Name)
		assert.Equal(t, "down", st.Services[i].State)
	}
	assert.Empty(t, st.TunnelURL)
	assert.False(t, st.CapturedAt.IsZero())
}

func TestStatusSingleService(t *testing.T) {
	c, out := newCommand(writeConfig(t, ""))
	require.NoError(t, c.Status(StatusFlags{Service: "tunnel"}))
	var one client.ServiceStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &one))
	assert.Equal(t, "tunnel", one.Name)

	err := c.Status(StatusFlags{Service: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestStatusBadConfig(t *testing.T) {
	c, _ := newCommand(writeConfig(t, "[metrics]\nenabled = true\nlisten = \"nope\"\n"))
	require.Error(t, c.Status(StatusFlags{}))

	c, _ = newCommand(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, c.Status(StatusFlags{}))
}

func TestStatusViaAPI(t *testing.T) {
	srv := fakeDaemon(t, false)
	c, out := newCommand("")
	require.NoError(t, c.Status(StatusFlags{APIUrl: srv.URL + "/api", APITimeout: time.Second, Refresh: true}))
	st := decodeStatus(t, out)
	assert.Equal(t, "https://abc123.ngrok.io", st.TunnelURL)
}

func TestUnreachableDaemon(t *testing.T) {
	c, _ := newCommand("")
	url := fmt.Sprintf("http://127.0.0.1:%d/api", closedPort(t))
	err := c.Status(StatusFlags{APIUrl: url, APITimeout: 500 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestStartStopLocal(t *testing.T) {
	c, out := newCommand(writeConfig(t, ""))
	require.NoError(t, c.Start(OpFlags{}))
	st := decodeStatus(t, out)
	require.Len(t, st.Services, 3)
	assert.Equal(t, "down", st.Services[0].State)

	out.Reset()
	require.NoError(t, c.Stop(OpFlags{}))
	st = decodeStatus(t, out)
	assert.Len(t, st.Services, 3)
}

func TestStartStopViaAPI(t *testing.T) {
	srv := fakeDaemon(t, false)
	c, out := newCommand("")
	require.NoError(t, c.Start(OpFlags{APIUrl: srv.URL + "/api", APITimeout: time.Second}))
	assert.Equal(t, "https://abc123.ngrok.io", decodeStatus(t, out).TunnelURL)

	out.Reset()
	require.NoError(t, c.Stop(OpFlags{APIUrl: srv.URL + "/api", APITimeout: time.Second}))
	assert.NotEmpty(t, out.String())
}

func TestBusyDaemon(t *testing.T) {
	srv := fakeDaemon(t, true)
	c, _ := newCommand("")
	err := c.Start(OpFlags{APIUrl: srv.URL + "/api", APITimeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in progress")
}

func TestWatchCount(t *testing.T) {
	srv := fakeDaemon(t, false)
	c, out := newCommand("")
	err := c.watch(context.Background(), WatchFlags{
		Interval:   10 * time.Millisecond,
		Count:      3,
		APIUrl:     srv.URL + "/api",
		APITimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out.String(), `"tunnel_url"`))
}

func TestWatchStopsOnCancel(t *testing.T) {
	c, _ := newCommand(writeConfig(t, ""))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, c.watch(ctx, WatchFlags{Interval: 50 * time.Millisecond}))
}

func TestWatchRejectsInterval(t *testing.T) {
	c, _ := newCommand("")
	require.Error(t, c.watch(context.Background(), WatchFlags{}))
}

func TestServeUntilCancelled(t *testing.T) {
	c, _ := newCommand(writeConfig(t, "[metrics]\nenabled = true\nlisten = \"127.0.0.1:0\"\n"))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.serve(ctx, ServeFlags{StartOnBoot: true}) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeBindError(t *testing.T) {
	c, _ := newCommand(writeConfig(t, ""))
	err := c.serve(context.Background(), ServeFlags{Listen: "256.0.0.1:bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server")
}

func TestServeOverTLS(t *testing.T) {
	dir := t.TempDir()
	c, _ := newCommand(writeConfig(t, fmt.Sprintf("[server.tls]\nenabled = true\nauto_generate = true\ndir = %q\n", dir)))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.serve(ctx, ServeFlags{}) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "tls.crt"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}
