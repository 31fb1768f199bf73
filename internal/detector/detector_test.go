package detector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProbeHTTPStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusMovedPermanently, false},
		{http.StatusNotFound, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("unexpected method %s", r.Method)
			}
			w.WriteHeader(tc.status)
		}))
		// Redirects are not followed so a 3xx is judged on its own status.
		client := newProbeClient(time.Second)
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		got := ProbeHTTP(context.Background(), client, srv.URL)
		srv.Close()
		if got != tc.want {
			t.Fatalf("status %d: got %v want %v", tc.status, got, tc.want)
		}
	}
}

func TestProbeHTTPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	d := NewHTTPDetector("http://"+addr, time.Second)
	if r := d.Detect(context.Background()); r.Up {
		t.Fatalf("refused connection must be down")
	}
}

func TestProbeHTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewHTTPDetector(srv.URL, 100*time.Millisecond)
	start := time.Now()
	if r := d.Detect(context.Background()); r.Up {
		t.Fatalf("hung service must be down")
	}
	if el := time.Since(start); el > 2*time.Second {
		t.Fatalf("probe not bounded by timeout: %v", el)
	}
}

func TestProbeHTTPInvalidURL(t *testing.T) {
	if ProbeHTTP(context.Background(), nil, "://bad") {
		t.Fatalf("invalid url must be down")
	}
}

func TestProbeTunnel(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		up     bool
		url    string
	}{
		{"empty", 200, `{"tunnels":[]}`, false, ""},
		{"one", 200, `{"tunnels":[{"name":"command_line","public_url":"https://abc123.ngrok.io","proto":"https"}]}`, true, "https://abc123.ngrok.io"},
		{"first wins", 200, `{"tunnels":[{"public_url":"https://a.example"},{"public_url":"https://b.example"}]}`, true, "https://a.example"},
		{"malformed", 200, `{"tunnels":[`, false, ""},
		{"missing field", 200, `{"uri":"/api/tunnels"}`, false, ""},
		{"missing url", 200, `{"tunnels":[{"name":"x"}]}`, true, ""},
		{"null url", 200, `{"tunnels":[{"public_url":null}]}`, true, ""},
		{"null first entry", 200, `{"tunnels":[null,{"public_url":"https://b.example"}]}`, true, ""},
		{"not json", 200, `<html>`, false, ""},
		{"server error", 500, `{"tunnels":[{"public_url":"https://x"}]}`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			d := NewTunnelDetector(srv.URL+"/api/tunnels", time.Second)
			r := d.Detect(context.Background())
			if r.Up != tc.up || r.Detail != tc.url {
				t.Fatalf("got %+v want up=%v url=%q", r, tc.up, tc.url)
			}
		})
	}
}

func TestProbeTunnelManagerAbsent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	up, url := ProbeTunnel(context.Background(), newProbeClient(time.Second), "http://"+addr+"/api/tunnels")
	if up || url != "" {
		t.Fatalf("absent tunnel manager must be (false, \"\"), got (%v, %q)", up, url)
	}
}

func TestTCPDetector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	d := TCPDetector{Addr: addr, Timeout: time.Second}
	if r := d.Detect(context.Background()); !r.Up {
		t.Fatalf("listening port must be up")
	}
	_ = ln.Close()
	if r := d.Detect(context.Background()); r.Up {
		t.Fatalf("closed port must be down")
	}
	if !strings.HasPrefix(d.Describe(), "tcp:") {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	good := []Config{
		{Kind: KindHTTP, URL: "http://127.0.0.1:1"},
		{Kind: KindTunnel, URL: "http://127.0.0.1:4040/api/tunnels"},
		{Kind: KindTCP, Addr: "127.0.0.1:1"},
		{Kind: KindCommand, Command: "true"},
	}
	for _, c := range good {
		d, err := New(c)
		if err != nil || d == nil {
			t.Fatalf("New(%+v): %v", c, err)
		}
	}
	bad := []Config{
		{Kind: KindHTTP},
		{Kind: KindTunnel, URL: "  "},
		{Kind: KindTCP},
		{Kind: KindCommand},
		{Kind: "bogus", URL: "http://x"},
	}
	for _, c := range bad {
		if _, err := New(c); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestNewAppliesDefaultTimeout(t *testing.T) {
	d, err := New(Config{Kind: KindHTTP, URL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	hd := d.(*HTTPDetector)
	if hd.Timeout != DefaultTimeout || hd.Client.Timeout != DefaultTimeout {
		t.Fatalf("expected default timeout, got %v / %v", hd.Timeout, hd.Client.Timeout)
	}
}
