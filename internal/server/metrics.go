package server

import (
	"net"
	"net/http"
	"time"
)

// NewMetricsServer serves h at /metrics on addr. Like NewServer, it binds
// before returning.
func NewMetricsServer(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}
