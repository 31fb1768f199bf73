package detector

import (
	"context"
	"net"
	"time"
)

// TCPDetector reports a service up when a TCP connection to Addr succeeds.
type TCPDetector struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDetector) Detect(ctx context.Context) Result {
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return Result{}
	}
	_ = conn.Close()
	return Result{Up: true}
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Addr }
