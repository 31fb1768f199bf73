package detector

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPDetector reports a service up when a GET against URL answers 2xx.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{URL: url, Timeout: timeout, Client: newProbeClient(timeout)}
}

func (d *HTTPDetector) Detect(ctx context.Context) Result {
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()
	return Result{Up: ProbeHTTP(ctx, d.Client, d.URL)}
}

func (d *HTTPDetector) Describe() string { return "http:" + d.URL }

// ProbeHTTP issues a GET to url and reports whether the status code is 2xx.
// Network errors, timeouts and non-success statuses all yield false.
func ProbeHTTP(ctx context.Context, client *http.Client, url string) bool {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
