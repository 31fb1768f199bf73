package detector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single probe when the config does not set one.
const DefaultTimeout = 3 * time.Second

// Kind selects the probe strategy of a Detector.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTunnel  Kind = "tunnel"
	KindTCP     Kind = "tcp"
	KindCommand Kind = "command"
)

// Result is the outcome of a single probe. Detail carries extra information
// surfaced to callers, e.g. the public URL of an active tunnel.
type Result struct {
	Up     bool   `json:"up"`
	Detail string `json:"detail,omitempty"`
}

// Detector is a strategy that determines if a service is reachable and healthy.
// Detect never returns an error: every failure is folded into Result{Up: false}.
// It must be safe for concurrent use.
type Detector interface {
	// Detect probes the service once, bounded by the detector's own timeout.
	Detect(ctx context.Context) Result
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Config describes a detector as it appears in configuration files.
type Config struct {
	Kind    Kind          `json:"kind" mapstructure:"kind"`
	URL     string        `json:"url" mapstructure:"url"`
	Addr    string        `json:"addr" mapstructure:"addr"`
	Command string        `json:"command" mapstructure:"command"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// New builds a Detector from cfg. Errors are configuration errors only.
func New(cfg Config) (Detector, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch cfg.Kind {
	case KindHTTP:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("detector %s requires url", cfg.Kind)
		}
		return NewHTTPDetector(cfg.URL, timeout), nil
	case KindTunnel:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("detector %s requires url", cfg.Kind)
		}
		return NewTunnelDetector(cfg.URL, timeout), nil
	case KindTCP:
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("detector %s requires addr", cfg.Kind)
		}
		return TCPDetector{Addr: cfg.Addr, Timeout: timeout}, nil
	case KindCommand:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("detector %s requires command", cfg.Kind)
		}
		return CommandDetector{Command: cfg.Command, Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

// newProbeClient returns a client dedicated to one detector. Keep-alives are
// disabled so every probe opens a fresh connection to the service.
func newProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}
