package clawpanel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/clawpanel/internal/config"
	"github.com/loykin/clawpanel/internal/env"
	"github.com/loykin/clawpanel/internal/metrics"
	"github.com/loykin/clawpanel/internal/process"
	iapi "github.com/loykin/clawpanel/internal/server"
	"github.com/loykin/clawpanel/internal/supervisor"
	"github.com/loykin/clawpanel/internal/terminator"
	itls "github.com/loykin/clawpanel/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Supervisor = supervisor.Supervisor

type Service = supervisor.Service

type Snapshot = supervisor.Snapshot

type ServiceStatus = supervisor.ServiceStatus

type State = supervisor.State

const (
	StateUnknown = supervisor.StateUnknown
	StateUp      = supervisor.StateUp
	StateDown    = supervisor.StateDown
)

const (
	ServiceGateway = supervisor.ServiceGateway
	ServiceBridge  = supervisor.ServiceBridge
	ServiceTunnel  = supervisor.ServiceTunnel
)

// ErrBusy is returned by StartAll and StopAll while another of them runs.
var ErrBusy = supervisor.ErrBusy

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// New builds a Supervisor for the gateway, bridge and tunnel described by c.
// Launched services inherit the OS environment overlaid with c's env_files
// and env entries. A nil log uses slog.Default().
func New(c *Config, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	pairs, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	e := env.New()
	e.FromOS()
	e.SetAll(pairs)

	services, err := c.Services()
	if err != nil {
		return nil, err
	}
	return supervisor.New(services, supervisor.Options{
		Launcher: process.NewLauncher(e, log),
		Terminator: terminator.New(
			terminator.WithTimeout(c.Supervisor.KillTimeout),
			terminator.WithLogger(log),
		),
		Logger:       log,
		PollInterval: c.Supervisor.PollInterval,
		StopSettle:   c.Supervisor.StopSettle,
		WaitReady:    c.Supervisor.WaitReady,
	}), nil
}

// Handler returns the dashboard API for s mounted under basePath. Start and
// stop run under ctx rather than the request's context.
func Handler(ctx context.Context, s *Supervisor, basePath string) http.Handler {
	return iapi.NewRouter(s, basePath).WithContext(ctx).Handler()
}

// NewHTTPServer serves the dashboard API on addr.
func NewHTTPServer(ctx context.Context, addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(ctx, addr, basePath, s)
}

// NewServer serves the dashboard API as c.Server describes it, over HTTPS
// when server.tls is enabled. A non-empty listen overrides server.listen.
func NewServer(ctx context.Context, c *Config, listen string, s *Supervisor) (*http.Server, error) {
	tc, err := itls.Setup(c.Server.TLS)
	if err != nil {
		return nil, err
	}
	if listen == "" {
		listen = c.Server.Listen
	}
	return iapi.NewTLSServer(ctx, listen, c.Server.BasePath, s, tc)
}

// Metrics helpers
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// ServeMetrics serves /metrics on addr.
func ServeMetrics(addr string) (*http.Server, error) {
	return iapi.NewMetricsServer(addr, metrics.Handler())
}
