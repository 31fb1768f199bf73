package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/clawpanel"
	"github.com/loykin/clawpanel/internal/logger"
	"github.com/loykin/clawpanel/pkg/client"
)

const shutdownTimeout = 5 * time.Second

type command struct {
	globals *GlobalFlags
	out     io.Writer
}

// backend is what status, start, stop and watch need, whether the
// supervisor runs in this process or behind a daemon.
type backend interface {
	Status(ctx context.Context) (client.Status, error)
	Refresh(ctx context.Context) (client.Status, error)
	StartAll(ctx context.Context) (client.Status, error)
	StopAll(ctx context.Context) (client.Status, error)
}

// app is a supervisor assembled from configuration.
type app struct {
	cfg    *clawpanel.Config
	log    *slog.Logger
	sup    *clawpanel.Supervisor
	closer io.Closer
}

func (a *app) Close() error { return a.closer.Close() }

// assemble loads the config, builds its logger and the supervisor.
func assemble(configPath string) (*app, error) {
	cfg, err := clawpanel.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	sup, err := clawpanel.New(cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, sup: sup, closer: closer}, nil
}

// local adapts an in-process supervisor to the daemon's wire types.
type local struct {
	sup *clawpanel.Supervisor
}

func (l local) Status(ctx context.Context) (client.Status, error) {
	// a fresh supervisor holds only unknown states
	return toStatus(l.sup.Refresh(ctx)), nil
}

func (l local) Refresh(ctx context.Context) (client.Status, error) {
	return toStatus(l.sup.Refresh(ctx)), nil
}

func (l local) StartAll(ctx context.Context) (client.Status, error) {
	snap, err := l.sup.StartAll(ctx)
	return toStatus(snap), err
}

func (l local) StopAll(ctx context.Context) (client.Status, error) {
	snap, err := l.sup.StopAll(ctx)
	return toStatus(snap), err
}

func toStatus(s clawpanel.Snapshot) client.Status {
	out := client.Status{
		Services:   make([]client.ServiceStatus, 0, len(s.Services)),
		CapturedAt: s.CapturedAt,
		TunnelURL:  s.TunnelURL(),
	}
	for _, st := range s.Services {
		out.Services = append(out.Services, client.ServiceStatus{Name: st.Name, State: string(st.State), Detail: st.Detail})
	}
	return out
}

// open returns the daemon behind apiURL, or a local supervisor when empty.
func (c *command) open(ctx context.Context, apiURL string, timeout time.Duration) (backend, func(), error) {
	if apiURL != "" {
		cl := client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
		if !cl.IsReachable(ctx) {
			return nil, nil, fmt.Errorf("daemon not reachable at %s - start it first with 'clawpanel serve'", apiURL)
		}
		return cl, func() {}, nil
	}
	a, err := assemble(c.globals.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return local{sup: a.sup}, func() { _ = a.Close() }, nil
}

// Status prints the snapshot, or one service when f.Service is set.
func (c *command) Status(f StatusFlags) error {
	return c.status(context.Background(), f)
}

func (c *command) status(ctx context.Context, f StatusFlags) error {
	b, done, err := c.open(ctx, f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer done()

	var st client.Status
	if f.Refresh {
		st, err = b.Refresh(ctx)
	} else {
		st, err = b.Status(ctx)
	}
	if err != nil {
		return err
	}
	if f.Service == "" {
		return printJSON(c.out, st)
	}
	one, ok := st.Get(f.Service)
	if !ok {
		return fmt.Errorf("unknown service %q", f.Service)
	}
	return printJSON(c.out, one)
}

// Start runs the ordered start sequence and prints the final snapshot.
func (c *command) Start(f OpFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.operate(ctx, f, backend.StartAll)
}

// Stop terminates every service and prints the final snapshot.
func (c *command) Stop(f OpFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.operate(ctx, f, backend.StopAll)
}

func (c *command) operate(ctx context.Context, f OpFlags, op func(backend, context.Context) (client.Status, error)) error {
	b, done, err := c.open(ctx, f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer done()

	st, err := op(b, ctx)
	if errors.Is(err, client.ErrBusy) || errors.Is(err, clawpanel.ErrBusy) {
		return fmt.Errorf("another start or stop is in progress")
	}
	if err != nil {
		return err
	}
	return printJSON(c.out, st)
}

// Watch prints a snapshot every interval until interrupted or f.Count
// snapshots were printed.
func (c *command) Watch(ctx context.Context, f WatchFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.watch(ctx, f)
}

func (c *command) watch(ctx context.Context, f WatchFlags) error {
	if f.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	b, done, err := c.open(ctx, f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	defer done()

	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for n := 0; ; {
		st, err := b.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := printJSON(c.out, st); err != nil {
			return err
		}
		n++
		if f.Count > 0 && n >= f.Count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Serve runs the poller, the API and the optional metrics listener until
// SIGINT or SIGTERM.
func (c *command) Serve(f ServeFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, f)
}

func (c *command) serve(ctx context.Context, f ServeFlags) error {
	a, err := assemble(c.globals.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sup.Run(gctx)
		return nil
	})

	var servers []*http.Server
	if a.cfg.Metrics.Enabled {
		if err := clawpanel.RegisterMetricsDefault(); err != nil {
			a.log.Warn("failed to register metrics", "error", err)
		}
		ms, err := clawpanel.ServeMetrics(a.cfg.Metrics.Listen)
		if err != nil {
			a.log.Error("metrics server", "error", err)
		} else {
			a.log.Info("serving metrics", "addr", ms.Addr)
			servers = append(servers, ms)
		}
	}

	srv, err := clawpanel.NewServer(gctx, a.cfg, f.Listen, a.sup)
	if err != nil {
		cancel()
		shutdown(a.log, servers)
		_ = g.Wait()
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	servers = append(servers, srv)
	a.log.Info("clawpanel serving", "addr", srv.Addr, "base_path", a.cfg.Server.BasePath, "tls", a.cfg.Server.TLS.Enabled)

	if f.StartOnBoot {
		g.Go(func() error {
			if _, err := a.sup.StartAll(gctx); err != nil && gctx.Err() == nil {
				a.log.Warn("start on boot", "error", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	a.log.Info("shutting down")
	shutdown(a.log, servers)
	return g.Wait()
}

func shutdown(log *slog.Logger, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			log.Warn("server shutdown", "addr", s.Addr, "error", err)
		}
	}
}
