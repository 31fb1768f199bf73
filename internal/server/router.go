package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clawpanel/internal/supervisor"
)

// Supervisor is the subset of *supervisor.Supervisor the API exposes.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
	Refresh(ctx context.Context) supervisor.Snapshot
	StartAll(ctx context.Context) (supervisor.Snapshot, error)
	StopAll(ctx context.Context) (supervisor.Snapshot, error)
	Services() []supervisor.Service
}

// Router provides embeddable HTTP handlers for a dashboard.
// Endpoints:
//   GET  {basePath}/status    query: service=... (optional, single service)
//   POST {basePath}/refresh
//   POST {basePath}/start     409 while another start/stop runs
//   POST {basePath}/stop      409 while another start/stop runs
//   GET  {basePath}/services
//   GET  {basePath}/healthz
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      Supervisor
	basePath string
	opCtx    context.Context
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start, /api/stop.
func NewRouter(sup Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), opCtx: context.Background()}
}

// WithContext sets the context start and stop run under. It outlives single
// requests so a disconnecting dashboard does not abort a sequence halfway;
// cancelling it interrupts pending settle delays.
func (r *Router) WithContext(ctx context.Context) *Router {
	if ctx != nil {
		r.opCtx = ctx
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/refresh", r.handleRefresh)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/services", r.handleServices)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound before returning so address errors surface here.
func NewServer(ctx context.Context, addr, basePath string, sup Supervisor) (*http.Server, error) {
	return NewTLSServer(ctx, addr, basePath, sup, nil)
}

// NewTLSServer is NewServer over HTTPS; a nil tc serves plain HTTP.
func NewTLSServer(ctx context.Context, addr, basePath string, sup Supervisor, tc *tls.Config) (*http.Server, error) {
	r := NewRouter(sup, basePath).WithContext(ctx)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc != nil {
		ln = tls.NewListener(ln, tc)
	}
	server := &http.Server{
		TLSConfig:         tc,
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// start waits for every settle delay before answering
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResponse is the snapshot as served to dashboards.
type StatusResponse struct {
	Services   []supervisor.ServiceStatus `json:"services"`
	CapturedAt time.Time                  `json:"captured_at"`
	TunnelURL  string                     `json:"tunnel_url"`
}

func newStatusResponse(s supervisor.Snapshot) StatusResponse {
	svcs := s.Services
	if svcs == nil {
		svcs = []supervisor.ServiceStatus{}
	}
	return StatusResponse{Services: svcs, CapturedAt: s.CapturedAt, TunnelURL: s.TunnelURL()}
}

// ServiceInfo describes how a service is probed, launched and stopped.
type ServiceInfo struct {
	Name   string `json:"name"`
	Probe  string `json:"probe"`
	Launch string `json:"launch,omitempty"`
	Stop   string `json:"stop,omitempty"`
	Settle string `json:"settle"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.sup.Snapshot()
	name := c.Query("service")
	if name == "" {
		writeJSON(c, http.StatusOK, newStatusResponse(snap))
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	st, ok := snap.Get(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleRefresh(c *gin.Context) {
	writeJSON(c, http.StatusOK, newStatusResponse(r.sup.Refresh(c.Request.Context())))
}

func (r *Router) handleStart(c *gin.Context) {
	snap, err := r.sup.StartAll(r.opCtx)
	r.writeOpResult(c, snap, err)
}

func (r *Router) handleStop(c *gin.Context) {
	snap, err := r.sup.StopAll(r.opCtx)
	r.writeOpResult(c, snap, err)
}

func (r *Router) writeOpResult(c *gin.Context, snap supervisor.Snapshot, err error) {
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, newStatusResponse(snap))
	case errors.Is(err, supervisor.ErrBusy):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleServices(c *gin.Context) {
	svcs := r.sup.Services()
	out := make([]ServiceInfo, 0, len(svcs))
	for _, s := range svcs {
		info := ServiceInfo{Name: s.Name, Settle: s.Settle.String()}
		if s.Detector != nil {
			info.Probe = s.Detector.Describe()
		}
		if s.Launch != nil {
			info.Launch = s.Launch.CommandLine()
		}
		if s.Stop.Kind != "" {
			info.Stop = s.Stop.String()
		}
		out = append(out, info)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
