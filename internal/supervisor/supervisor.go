package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/clawpanel/internal/metrics"
	"github.com/loykin/clawpanel/internal/process"
	"github.com/loykin/clawpanel/internal/terminator"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultStopSettle   = 2 * time.Second
	defaultReadyPoll    = 250 * time.Millisecond
)

// ErrBusy is returned when StartAll or StopAll is called while another of
// them is still in flight.
var ErrBusy = errors.New("supervisor: start/stop already in progress")

// Launcher spawns a service without waiting for it.
type Launcher interface {
	Launch(spec process.Spec)
}

// Terminator kills every process a target resolves to.
type Terminator interface {
	Terminate(ctx context.Context, target terminator.Target) terminator.Outcome
}

// Options configures a Supervisor. Zero values select the defaults.
type Options struct {
	Launcher     Launcher
	Terminator   Terminator
	Logger       *slog.Logger
	PollInterval time.Duration
	StopSettle   time.Duration
	// WaitReady replaces each fixed settle delay with polling the launched
	// service until it is up, bounded by the same delay.
	WaitReady bool
	ReadyPoll time.Duration
}

// Supervisor probes a fixed set of services and coordinates ordered start and
// stop sequences. Snapshot is lock-free; refreshes are serialized; StartAll
// and StopAll exclude each other.
type Supervisor struct {
	services []Service
	launcher Launcher
	term     Terminator
	log      *slog.Logger

	pollInterval time.Duration
	stopSettle   time.Duration
	waitReady    bool
	readyPoll    time.Duration

	snap      atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	opMu      sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Supervisor for services, which must be in start order.
func New(services []Service, opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		services:     append([]Service(nil), services...),
		launcher:     opts.Launcher,
		term:         opts.Terminator,
		log:          log,
		pollInterval: opts.PollInterval,
		stopSettle:   opts.StopSettle,
		waitReady:    opts.WaitReady,
		readyPoll:    opts.ReadyPoll,
		sleep:        sleepCtx,
	}
	if s.launcher == nil {
		s.launcher = process.NewLauncher(nil, log)
	}
	if s.term == nil {
		s.term = terminator.New(terminator.WithLogger(log))
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.stopSettle <= 0 {
		s.stopSettle = DefaultStopSettle
	}
	if s.readyPoll <= 0 {
		s.readyPoll = defaultReadyPoll
	}
	s.snap.Store(initialSnapshot(s.services))
	return s
}

// Services returns the supervised services in start order.
func (s *Supervisor) Services() []Service { return append([]Service(nil), s.services...) }

// Snapshot returns the latest published status without probing.
// Before the first refresh every service is unknown.
func (s *Supervisor) Snapshot() Snapshot { return s.snap.Load().clone() }

// Refresh probes every service concurrently and publishes a new snapshot.
// A failing probe only marks its own service down.
func (s *Supervisor) Refresh(ctx context.Context) Snapshot {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	began := time.Now()
	statuses := make([]ServiceStatus, len(s.services))
	var g errgroup.Group
	for i, svc := range s.services {
		g.Go(func() error {
			statuses[i] = probe(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	next := &Snapshot{Services: statuses, CapturedAt: time.Now()}
	prev := s.snap.Swap(next)
	s.recordTransitions(prev, next)
	metrics.ObserveRefreshDuration(time.Since(began).Seconds())
	return next.clone()
}

func probe(ctx context.Context, svc Service) ServiceStatus {
	st := ServiceStatus{Name: svc.Name, State: StateUnknown}
	if svc.Detector == nil {
		return st
	}
	res := svc.Detector.Detect(ctx)
	if res.Up {
		st.State = StateUp
		st.Detail = res.Detail
	} else {
		st.State = StateDown
	}
	return st
}

func (s *Supervisor) recordTransitions(prev, next *Snapshot) {
	for _, st := range next.Services {
		metrics.SetServiceUp(st.Name, st.Up())
		from := StateUnknown
		if prev != nil {
			if p, ok := prev.Get(st.Name); ok {
				from = p.State
			}
		}
		if from == st.State {
			continue
		}
		metrics.RecordStateTransition(st.Name, string(from), string(st.State))
		s.log.Info("service state changed", "service", st.Name, "from", from, "to", st.State, "detail", st.Detail)
	}
}

// StartAll launches, in order, every service that is not already up, pausing
// for each launched service's settle delay, and finishes with a Refresh.
// It returns ErrBusy when a start or stop is in flight, and ctx.Err() when
// a settle delay is interrupted.
func (s *Supervisor) StartAll(ctx context.Context) (Snapshot, error) {
	if !s.opMu.TryLock() {
		metrics.IncOperation("start", "busy")
		return s.Snapshot(), ErrBusy
	}
	defer s.opMu.Unlock()

	snap := s.Snapshot()
	if snap.CapturedAt.IsZero() {
		snap = s.Refresh(ctx)
	}
	// Steps before the first launch have nothing to wait for. From the first
	// launch on every step settles, so the final refresh never comes sooner
	// than the remaining boot chain allows.
	launched := false
	for _, svc := range s.services {
		switch {
		case svc.Launch == nil:
		case snap.isUp(svc.Name):
			s.log.Debug("service already up, not launching", "service", svc.Name)
		default:
			s.launcher.Launch(*svc.Launch)
			launched = true
		}
		if !launched {
			continue
		}
		if err := s.settle(ctx, svc); err != nil {
			metrics.IncOperation("start", "canceled")
			return s.Snapshot(), err
		}
	}
	metrics.IncOperation("start", "ok")
	return s.Refresh(ctx), nil
}

// settle waits after launching svc: a fixed delay, or with WaitReady until
// the service answers or the delay elapses.
func (s *Supervisor) settle(ctx context.Context, svc Service) error {
	if svc.Settle <= 0 {
		return ctx.Err()
	}
	if !s.waitReady || svc.Detector == nil {
		return s.sleep(ctx, svc.Settle)
	}
	deadline := time.Now().Add(svc.Settle)
	for {
		if svc.Detector.Detect(ctx).Up {
			s.log.Debug("service ready", "service", svc.Name)
			return nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return ctx.Err()
		}
		if err := s.sleep(ctx, min(s.readyPoll, left)); err != nil {
			return err
		}
	}
}

// StopAll issues exactly one termination per configured target, in reverse
// start order and regardless of last known state, then waits the stop
// settle delay and refreshes.
func (s *Supervisor) StopAll(ctx context.Context) (Snapshot, error) {
	if !s.opMu.TryLock() {
		metrics.IncOperation("stop", "busy")
		return s.Snapshot(), ErrBusy
	}
	defer s.opMu.Unlock()

	for i := len(s.services) - 1; i >= 0; i-- {
		svc := s.services[i]
		if svc.Stop.Kind == "" {
			continue
		}
		out := s.term.Terminate(ctx, svc.Stop)
		s.log.Debug("stop issued", "service", svc.Name, "target", svc.Stop.String(), "matched", len(out.Matched), "killed", out.Killed)
	}
	if err := s.sleep(ctx, s.stopSettle); err != nil {
		metrics.IncOperation("stop", "canceled")
		return s.Snapshot(), err
	}
	metrics.IncOperation("stop", "ok")
	return s.Refresh(ctx), nil
}

// Run refreshes immediately and then once per poll interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	s.Refresh(ctx)
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
