package terminator

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/loykin/clawpanel/internal/metrics"
)

// DefaultTimeout bounds each resolution and each tree kill.
const DefaultTimeout = 5 * time.Second

// Killer performs the OS-level hard kill of a single process.
type Killer interface {
	Kill(pid int32) error
}

// groupKiller is implemented by killers that can also signal a whole process group.
type groupKiller interface {
	KillGroup(pid int32) error
}

// Outcome reports what a termination attempt found and did. It is
// informational only; termination never fails.
type Outcome struct {
	Target  Target  `json:"target"`
	Matched []int32 `json:"matched"`
	Killed  int     `json:"killed"`
}

// Terminator resolves targets to processes and kills them with their
// descendants. It is safe for concurrent use.
type Terminator struct {
	table   ProcessTable
	killer  Killer
	timeout time.Duration
	self    int32
	log     *slog.Logger
}

// Option customizes a Terminator.
type Option func(*Terminator)

// WithTable swaps the process-table strategy.
func WithTable(t ProcessTable) Option { return func(x *Terminator) { x.table = t } }

// WithKiller swaps the kill primitive.
func WithKiller(k Killer) Option { return func(x *Terminator) { x.killer = k } }

// WithTimeout sets the bound applied to each sub-operation.
func WithTimeout(d time.Duration) Option {
	return func(x *Terminator) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(x *Terminator) {
		if l != nil {
			x.log = l
		}
	}
}

// New returns a Terminator backed by the live system tables by default.
func New(opts ...Option) *Terminator {
	t := &Terminator{
		table:   SystemTable{},
		killer:  signalKiller{},
		timeout: DefaultTimeout,
		self:    int32(os.Getpid()),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Terminate kills every process matched by target together with its full
// descendant tree. No match is not an error, and a failure on one process
// does not stop the others. Every failure is logged, never returned.
func (t *Terminator) Terminate(ctx context.Context, target Target) Outcome {
	out := Outcome{Target: target}
	name := target.String()
	metrics.IncTermination(name)
	log := t.log.With("target", name)

	if err := target.Validate(); err != nil {
		log.Warn("invalid termination target", "error", err)
		return out
	}

	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	procs, roots, err := t.resolve(rctx, target)
	cancel()
	if err != nil {
		log.Warn("resolving termination target failed", "error", err)
		if len(roots) == 0 {
			return out
		}
	}
	out.Matched = roots
	if len(roots) == 0 {
		log.Debug("no process matched")
		return out
	}

	children := childrenOf(procs)
	done := make(map[int32]bool)
	for _, root := range roots {
		kctx, cancel := context.WithTimeout(ctx, t.timeout)
		out.Killed += t.killTree(kctx, log, root, children, done)
		cancel()
	}
	metrics.AddKilled(name, out.Killed)
	log.Info("terminated", "matched", roots, "killed", out.Killed)
	return out
}

// resolve returns the process snapshot and the deduplicated, sorted root PIDs
// for target. The snapshot is also used to walk descendants.
func (t *Terminator) resolve(ctx context.Context, target Target) ([]ProcInfo, []int32, error) {
	procs, procErr := t.table.Processes(ctx)
	seen := make(map[int32]bool)
	var roots []int32
	add := func(pid int32) {
		if pid <= 0 || pid == t.self || seen[pid] {
			return
		}
		seen[pid] = true
		roots = append(roots, pid)
	}

	switch target.Kind {
	case KindPort:
		ls, err := t.table.Listeners(ctx)
		if err != nil {
			return procs, nil, err
		}
		for _, l := range ls {
			if l.Port == target.Port {
				add(l.PID)
			}
		}
	default:
		for _, p := range procs {
			if target.matches(p) {
				add(p.PID)
			}
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return procs, roots, procErr
}

// killTree kills root first, so it cannot spawn replacements, then every
// descendant breadth-first. It returns how many kills succeeded.
func (t *Terminator) killTree(ctx context.Context, log *slog.Logger, root int32, children map[int32][]int32, done map[int32]bool) int {
	killed := 0
	queue := []int32{root}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			log.Warn("tree termination timed out", "root", root, "remaining", len(queue))
			return killed
		}
		pid := queue[0]
		queue = queue[1:]
		if done[pid] || pid == t.self {
			continue
		}
		done[pid] = true
		queue = append(queue, children[pid]...)

		if err := t.killer.Kill(pid); err != nil {
			log.Debug("kill failed", "pid", pid, "error", err)
			continue
		}
		killed++
	}
	if gk, ok := t.killer.(groupKiller); ok {
		if err := gk.KillGroup(root); err != nil {
			log.Debug("group kill failed", "pgid", root, "error", err)
		}
	}
	return killed
}

// childrenOf indexes a process snapshot by parent PID.
func childrenOf(procs []ProcInfo) map[int32][]int32 {
	m := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		if p.PPID == p.PID {
			continue
		}
		m[p.PPID] = append(m[p.PPID], p.PID)
	}
	return m
}
