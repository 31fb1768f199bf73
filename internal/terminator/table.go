package terminator

import (
	"context"

	psnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcInfo is the slice of a process-table entry needed for resolution.
type ProcInfo struct {
	PID     int32
	PPID    int32
	Name    string
	Exe     string
	Cmdline string
}

// Listener is a TCP socket in LISTEN state and its owning process.
type Listener struct {
	PID  int32
	Port int
}

// ProcessTable is the platform capability used to resolve targets.
// Implementations return whatever they can see; entries for processes that
// vanish or deny access mid-enumeration are skipped rather than failing.
type ProcessTable interface {
	Processes(ctx context.Context) ([]ProcInfo, error)
	Listeners(ctx context.Context) ([]Listener, error)
}

// SystemTable reads the live process and socket tables through gopsutil,
// which uses native APIs (procfs, sysctl, Win32) instead of shell tools.
type SystemTable struct{}

func (SystemTable) Processes(ctx context.Context) ([]ProcInfo, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue // exited since enumeration
		}
		info := ProcInfo{PID: p.Pid, PPID: ppid}
		info.Name, _ = p.NameWithContext(ctx)
		info.Exe, _ = p.ExeWithContext(ctx)
		info.Cmdline, _ = p.CmdlineWithContext(ctx)
		out = append(out, info)
	}
	return out, nil
}

func (SystemTable) Listeners(ctx context.Context) ([]Listener, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	out := make([]Listener, 0, len(conns))
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Pid <= 0 {
			continue
		}
		out = append(out, Listener{PID: c.Pid, Port: int(c.Laddr.Port)})
	}
	return out, nil
}
