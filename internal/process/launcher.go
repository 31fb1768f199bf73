package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/clawpanel/internal/env"
	"github.com/loykin/clawpanel/internal/metrics"
)

// Launcher starts services detached from the supervisor. Launch is
// fire-and-forget: whether the service came up is observed by the next probe,
// never by the launch call itself.
type Launcher struct {
	env *env.Env
	log *slog.Logger
}

// NewLauncher returns a Launcher composing child environments from e.
// Nil arguments fall back to an OS-only environment and slog.Default().
func NewLauncher(e *env.Env, log *slog.Logger) *Launcher {
	if e == nil {
		e = env.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{env: e, log: log}
}

// Launch starts spec and returns immediately. Failures such as a missing
// executable or a denied spawn are logged and counted, not returned.
func (l *Launcher) Launch(spec Spec) {
	cmd, err := l.start(spec)
	if err != nil {
		metrics.IncLaunchFailure(spec.Name)
		l.log.Warn("launch failed", "service", spec.Name, "command", spec.CommandLine(), "error", err)
		return
	}
	metrics.IncLaunch(spec.Name)
	l.log.Info("launched", "service", spec.Name, "command", spec.CommandLine(), "pid", cmd.Process.Pid)
	go l.reap(spec.Name, cmd)
}

// start builds, configures and starts the command without waiting for it.
// The child inherits its output descriptors directly; our copies are closed
// once it runs.
func (l *Launcher) start(spec Spec) (*exec.Cmd, error) {
	if strings.TrimSpace(spec.Executable) == "" {
		return nil, fmt.Errorf("service %s: empty executable", spec.Name)
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = l.env.Merge(spec.Env)
	configureSysProcAttr(cmd)

	files, err := configureOutput(cmd, spec)
	if err != nil {
		return nil, err
	}
	defer closeAll(files)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// configureOutput points stdout/stderr at the service's log files when
// configured and at the null device otherwise. Both are *os.File so the child
// owns the descriptors and keeps writing after the supervisor exits.
func configureOutput(cmd *exec.Cmd, spec Spec) ([]*os.File, error) {
	outF, errF, err := spec.Log.File.ServiceFiles(spec.Name)
	if err != nil {
		return nil, err
	}
	files := uniqueFiles(outF, errF)
	if outF == nil || errF == nil {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			closeAll(files)
			return nil, err
		}
		files = append(files, null)
		if outF == nil {
			outF = null
		}
		if errF == nil {
			errF = null
		}
	}
	cmd.Stdout, cmd.Stderr = outF, errF
	return files, nil
}

func uniqueFiles(a, b *os.File) []*os.File {
	var out []*os.File
	if a != nil {
		out = append(out, a)
	}
	if b != nil && b != a {
		out = append(out, b)
	}
	return out
}

// reap waits for the child so it never lingers as a zombie while we run.
// The PID is not kept anywhere: stopping always rediscovers the process.
func (l *Launcher) reap(name string, cmd *exec.Cmd) {
	if err := cmd.Wait(); err != nil {
		l.log.Debug("service process exited", "service", name, "pid", cmd.Process.Pid, "error", err)
		return
	}
	l.log.Debug("service process exited", "service", name, "pid", cmd.Process.Pid)
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
