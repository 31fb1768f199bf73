package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/clawpanel/internal/logger"
)

// shellMeta lists characters that require the argument string to be run by a shell.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// Spec describes a launch request. It is consumed once by Launch and never retained.
type Spec struct {
	Name       string            `json:"name"`
	Executable string            `json:"executable"`
	Args       string            `json:"args"`               // argument string, split on whitespace unless it needs a shell
	Env        map[string]string `json:"env,omitempty"`      // overlay applied on top of the global environment
	WorkDir    string            `json:"work_dir,omitempty"` // optional working dir
	Log        logger.Config     `json:"-"`                  // optional stdout/stderr capture
}

// BuildCommand constructs an *exec.Cmd for the spec.
// It avoids invoking a shell when not necessary; when Args contains shell
// metacharacters the whole line is handed to the platform shell.
func (s Spec) BuildCommand() *exec.Cmd {
	exe := strings.TrimSpace(s.Executable)
	args := strings.TrimSpace(s.Args)
	if strings.ContainsAny(args, shellMeta) {
		return getShellCommand(quoteForShell(exe) + " " + args)
	}
	// ok: intentional execution of a configured service executable
	// #nosec G204
	return exec.Command(exe, strings.Fields(args)...)
}

// CommandLine renders the spec as a single line for logs.
func (s Spec) CommandLine() string {
	if strings.TrimSpace(s.Args) == "" {
		return s.Executable
	}
	return s.Executable + " " + strings.TrimSpace(s.Args)
}
