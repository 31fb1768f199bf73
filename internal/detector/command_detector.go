package detector

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CommandDetector runs a command that should succeed if the service is running.
type CommandDetector struct {
	Command string
	Timeout time.Duration
}

// buildShellAwareCommand constructs an *exec.Cmd for a detector command.
// Avoids invoking a shell unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return getTrueCommand(ctx)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// Detect reports up only on a zero exit status. A missing binary, a non-zero
// exit or a timeout all mean down.
func (d CommandDetector) Detect(ctx context.Context) Result {
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()
	cmd := buildShellAwareCommand(ctx, d.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return Result{Up: cmd.Run() == nil}
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
