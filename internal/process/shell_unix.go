//go:build !windows

package process

import (
	"os/exec"
	"strings"
)

// getShellCommand returns a shell command for Unix systems
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// quoteForShell single-quotes s unless it is a plain word.
func quoteForShell(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t"+shellMeta) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
