//go:build windows

package process

import (
	"os/exec"
	"strings"
)

// getShellCommand returns a shell command for Windows systems
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// quoteForShell double-quotes s when it contains spaces, e.g. "C:\Program Files\ngrok.exe".
func quoteForShell(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t") {
		return s
	}
	return `"` + s + `"`
}
