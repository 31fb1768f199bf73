//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr detaches the child: a new session (setsid) takes it out
// of our process group and controlling terminal, so it survives our exit and
// leads a group that the terminator can signal as a whole.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
