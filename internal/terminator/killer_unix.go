//go:build !windows

package terminator

import (
	"errors"
	"syscall"
)

// signalKiller hard-kills processes with SIGKILL.
type signalKiller struct{}

// Kill sends SIGKILL to pid. A process that is already gone is not an error.
func (signalKiller) Kill(pid int32) error {
	err := syscall.Kill(int(pid), syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// KillGroup sends SIGKILL to the process group led by pid, if pid leads one.
// It catches descendants that were reparented before the table was read.
func (signalKiller) KillGroup(pid int32) error {
	pgid, err := syscall.Getpgid(int(pid))
	if err != nil || pgid != int(pid) {
		return nil
	}
	err = syscall.Kill(-pgid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
