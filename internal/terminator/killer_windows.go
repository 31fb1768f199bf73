//go:build windows

package terminator

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const PROCESS_TERMINATE = 0x0001

// signalKiller terminates processes with TerminateProcess.
type signalKiller struct{}

// Kill terminates pid. If the process cannot be opened it has most likely
// exited already, which counts as success.
func (signalKiller) Kill(pid int32) error {
	if pid <= 0 {
		return nil
	}
	ret, _, _ := procOpenProcess.Call(uintptr(PROCESS_TERMINATE), 0, uintptr(pid))
	if ret == 0 {
		return nil
	}
	handle := syscall.Handle(ret)
	defer func() { _, _, _ = procCloseHandle.Call(uintptr(handle)) }()

	ok, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ok == 0 {
		return err
	}
	return nil
}
