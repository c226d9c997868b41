//go:build !windows

package procutil

import (
	"errors"
	"syscall"
)

// Alive reports whether a process with the given pid exists. Signal 0
// performs the existence check without delivering anything; EPERM means the
// process exists but belongs to another user, which still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Terminate asks the process to shut down cooperatively.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// ForceKill ends the process immediately.
func ForceKill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
