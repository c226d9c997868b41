//go:build windows

package procutil

import (
	"os"
	"syscall"
)

// Alive is best-effort on Windows: os.FindProcess succeeds for any pid, so
// probe with a zero signal and treat an error as "gone".
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Terminate has no cooperative equivalent on Windows; fall through to Kill.
func Terminate(pid int) error {
	return ForceKill(pid)
}

func ForceKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
