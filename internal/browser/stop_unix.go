//go:build !windows

package browser

import "syscall"

// terminateTree signals the whole process group cooperatively.
func terminateTree(pid int) {
	syscall.Kill(-pid, syscall.SIGTERM)
}

// killTree ends the whole process group immediately.
func killTree(pid int) {
	syscall.Kill(-pid, syscall.SIGKILL)
}
