//go:build !linux && !windows

package browser

import "syscall"

// sysProcAttr puts the browser in its own process group so teardown can
// signal the whole tree. Pdeathsig is not available off Linux.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
