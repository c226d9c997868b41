package browser

import "syscall"

// sysProcAttr puts the browser in its own process group so teardown can
// signal the whole tree. Pdeathsig is a Linux-only safety net: if the
// supervisor dies unexpectedly, the kernel sends SIGTERM to the browser.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
