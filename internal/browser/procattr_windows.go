//go:build windows

package browser

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
