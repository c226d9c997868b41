//go:build windows

package browser

import "os"

func terminateTree(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		p.Kill()
	}
}

func killTree(pid int) {
	terminateTree(pid)
}
