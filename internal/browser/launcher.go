package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// readyTimeout is how long a freshly launched browser gets to open its
// debug port.
const readyTimeout = 10 * time.Second

// Handle is a running (or attached-to) debuggable browser.
type Handle struct {
	Port       int
	WSEndpoint string

	cmd *exec.Cmd
	log *logrus.Entry
}

// Attached reports whether the browser was already running when we found
// it. Attached browsers are never killed on teardown — we do not own them.
func (h *Handle) Attached() bool {
	return h.cmd == nil
}

// PID returns the browser process id, or 0 for attached browsers.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stop terminates a launched browser: cooperative signal to the process
// group, a bounded wait, then the forceful kill. A no-op for attached
// browsers.
func (h *Handle) Stop() error {
	if h.Attached() {
		return nil
	}
	pid := h.PID()
	if pid == 0 {
		return nil
	}

	h.log.WithField("pid", pid).Debug("Stopping browser process group")
	terminateTree(pid)

	done := make(chan struct{})
	go func() {
		h.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.log.WithField("pid", pid).Warn("Browser ignored termination signal, killing forcefully")
		killTree(pid)
	}
	return nil
}

// Launcher starts debuggable browser instances for the session layer.
type Launcher struct {
	binary string
	log    *logrus.Entry
}

// NewLauncher builds a launcher. An empty binary means discover one on the
// system.
func NewLauncher(binary string, log *logrus.Entry) *Launcher {
	return &Launcher{binary: binary, log: log}
}

// Launch makes a debuggable browser available on the port. If something
// already answers the DevTools surface there, it attaches instead of
// launching a duplicate. Otherwise it starts the browser in its own process
// group with an isolated profile and waits for the debug port to open.
func (l *Launcher) Launch(port int, profileDir string) (*Handle, error) {
	if info, err := Version(port); err == nil && info.WebSocketDebuggerURL != "" {
		l.log.WithField("port", port).Info("Attaching to already-running debuggable browser")
		l.foregroundFirstPage(port)
		return &Handle{Port: port, WSEndpoint: info.WebSocketDebuggerURL, log: l.log}, nil
	}

	bin := l.binary
	if bin == "" {
		bin = FindBinary()
	}
	if bin == "" {
		return nil, fmt.Errorf("no browser binary found on this system")
	}

	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}

	cmd := exec.Command(bin,
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir="+profileDir,
		"--no-first-run",
		"--no-default-browser-check",
	)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"port": port,
	}).Info("Launched browser with remote debugging")

	handle := &Handle{Port: port, cmd: cmd, log: l.log}

	ws, err := WaitReady(port, readyTimeout)
	if err != nil {
		handle.Stop()
		return nil, err
	}
	handle.WSEndpoint = ws
	return handle, nil
}

// foregroundFirstPage activates the first page target of an attached
// browser so the session the caller is about to use is visible. Best
// effort.
func (l *Launcher) foregroundFirstPage(port int) {
	targets, err := ListTargets(port)
	if err != nil {
		return
	}
	for _, target := range targets {
		if target.Type != "page" {
			continue
		}
		if err := ActivateTarget(port, target.ID); err != nil {
			l.log.WithError(err).WithField("target", target.ID).Debug("Could not activate browser target")
		}
		return
	}
}

// FindBinary locates a Chrome/Chromium executable: PATH candidates first,
// then the macOS app bundles that are not usually on PATH.
func FindBinary() string {
	pathCandidates := []string{
		"google-chrome-stable",
		"google-chrome",
		"chromium-browser",
		"chromium",
	}
	for _, name := range pathCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	if runtime.GOOS == "darwin" {
		macPaths := []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
		for _, p := range macPaths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	return ""
}

// CleanupStaleProfiles removes leftover browser singleton lock files from
// per-session profiles, so a crashed previous run cannot block new
// launches.
func CleanupStaleProfiles(profileRoot string, log *logrus.Entry) {
	entries, err := os.ReadDir(profileRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
			lockPath := filepath.Join(profileRoot, entry.Name(), name)
			if _, err := os.Lstat(lockPath); err == nil {
				if err := os.Remove(lockPath); err != nil {
					log.WithError(err).WithField("path", lockPath).Warn("Failed to remove stale browser lock")
				} else {
					log.WithField("path", lockPath).Info("Cleaned up stale browser lock")
				}
			}
		}
	}
}
