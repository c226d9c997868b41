// Package supervisor wires the instance lock, port negotiation, socket
// layer, session registry, and health monitoring into one long-running
// service process.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/internal/browser"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/netport"
	"github.com/wardenhq/warden/internal/session"
	"github.com/wardenhq/warden/internal/wsserver"
)

// ErrAlreadyRunning means a live instance holds the lock and stay-alive
// policy forbids replacing it. Callers treat this as success: the service
// the user asked for is running.
var ErrAlreadyRunning = errors.New("instance already running")

// launcherAdapter narrows *browser.Launcher to the session layer's
// interface.
type launcherAdapter struct {
	l *browser.Launcher
}

func (a launcherAdapter) Launch(port int, profileDir string) (session.Browser, error) {
	h, err := a.l.Launch(port, profileDir)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Supervisor is the running instance.
type Supervisor struct {
	cfg     *config.Config
	dir     string
	version string
	log     *logrus.Logger

	lock       *lockfile.Manager
	negotiator *netport.Negotiator
	server     *wsserver.Server
	sessions   *session.Coordinator
	health     *HealthMonitor
	shutdown   *ShutdownCoordinator

	// exit is a seam so tests can observe the exit instead of dying.
	exit func(code int)

	boundPort int
}

func New(cfg *config.Config, dir, version string, log *logrus.Logger) *Supervisor {
	launcher := browser.NewLauncher(cfg.Browser.Binary, logging.Component(log, "browser"))
	allocator := netport.NewAllocator(cfg.Host, cfg.Browser.SessionBasePort)

	s := &Supervisor{
		cfg:        cfg,
		dir:        dir,
		version:    version,
		log:        log,
		lock:       lockfile.NewManager(dir, logging.Component(log, "lockfile")),
		negotiator: netport.NewNegotiator(cfg.Host, logging.Component(log, "netport")),
		server:     wsserver.NewServer(cfg.Host, logging.Component(log, "wsserver")),
		sessions: session.NewCoordinator(allocator, launcherAdapter{launcher},
			cfg.Browser.ProfileRoot, logging.Component(log, "session")),
		exit: os.Exit,
	}
	s.health = NewHealthMonitor(cfg.Health.Interval(), s.server, s.sessions,
		browser.Reachable, cfg.Browser.AutoLaunchOnIdle, logging.Component(log, "health"))
	return s
}

// Port returns the bound service port, 0 before Run succeeds.
func (s *Supervisor) Port() int {
	return s.boundPort
}

// Run brings the instance up and blocks until shutdown: lock validation,
// port negotiation, socket bind, lock commit, then signal handling and
// health monitoring. With stayAlive set, a live prior instance is left
// untouched and ErrAlreadyRunning is returned.
func (s *Supervisor) Run(preferredPort int, stayAlive bool) error {
	browser.CleanupStaleProfiles(s.cfg.Browser.ProfileRoot, logging.Component(s.log, "browser"))

	prior, err := s.lock.Acquire()
	if err != nil && !errors.Is(err, lockfile.ErrConflict) {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if errors.Is(err, lockfile.ErrConflict) && stayAlive {
		s.log.WithFields(logrus.Fields{
			"pid":     prior.PID,
			"version": prior.Version,
		}).Info("Instance already running, leaving it in place")
		return ErrAlreadyRunning
	}

	preferred := preferredPort
	if preferred <= 0 {
		preferred = s.cfg.Port
	}
	port, err := s.negotiator.SecurePort(preferred, prior, stayAlive)
	if err != nil {
		if errors.Is(err, netport.ErrConflict) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("secure service port: %w", err)
	}

	// Everything the control handler reads must be in place before the
	// listener goes live: handler goroutines access these fields without
	// locks.
	s.boundPort = port
	s.shutdown = NewShutdownCoordinator(s.server, s.sessions, s.lock,
		s.health.Stop, s.exit, logging.Component(s.log, "shutdown"))

	s.server.SetControlHandler(s)
	if err := s.server.Start(port); err != nil {
		return err
	}
	// The lock is committed only after the bind succeeds, so a lock on disk
	// always names an instance that actually owns a port.
	if err := s.lock.Commit(s.version); err != nil {
		s.server.Shutdown(0)
		return fmt.Errorf("commit instance lock: %w", err)
	}

	s.installSignalHandler()
	s.health.Start()

	s.log.WithFields(logrus.Fields{
		"port":    port,
		"pid":     os.Getpid(),
		"version": s.version,
	}).Info("Instance running")

	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("Unrecovered panic, shutting down")
			s.shutdown.Trigger(fmt.Sprintf("panic: %v", r))
		}
	}()

	<-s.shutdown.Done()
	return nil
}

// RequestShutdown routes into the shutdown coordinator. Safe before Run
// completes startup.
func (s *Supervisor) RequestShutdown(reason string) {
	if s.shutdown != nil {
		s.shutdown.Trigger(reason)
	}
}

func (s *Supervisor) installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-ch
		s.shutdown.Trigger(fmt.Sprintf("signal: %s", sig))
	}()
}

// RequestStop implements wsserver.ControlHandler.
func (s *Supervisor) RequestStop(reason string) {
	s.RequestShutdown(reason)
}

// StatusSnapshot implements wsserver.ControlHandler.
func (s *Supervisor) StatusSnapshot() wsserver.StatusReply {
	reply := wsserver.StatusReply{
		PID:         os.Getpid(),
		Version:     s.version,
		Port:        s.boundPort,
		SocketOK:    s.server.Healthy(),
		Connections: s.server.ConnCount(),
		Sessions:    s.sessions.Sessions(),
	}
	if snap := s.health.Snapshot(); snap != nil {
		reply.BrowserReachable = snap.BrowserReachable
		reply.CheckedAt = snap.Timestamp
	}
	return reply
}

// RequestSession implements wsserver.ControlHandler.
func (s *Supervisor) RequestSession(purpose, persona string) (session.DebugSession, error) {
	return s.sessions.RequestSession(purpose, persona)
}

// TeardownSession implements wsserver.ControlHandler.
func (s *Supervisor) TeardownSession(sessionID string) error {
	return s.sessions.Teardown(sessionID)
}
