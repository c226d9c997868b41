package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Shutdown states. ShuttingDown is entered exactly once; later triggers
// are ignored.
const (
	StateRunning int32 = iota
	StateShuttingDown
	StateStopped
)

// defaultCloseWindow bounds the graceful close of open connections. A slow
// peer never blocks shutdown.
const defaultCloseWindow = 5 * time.Second

type socketCloser interface {
	StopAccepting()
	CloseConnections(window time.Duration)
}

type sessionSweeper interface {
	EmergencyShutdownAll() error
}

type lockReleaser interface {
	Release() error
}

// ShutdownCoordinator owns the teardown state machine. Signals, the
// explicit stop command, and panic recovery all funnel into Trigger; the
// state machine, not the caller, owns the transition logic, so every exit
// path runs the same ordered steps and the lock is always released.
type ShutdownCoordinator struct {
	state        atomic.Int32
	log          *logrus.Entry
	sockets      socketCloser
	sessions     sessionSweeper
	lock         lockReleaser
	cancelHealth func()
	closeWindow  time.Duration
	exit         func(code int)
	done         chan struct{}
}

func NewShutdownCoordinator(sockets socketCloser, sessions sessionSweeper, lock lockReleaser, cancelHealth func(), exit func(int), log *logrus.Entry) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		log:          log,
		sockets:      sockets,
		sessions:     sessions,
		lock:         lock,
		cancelHealth: cancelHealth,
		closeWindow:  defaultCloseWindow,
		exit:         exit,
		done:         make(chan struct{}),
	}
}

// State returns the current machine state.
func (c *ShutdownCoordinator) State() int32 {
	return c.state.Load()
}

// Done is closed once teardown has completed.
func (c *ShutdownCoordinator) Done() <-chan struct{} {
	return c.done
}

// Trigger runs the ordered teardown: stop accepting, close open
// connections, sweep debug sessions, release the lock, exit 0. Re-entrant
// triggers (a second signal, a duplicate stop command) are no-ops. A
// failure or panic in the early steps never prevents the lock release.
func (c *ShutdownCoordinator) Trigger(reason string) {
	if !c.state.CompareAndSwap(StateRunning, StateShuttingDown) {
		c.log.WithField("reason", reason).Debug("Shutdown already in progress, ignoring trigger")
		return
	}
	c.log.WithField("reason", reason).Info("Shutting down")

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithField("panic", r).Error("Panic during teardown, continuing to lock release")
			}
		}()

		if c.cancelHealth != nil {
			c.cancelHealth()
		}
		c.sockets.StopAccepting()
		c.sockets.CloseConnections(c.closeWindow)
		if err := c.sessions.EmergencyShutdownAll(); err != nil {
			c.log.WithError(err).Warn("Session teardown failed, continuing shutdown")
		}
	}()

	if err := c.lock.Release(); err != nil {
		c.log.WithError(err).Error("Failed to release instance lock")
	}

	c.state.Store(StateStopped)
	close(c.done)
	c.log.Info("Shutdown complete")
	c.exit(0)
}
