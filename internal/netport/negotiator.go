// Package netport finds and, when necessary, reclaims listening ports. It
// can evict a prior instance of this same service (graceful signal, bounded
// wait, forceful fallback) and falls back to sequential discovery when the
// preferred port is held by somebody else's process.
package netport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/procutil"
)

var (
	// ErrPortExhausted means no free port was found within the attempt budget.
	ErrPortExhausted = errors.New("no free port found within attempt budget")
	// ErrConflict means a prior instance is live and policy forbids
	// disturbing it (stay-alive semantics).
	ErrConflict = errors.New("port held by an existing instance")
)

const (
	// discoveryAttempts bounds sequential discovery past the preferred port.
	discoveryAttempts = 100
	// graceWindow is how long a replaced instance gets to exit after the
	// cooperative signal, before the forceful kill.
	graceWindow = 5 * time.Second
	// killWindow bounds the wait after the forceful kill.
	killWindow = 1 * time.Second
	pollEvery  = 250 * time.Millisecond
)

// Negotiator secures ports on one host.
type Negotiator struct {
	host string
	log  *logrus.Entry

	// test seams
	attempts  int
	grace     time.Duration
	alive     func(pid int) bool
	terminate func(pid int) error
	forceKill func(pid int) error
}

func NewNegotiator(host string, log *logrus.Entry) *Negotiator {
	return &Negotiator{
		host:      host,
		log:       log,
		attempts:  discoveryAttempts,
		grace:     graceWindow,
		alive:     procutil.Alive,
		terminate: procutil.Terminate,
		forceKill: procutil.ForceKill,
	}
}

// Probe reports whether a port is free by attempting a transient bind and
// releasing it immediately.
func Probe(host string, port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// SecurePort returns a bindable port, starting from preferred.
//
// A live prior instance of this service (identified through the recorded
// lock) is evicted first — whichever port it actually bound, it must not
// outlive the new instance: SIGTERM, up to 5s of polling for the process
// to exit, then SIGKILL. With stayAlive set, eviction is disabled entirely
// and a live prior instance yields ErrConflict. After that, a free
// preferred port is returned as-is; a foreign occupant triggers sequential
// discovery (preferred+1, +2, … up to 100 attempts).
func (n *Negotiator) SecurePort(preferred int, prior *lockfile.Lock, stayAlive bool) (int, error) {
	if prior != nil && n.alive(prior.PID) {
		if stayAlive {
			return 0, fmt.Errorf("%w (pid %d)", ErrConflict, prior.PID)
		}
		if err := n.evict(prior.PID); err != nil {
			return 0, err
		}
	}

	if Probe(n.host, preferred) {
		return preferred, nil
	}
	return n.discover(preferred)
}

// evict replaces the prior instance: cooperative signal first, forceful
// kill once the grace window expires.
func (n *Negotiator) evict(pid int) error {
	n.log.WithField("pid", pid).Info("Replacing prior instance")

	if err := n.terminate(pid); err != nil {
		return fmt.Errorf("signal prior instance: %w", err)
	}
	if n.waitDead(pid, n.grace) {
		return nil
	}

	n.log.WithField("pid", pid).Warn("Prior instance ignored termination signal, killing forcefully")
	if err := n.forceKill(pid); err != nil {
		return fmt.Errorf("kill prior instance: %w", err)
	}
	if n.waitDead(pid, killWindow) {
		return nil
	}
	return fmt.Errorf("prior instance %d still alive after forceful kill", pid)
}

// waitDead polls until the process is gone or the deadline passes.
func (n *Negotiator) waitDead(pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !n.alive(pid) {
			return true
		}
		time.Sleep(pollEvery)
	}
	return !n.alive(pid)
}

func (n *Negotiator) discover(preferred int) (int, error) {
	for i := 1; i <= n.attempts; i++ {
		candidate := preferred + i
		if candidate > 65535 {
			break
		}
		if Probe(n.host, candidate) {
			n.log.WithFields(logrus.Fields{
				"preferred": preferred,
				"port":      candidate,
			}).Info("Preferred port occupied, discovered free port")
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w (tried %d-%d)", ErrPortExhausted, preferred, preferred+n.attempts)
}
