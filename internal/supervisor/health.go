package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/internal/session"
)

type socketProbe interface {
	Healthy() bool
	ConnCount() int
	Restart() error
}

type sessionProbe interface {
	Sessions() []session.DebugSession
	RequestSession(purpose, persona string) (session.DebugSession, error)
}

// HealthSnapshot is the latest health cycle's result. Only the most
// recent snapshot is kept.
type HealthSnapshot struct {
	Timestamp             time.Time `json:"timestamp"`
	SocketLayerOK         bool      `json:"socket_layer_ok"`
	BrowserReachable      bool      `json:"browser_reachable"`
	ActiveConnectionCount int       `json:"active_connection_count"`
}

// HealthMonitor runs periodic health cycles against the socket layer and
// the active debug sessions. A degraded socket layer is restarted in
// place; a failing cycle never takes the service down.
type HealthMonitor struct {
	interval   time.Duration
	sockets    socketProbe
	sessions   sessionProbe
	reachable  func(port int) bool
	idlePolicy bool
	log        *logrus.Entry

	busy     atomic.Bool
	snapshot atomic.Pointer[HealthSnapshot]
	stop     chan struct{}
	stopOnce sync.Once
}

func NewHealthMonitor(interval time.Duration, sockets socketProbe, sessions sessionProbe, reachable func(port int) bool, autoLaunchOnIdle bool, log *logrus.Entry) *HealthMonitor {
	return &HealthMonitor{
		interval:   interval,
		sockets:    sockets,
		sessions:   sessions,
		reachable:  reachable,
		idlePolicy: autoLaunchOnIdle,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Start launches the periodic cycle loop. An immediate first cycle runs
// before the ticker settles into the interval.
func (m *HealthMonitor) Start() {
	go func() {
		m.RunCycle()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunCycle()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop cancels the cycle loop. Idempotent.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Snapshot returns the most recent cycle result, or nil before the first
// cycle completes.
func (m *HealthMonitor) Snapshot() *HealthSnapshot {
	return m.snapshot.Load()
}

// RunCycle performs one health check. If a previous cycle is still in
// flight the call is skipped rather than queued, so a hung check cannot
// pile up. Panics are contained to the cycle.
func (m *HealthMonitor) RunCycle() {
	if !m.busy.CompareAndSwap(false, true) {
		m.log.Debug("Previous health cycle still running, skipping")
		return
	}
	defer m.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("Health cycle panicked")
		}
	}()

	snap := HealthSnapshot{Timestamp: time.Now().UTC()}

	if !m.sockets.Healthy() {
		m.log.Warn("Socket layer degraded, restarting in place")
		if err := m.sockets.Restart(); err != nil {
			m.log.WithError(err).Error("Socket layer restart failed")
		} else {
			m.log.Info("Socket layer restarted")
		}
	}
	snap.SocketLayerOK = m.sockets.Healthy()
	snap.ActiveConnectionCount = m.sockets.ConnCount()

	active := m.sessions.Sessions()
	for _, s := range active {
		if s.Status != session.StatusActive {
			continue
		}
		if m.reachable(s.Port) {
			snap.BrowserReachable = true
		} else {
			m.log.WithFields(logrus.Fields{
				"session_id": s.ID,
				"port":       s.Port,
			}).Warn("Debug session browser not answering")
		}
	}

	if snap.ActiveConnectionCount == 0 && len(active) == 0 {
		if m.idlePolicy {
			if _, err := m.sessions.RequestSession("workspace", "system"); err != nil {
				m.log.WithError(err).Warn("Idle browser launch failed")
			} else {
				snap.BrowserReachable = true
			}
		} else {
			m.log.Debug("No clients and no sessions; idle browser launch disabled by policy")
		}
	}

	m.snapshot.Store(&snap)
}
