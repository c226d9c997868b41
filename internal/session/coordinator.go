// Package session multiplexes requests for debug-capable browser sessions.
// Callers sharing a (purpose, persona) key reuse one launched browser;
// callers needing isolated identity get their own. The registry is the
// exclusive owner of all session state.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrLaunchFailure wraps browser-launch errors. It is surfaced to the
// requesting caller only and never affects other sessions.
var ErrLaunchFailure = errors.New("browser session launch failed")

// Status is a session's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
)

// DebugSession is one allocated debug port plus its browser target, scoped
// to a (purpose, persona) key.
type DebugSession struct {
	ID             string    `json:"session_id"`
	Purpose        string    `json:"purpose"`
	Persona        string    `json:"persona"`
	Port           int       `json:"port"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Browser is the handle the coordinator owns for a launched (or attached)
// browser.
type Browser interface {
	Stop() error
}

// Launcher starts or attaches to a debuggable browser bound to a port.
type Launcher interface {
	Launch(port int, profileDir string) (Browser, error)
}

// PortSource allocates debug ports from a pool distinct from the main
// service port.
type PortSource interface {
	Next() (int, error)
	Release(port int)
}

// Key identifies a reusable session.
type Key struct {
	Purpose string
	Persona string
}

type record struct {
	session DebugSession
	browser Browser
}

// Coordinator owns the in-memory session registry.
type Coordinator struct {
	mu          sync.Mutex
	byKey       map[Key]*record
	byID        map[string]Key
	ports       PortSource
	launcher    Launcher
	profileRoot string
	log         *logrus.Entry

	// test seams
	now   func() time.Time
	newID func() string
}

func NewCoordinator(ports PortSource, launcher Launcher, profileRoot string, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		byKey:       make(map[Key]*record),
		byID:        make(map[string]Key),
		ports:       ports,
		launcher:    launcher,
		profileRoot: profileRoot,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// RequestSession returns the live session for (purpose, persona), creating
// one if needed. An existing active session is returned unchanged apart
// from its refreshed activity timestamp: identical keys never yield two
// concurrently live sessions. The registry mutex is held from lookup
// through insertion, so simultaneous first-time requests for one key
// cannot race into duplicate launches.
func (c *Coordinator) RequestSession(purpose, persona string) (DebugSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key{Purpose: purpose, Persona: persona}
	if rec, ok := c.byKey[key]; ok && rec.session.Status == StatusActive {
		rec.session.LastActivityAt = c.now()
		c.log.WithFields(logrus.Fields{
			"session_id": rec.session.ID,
			"purpose":    purpose,
			"persona":    persona,
			"port":       rec.session.Port,
		}).Debug("Reusing debug session")
		return rec.session, nil
	}

	port, err := c.ports.Next()
	if err != nil {
		return DebugSession{}, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}

	now := c.now()
	rec := &record{
		session: DebugSession{
			ID:             c.newID(),
			Purpose:        purpose,
			Persona:        persona,
			Port:           port,
			Status:         StatusPending,
			CreatedAt:      now,
			LastActivityAt: now,
		},
	}
	c.byKey[key] = rec
	c.byID[rec.session.ID] = key

	b, err := c.launcher.Launch(port, c.profileDir(key))
	if err != nil {
		delete(c.byKey, key)
		delete(c.byID, rec.session.ID)
		c.ports.Release(port)
		return DebugSession{}, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}

	rec.browser = b
	rec.session.Status = StatusActive
	c.log.WithFields(logrus.Fields{
		"session_id": rec.session.ID,
		"purpose":    purpose,
		"persona":    persona,
		"port":       port,
	}).Info("Created debug session")
	return rec.session, nil
}

// Teardown closes one session: browser handle stopped, port returned to
// the pool, record removed. Safe to call on an unknown or already-closed
// id.
func (c *Coordinator) Teardown(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked(sessionID)
}

func (c *Coordinator) teardownLocked(sessionID string) error {
	key, ok := c.byID[sessionID]
	if !ok {
		return nil
	}
	rec := c.byKey[key]

	var stopErr error
	if rec.browser != nil {
		stopErr = rec.browser.Stop()
	}

	rec.session.Status = StatusClosed
	c.ports.Release(rec.session.Port)
	delete(c.byKey, key)
	delete(c.byID, sessionID)

	if stopErr != nil {
		c.log.WithError(stopErr).WithField("session_id", sessionID).Warn("Browser stop failed during teardown")
		return fmt.Errorf("stop browser for session %s: %w", sessionID, stopErr)
	}
	c.log.WithField("session_id", sessionID).Info("Tore down debug session")
	return nil
}

// EmergencyShutdownAll tears down every session in the registry.
// Best-effort: individual failures are logged and collected, never
// stopping the sweep.
func (c *Coordinator) EmergencyShutdownAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id := range c.byID {
		if err := c.teardownLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions returns a snapshot of all live sessions.
func (c *Coordinator) Sessions() []DebugSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]DebugSession, 0, len(c.byKey))
	for _, rec := range c.byKey {
		out = append(out, rec.session)
	}
	return out
}

// Count returns the number of live sessions.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// profileDir gives each key its own isolated browser profile, so persona
// separation survives browser restarts.
func (c *Coordinator) profileDir(key Key) string {
	return filepath.Join(c.profileRoot, sanitize(key.Purpose)+"-"+sanitize(key.Persona))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
