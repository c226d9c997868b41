// Package lockfile enforces the one-instance-per-working-directory guarantee
// through a durable JSON marker on disk. A lock is only as good as the
// process it names: holders are verified with a liveness probe, never by
// file presence alone.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/internal/procutil"
)

// FileName is the lock file name inside the config directory.
const FileName = "warden.lock"

// ErrConflict is returned by Acquire when another live instance owns the lock.
var ErrConflict = errors.New("another instance is already running")

// Lock is the persisted instance marker.
type Lock struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"startTime"`
	Version   string    `json:"version"`
}

// Manager owns the lock file for one config directory.
type Manager struct {
	path string
	log  *logrus.Entry
}

func NewManager(dir string, log *logrus.Entry) *Manager {
	return &Manager{
		path: filepath.Join(dir, FileName),
		log:  log,
	}
}

// Path returns the lock file location.
func (m *Manager) Path() string {
	return m.path
}

// Read returns the persisted lock, or nil if none exists. A corrupt lock
// file is treated the same as a stale one: reported as nil so the caller
// can reclaim it.
func (m *Manager) Read() (*Lock, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		m.log.WithError(err).Warn("Lock file is corrupt, discarding")
		return nil, nil
	}
	return &lock, nil
}

// Acquire validates the singleton claim. A missing lock means the directory
// is ours. A lock naming a dead process is stale: it is deleted and the
// check retried once. A lock naming a live process is a genuine conflict;
// the prior lock is returned alongside ErrConflict so the caller can decide
// on replacement. Filesystem errors are fatal — without this primitive the
// supervisor cannot safely claim uniqueness.
//
// Acquire does not write anything: the lock is committed only after the
// service port is bound (see Commit).
func (m *Manager) Acquire() (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		prior, err := m.Read()
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, nil
		}
		if procutil.Alive(prior.PID) {
			return prior, ErrConflict
		}

		m.log.WithFields(logrus.Fields{
			"pid":     prior.PID,
			"started": prior.StartTime.Format(time.RFC3339),
		}).Info("Discarding stale lock from dead process")
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, nil
}

// Commit writes this process's lock. Called once the port is bound.
func (m *Manager) Commit(version string) error {
	lock := Lock{
		PID:       os.Getpid(),
		StartTime: time.Now().UTC(),
		Version:   version,
	}
	data, err := json.MarshalIndent(&lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Release deletes the lock file, but only if it still belongs to this
// process — a lagging shutdown must never delete a new owner's lock.
// Idempotent: a second call finds nothing and is a no-op.
func (m *Manager) Release() error {
	lock, err := m.Read()
	if err != nil {
		return err
	}
	if lock == nil || lock.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Status reports whether an instance is currently running, using the same
// liveness probe Acquire uses. File presence alone is never trusted.
func (m *Manager) Status() (bool, *Lock, error) {
	lock, err := m.Read()
	if err != nil {
		return false, nil, err
	}
	if lock == nil {
		return false, nil, nil
	}
	if !procutil.Alive(lock.PID) {
		return false, lock, nil
	}
	return true, lock, nil
}
