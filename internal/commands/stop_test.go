package commands

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/lockfile"
)

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	return pid
}

func TestWaitDead(t *testing.T) {
	assert.True(t, waitDead(deadPID(t), time.Second))
	assert.False(t, waitDead(os.Getpid(), 300*time.Millisecond))
}

func TestClearLockForOnlyRemovesMatchingPid(t *testing.T) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	mgr := lockfile.NewManager(t.TempDir(), log.WithField("component", "lockfile"))

	require.NoError(t, mgr.Commit("test"))

	// A different pid leaves the lock alone.
	clearLockFor(mgr, os.Getpid()+1)
	lock, err := mgr.Read()
	require.NoError(t, err)
	require.NotNil(t, lock)

	clearLockFor(mgr, os.Getpid())
	lock, err = mgr.Read()
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestStopWithNoInstance(t *testing.T) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	mgr := lockfile.NewManager(t.TempDir(), log.WithField("component", "lockfile"))

	// Nothing to stop is a clean no-op.
	require.NoError(t, stopInstance(mgr))
}
