package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/lockfile"
	"github.com/wardenhq/warden/internal/wsserver"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Port = freePort(t)
	cfg.Browser.ProfileRoot = t.TempDir()
	// Keep the periodic cycle out of the way; cycles under test are invoked
	// directly.
	cfg.Health.IntervalSeconds = 3600

	log := logrus.New()
	log.SetOutput(os.Stderr)

	s := New(cfg, dir, "test-version", log)
	s.exit = func(code int) {}
	t.Cleanup(func() { s.server.Shutdown(time.Second) })
	return s, dir
}

func TestRunServesUntilStopCommand(t *testing.T) {
	s, dir := newTestSupervisor(t)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(0, false) }()

	statusURL := fmt.Sprintf("http://127.0.0.1:%d/control/status", s.cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "control surface must come up")

	// The lock names this process and was committed after the bind.
	mgr := lockfile.NewManager(dir, logrus.NewEntry(logrus.New()))
	lock, err := mgr.Read()
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.Equal(t, "test-version", lock.Version)

	resp, err := http.Get(statusURL)
	require.NoError(t, err)
	var status wsserver.StatusReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, s.cfg.Port, status.Port)
	assert.True(t, status.SocketOK)

	body, err := json.Marshal(wsserver.Command{
		Type: wsserver.CmdStop,
		Stop: &wsserver.StopCommand{Reason: "test teardown"},
	})
	require.NoError(t, err)
	resp, err = http.Post(fmt.Sprintf("http://127.0.0.1:%d/control", s.cfg.Port),
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after stop command")
	}

	lock, err = mgr.Read()
	require.NoError(t, err)
	assert.Nil(t, lock, "lock must be released on shutdown")
}

func TestRunStayAliveYieldsToLiveInstance(t *testing.T) {
	s, dir := newTestSupervisor(t)

	// A live instance: the lock names this very process.
	mgr := lockfile.NewManager(dir, logrus.NewEntry(logrus.New()))
	require.NoError(t, mgr.Commit("prior-version"))

	err := s.Run(0, true)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	lock, readErr := mgr.Read()
	require.NoError(t, readErr)
	require.NotNil(t, lock, "the prior instance's lock must be left untouched")
	assert.Equal(t, "prior-version", lock.Version)
}

func TestControlHandlerSafeDuringStartup(t *testing.T) {
	s, _ := newTestSupervisor(t)

	// The control surface can receive requests the moment the listener is
	// up; hammer the handler while Run is still wiring the instance.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.StatusSnapshot()
			s.RequestShutdown("concurrent with startup")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(0, false) }()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after shutdown trigger")
	}
	close(stop)
	wg.Wait()
}

func TestRequestShutdownBeforeStartupIsSafe(t *testing.T) {
	s, _ := newTestSupervisor(t)
	assert.NotPanics(t, func() { s.RequestShutdown("early") })
}

func TestControlSessionSurfaceWiredToRegistry(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	// A binary that cannot start: the registry path is exercised up to the
	// launch failure and must not leave residue.
	cfg.Browser.Binary = "/nonexistent/browser"
	cfg.Browser.ProfileRoot = t.TempDir()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	s := New(cfg, dir, "test-version", log)
	s.exit = func(code int) {}

	_, err := s.RequestSession("workspace", "system")
	require.Error(t, err)
	assert.Zero(t, s.sessions.Count())

	require.NoError(t, s.TeardownSession("no-such-id"))
}
